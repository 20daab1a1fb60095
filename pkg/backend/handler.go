package backend

// StreamHandler receives stream events in arrival order. Content and
// reasoning chunks are passed through unmerged; the caller concatenates.
// OnComplete fires only for the final event, never for plain transport
// completion, and OnError ends the turn.
type StreamHandler interface {
	OnContent(chunk string)
	OnReasoning(chunk string)
	OnBackendTool(name, argsJSON, callID string)
	OnHostTool(sessionID, name, argsJSON, callID string)
	OnToolResult(callID, result string)
	OnCost(amount float64)
	OnComplete()
	OnError(message string)
}

// NopHandler discards every event. Embed it to implement only the
// callbacks a handler cares about.
type NopHandler struct{}

func (NopHandler) OnContent(string) {}

func (NopHandler) OnReasoning(string) {}

func (NopHandler) OnBackendTool(string, string, string) {}

func (NopHandler) OnHostTool(string, string, string, string) {}

func (NopHandler) OnToolResult(string, string) {}

func (NopHandler) OnCost(float64) {}

func (NopHandler) OnComplete() {}

func (NopHandler) OnError(string) {}
