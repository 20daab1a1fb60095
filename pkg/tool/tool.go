// Package tool defines the tool abstraction the agent exposes to the
// model and the registry that dispatches calls to it. Tools execute
// synchronously; a call that fails for any reason, including a panic
// inside the tool, surfaces as a Result with Success set to false
// rather than as an error crossing the dispatch boundary.
package tool

import (
	"context"
	"fmt"
)

// Result is the outcome of a single tool invocation. Output carries
// the payload on success and the failure description otherwise.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Tool is a named capability the model can invoke. Execute receives
// the decoded argument object from the model; implementations report
// bad arguments through the Result, not by panicking.
type Tool interface {
	Name() string
	Description() string
	Execute(args map[string]any) Result
}

// ContextTool is implemented by tools whose work should observe
// cancellation, network fetches in particular. The registry prefers
// ExecuteWithContext when the tool provides it.
type ContextTool interface {
	Tool
	ExecuteWithContext(ctx context.Context, args map[string]any) Result
}

// Errorf builds a failed Result from a format string.
func Errorf(format string, args ...any) Result {
	return Result{Success: false, Output: fmt.Sprintf(format, args...)}
}

// Ok builds a successful Result.
func Ok(output string) Result {
	return Result{Success: true, Output: output}
}
