package conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/stagehand-dev/stagehand/pkg/backend"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens with the cl100k_base encoding, falling back to
// a 4-chars-per-token estimate when the encoding data is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return len(text) / 4
}

// CountMessageTokens estimates the prompt size of a history slice, with
// per-message formatting overhead on top of role and content tokens. Tool
// calls count their name and argument payloads.
func CountMessageTokens(messages []backend.Message) int {
	total := 0
	for _, msg := range messages {
		total += 4
		total += CountTokens(msg.Role)
		total += CountTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += CountTokens(call.Function.Name)
			total += CountTokens(call.Function.Arguments)
			total += 10
		}
	}
	return total + 2
}
