package tool

import (
	"context"
	"time"
)

// ExecutionContext carries one call through the middleware chain.
// Metadata is scratch space middlewares share; the panic recovery
// middleware stashes the stack trace there for telemetry to log.
type ExecutionContext struct {
	Context   context.Context
	ToolName  string
	Tool      Tool
	CallID    string
	Args      map[string]any
	StartTime time.Time
	Metadata  map[string]any
}

// Executor runs one tool call to completion.
type Executor func(*ExecutionContext) Result

// Middleware wraps an Executor with cross-cutting behavior.
type Middleware func(Executor) Executor

// Chain composes middlewares so the first argument is the outermost
// wrapper around the final executor.
func Chain(middlewares ...Middleware) Middleware {
	return func(final Executor) Executor {
		exec := final
		for i := len(middlewares) - 1; i >= 0; i-- {
			exec = middlewares[i](exec)
		}
		return exec
	}
}

// Timeout bounds each call's context. Per-tool overrides win over the
// default; a zero default leaves calls unbounded unless overridden.
func Timeout(defaultTimeout time.Duration, perTool map[string]time.Duration) Middleware {
	return func(next Executor) Executor {
		return func(execCtx *ExecutionContext) Result {
			timeout := defaultTimeout
			if override, ok := perTool[execCtx.ToolName]; ok {
				timeout = override
			}
			if timeout <= 0 {
				return next(execCtx)
			}

			parent := execCtx.Context
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()
			execCtx.Context = ctx

			return next(execCtx)
		}
	}
}
