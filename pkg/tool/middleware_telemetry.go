package tool

import (
	"time"

	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

// telemetryMiddleware records per-tool counters and durations and logs
// the completion of every call, picking up any panic stack the safety
// middleware left in the call metadata.
func (r *Registry) telemetryMiddleware() Middleware {
	return func(next Executor) Executor {
		return func(execCtx *ExecutionContext) Result {
			if execCtx.StartTime.IsZero() {
				execCtx.StartTime = time.Now()
			}

			res := next(execCtx)

			elapsed := time.Since(execCtx.StartTime)
			status := "success"
			level := logging.LevelDebug
			if !res.Success {
				status = "error"
				level = logging.LevelWarn
			}
			telemetry.RecordToolExecution(execCtx.ToolName, status)
			telemetry.RecordToolDuration(execCtx.ToolName, elapsed)

			details := map[string]any{
				"tool":        execCtx.ToolName,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
			}
			if execCtx.CallID != "" {
				details["call_id"] = execCtx.CallID
			}
			if stack, ok := execCtx.Metadata["panic_stack"]; ok {
				details["panic_stack"] = stack
				level = logging.LevelError
			}
			r.logEvent(level, "tool_executed", "tool "+execCtx.ToolName+" "+status, details)

			return res
		}
	}
}
