package tool

import (
	"fmt"
	"runtime/debug"
)

// PanicRecovery converts a panic inside a tool into a failed Result so
// a misbehaving tool cannot take down the process. The recovered value
// and stack land in the call metadata for the telemetry middleware.
func PanicRecovery() Middleware {
	return func(next Executor) Executor {
		return func(execCtx *ExecutionContext) (res Result) {
			defer func() {
				if r := recover(); r != nil {
					if execCtx.Metadata == nil {
						execCtx.Metadata = map[string]any{}
					}
					execCtx.Metadata["panic_value"] = fmt.Sprintf("%v", r)
					execCtx.Metadata["panic_stack"] = string(debug.Stack())
					res = Result{
						Success: false,
						Output:  fmt.Sprintf("Tool panicked: %v", r),
					}
				}
			}()
			return next(execCtx)
		}
	}
}
