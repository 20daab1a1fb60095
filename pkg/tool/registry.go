package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/pkg/logging"
)

// Registry holds the process's tools and is the single dispatch entry
// point for tool calls. Registration is last-write-wins; dispatching an
// unknown name yields a failed Result, never an error.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	middlewares []Middleware
	executor    Executor
	logger      *logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger attaches the structured logger used for registration
// warnings and per-call telemetry events.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithMiddleware appends middlewares inside the built-in telemetry and
// panic recovery layers.
func WithMiddleware(middlewares ...Middleware) RegistryOption {
	return func(r *Registry) {
		r.middlewares = append(r.middlewares, middlewares...)
	}
}

// NewRegistry builds an empty registry with telemetry and panic
// recovery installed.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, opt := range opts {
		opt(r)
	}
	r.rebuildExecutor()
	return r
}

// Register adds a tool under its own name. Re-registering a name
// replaces the previous tool and logs a warning.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	name := t.Name()
	if name == "" {
		r.logEvent(logging.LevelWarn, "tool_unnamed", "ignoring tool with empty name", nil)
		return
	}

	r.mu.Lock()
	_, replaced := r.tools[name]
	r.tools[name] = t
	r.mu.Unlock()

	if replaced {
		r.logEvent(logging.LevelWarn, "tool_replaced", "tool "+name+" re-registered, previous registration dropped", map[string]any{
			"tool": name,
		})
	}
}

// RegisterAll registers each tool in order.
func (r *Registry) RegisterAll(tools ...Tool) {
	for _, t := range tools {
		r.Register(t)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names sorted for stable listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Use appends a middleware to the chain for subsequent calls.
func (r *Registry) Use(m Middleware) {
	if m == nil {
		return
	}
	r.mu.Lock()
	r.middlewares = append(r.middlewares, m)
	r.mu.Unlock()
	r.rebuildExecutor()
}

// Execute dispatches one call synchronously. Args may be nil.
func (r *Registry) Execute(name string, args map[string]any) Result {
	return r.ExecuteCall(context.Background(), "", name, args)
}

// ExecuteCall dispatches one call with a context and the model's call
// id, which telemetry includes in its log events.
func (r *Registry) ExecuteCall(ctx context.Context, callID, name string, args map[string]any) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if args == nil {
		args = map[string]any{}
	}

	execCtx := &ExecutionContext{
		Context:   ctx,
		ToolName:  name,
		CallID:    callID,
		Args:      args,
		StartTime: time.Now(),
		Metadata:  map[string]any{},
	}
	if t, ok := r.Get(name); ok {
		execCtx.Tool = t
	}

	r.mu.RLock()
	exec := r.executor
	r.mu.RUnlock()
	return exec(execCtx)
}

// SetWorkDir broadcasts the workspace root to every registered tool
// that confines its filesystem access to one.
func (r *Registry) SetWorkDir(dir string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if aware, ok := t.(interface{ SetWorkDir(string) }); ok {
			aware.SetWorkDir(dir)
		}
	}
}

func (r *Registry) rebuildExecutor() {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := []Middleware{r.telemetryMiddleware(), PanicRecovery()}
	chain = append(chain, r.middlewares...)
	r.executor = Chain(chain...)(r.baseExecutor)
}

// baseExecutor is the innermost executor: resolve the tool and run it,
// preferring the context-aware entry point when the tool has one.
func (r *Registry) baseExecutor(execCtx *ExecutionContext) Result {
	if execCtx.Tool == nil {
		return Result{
			Success: false,
			Output:  fmt.Sprintf("Unknown tool: %s", execCtx.ToolName),
		}
	}
	if ct, ok := execCtx.Tool.(ContextTool); ok {
		return ct.ExecuteWithContext(execCtx.Context, execCtx.Args)
	}
	return execCtx.Tool.Execute(execCtx.Args)
}

func (r *Registry) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if r.logger == nil {
		return
	}
	r.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryTool,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
