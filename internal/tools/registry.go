// Package tools runs side-effecting actions the model selects through tool calling.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raphaelgruber/tempest/internal/llm"
)

// Tool is one callable action.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() llm.Tool

	// Invoke runs the tool with the model's JSON arguments and returns a short outcome.
	Invoke(ctx context.Context, arguments string) (string, error)
}

// Result is the outcome of one tool call.
type Result struct {
	Tool   string
	Output string
	Err    error
}

// Registry holds the tools offered to the model.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Limit caps how often the named tool may run. every is the refill interval.
func (r *Registry) Limit(name string, every time.Duration, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = rate.NewLimiter(rate.Every(every), burst)
}

// Definitions returns every tool definition, sorted by name.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke runs the tool named by call. Unknown and rate-limited tools yield a Result with Err set.
func (r *Registry) Invoke(ctx context.Context, call llm.ToolCall) Result {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	limiter := r.limiters[call.Name]
	r.mu.RUnlock()

	if !ok {
		return Result{Tool: call.Name, Err: fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)}
	}
	if limiter != nil && !limiter.Allow() {
		r.logger.Warn("tool rate limited", "tool", call.Name)
		return Result{Tool: call.Name, Err: fmt.Errorf("%w: %s", ErrRateLimited, call.Name)}
	}

	start := time.Now()
	out, err := t.Invoke(ctx, call.Arguments)
	r.logger.Debug("tool executed", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds(), "is_error", err != nil)
	if err != nil {
		return Result{Tool: call.Name, Err: fmt.Errorf("%s: %w", call.Name, err)}
	}
	return Result{Tool: call.Name, Output: out}
}
