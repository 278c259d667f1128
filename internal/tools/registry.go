package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/web-research-agent/internal/llm"
)

// Registry manages available tools for the agent.
// It is read-mostly after startup and safe to share across concurrent runs;
// individual executors must be safe for concurrent invocation themselves.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry
// Returns an error if a tool with the same name already exists
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tool names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute validates args against the named tool's schema and runs it under
// the given per-call timeout.
//
// Error classification (use errors.Is):
//   - ErrUnknownTool: no tool registered under name
//   - ErrSchemaMismatch: args rejected before the executor ran
//   - ErrToolTimeout: the deadline elapsed while the tool was running
//   - ErrToolExecution: the executor returned an error or panicked
//
// A timed-out or failed invocation leaves the registry untouched; executors
// run in their own goroutine and share no state through the registry beyond
// the map itself.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (ToolResult, error) {
	tool, exists := r.Get(name)
	if !exists {
		return ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if err := validateArgs(tool.Parameters(), args); err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("executor panic: %v", rec)}
			}
		}()
		result, err := tool.Execute(execCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return ToolResult{}, fmt.Errorf("%w: %q after %s", ErrToolTimeout, name, timeout)
		}
		return ToolResult{}, execCtx.Err()
	case out := <-done:
		if out.err != nil {
			return ToolResult{}, fmt.Errorf("%w: %q: %v", ErrToolExecution, name, out.err)
		}
		return out.result, nil
	}
}

// ToOpenAIFormat converts all registered tools to OpenAI tool definition format
func (r *Registry) ToOpenAIFormat() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		definitions = append(definitions, llm.ToolDefinition{
			Type: "function",
			Function: llm.Function{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}
