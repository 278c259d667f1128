package tools

import (
	"context"
	"encoding/json"
	"errors"
)

// Execution error kinds. Execute wraps underlying failures so callers can
// classify them with errors.Is.
var (
	// ErrUnknownTool is returned when no tool is registered under the name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrSchemaMismatch is returned when arguments fail schema validation.
	// The executor is never invoked in that case.
	ErrSchemaMismatch = errors.New("arguments do not match tool schema")
	// ErrToolTimeout is returned when execution exceeds the per-call deadline.
	ErrToolTimeout = errors.New("tool execution timed out")
	// ErrToolExecution wraps any failure raised by the executor itself.
	ErrToolExecution = errors.New("tool execution failed")
)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool defines the interface for tools that can be called by the agent
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON Schema for the tool's parameters
	Parameters() json.RawMessage

	// Execute runs the tool with the given arguments and returns the result
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}
