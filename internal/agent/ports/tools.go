package ports

import (
	"context"
	"errors"
	"fmt"
)

// ToolErrorCode is the closed set of failure categories a tool may report.
type ToolErrorCode string

const (
	ToolErrPermissionDenied ToolErrorCode = "PERMISSION_DENIED"
	ToolErrNotFound         ToolErrorCode = "NOT_FOUND"
	ToolErrInvalidArgs      ToolErrorCode = "INVALID_ARGS"
	ToolErrUpstream         ToolErrorCode = "UPSTREAM_ERROR"
	ToolErrTimeout          ToolErrorCode = "TIMEOUT"
)

// ToolError carries a typed failure code so callers can branch on the
// category without string matching.
type ToolError struct {
	Code    ToolErrorCode
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError constructs a typed tool error.
func NewToolError(code ToolErrorCode, tool, message string, cause error) *ToolError {
	return &ToolError{Code: code, Tool: tool, Message: message, Cause: cause}
}

// ToolErrorCodeOf extracts the typed code from an error chain, defaulting to
// UPSTREAM_ERROR for untyped failures.
func ToolErrorCodeOf(err error) ToolErrorCode {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ToolErrTimeout
	}
	return ToolErrUpstream
}

// ToolCategory gates which tools a step type may use.
type ToolCategory string

const (
	// CategoryDataQuery covers read-only project-management lookups.
	CategoryDataQuery ToolCategory = "data_query"
	// CategoryResearch covers search and document tools.
	CategoryResearch ToolCategory = "research"
)

// ToolCall represents a tool invocation request
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the result of tool execution
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Data     map[string]any `json:"data,omitempty"`
	Error    error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition describes a tool to the planner and executor.
type ToolDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
}

// Tool is an external capability. The core never interprets the business
// meaning of a tool's payload; it only records it.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// ToolRegistry resolves tool names to implementations.
type ToolRegistry interface {
	Get(name string) (Tool, error)
	List() []ToolDefinition
}
