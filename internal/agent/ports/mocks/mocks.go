// Package mocks provides hand-rolled test doubles for the agent ports.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

// MockLLMClient implements ports.LLMClient with a pluggable Complete func.
type MockLLMClient struct {
	CompleteFunc func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
	ModelName    string

	mu    sync.Mutex
	calls []ports.CompletionRequest
}

func (m *MockLLMClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &ports.CompletionResponse{Content: "", StopReason: "stop"}, nil
}

func (m *MockLLMClient) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock"
}

// CallCount returns how many completions were requested.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded requests.
func (m *MockLLMClient) Calls() []ports.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockTool implements ports.Tool with a pluggable Execute func.
type MockTool struct {
	Def         ports.ToolDefinition
	ExecuteFunc func(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error)

	mu    sync.Mutex
	calls []ports.ToolCall
}

func (t *MockTool) Definition() ports.ToolDefinition { return t.Def }

func (t *MockTool) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
	if t.ExecuteFunc != nil {
		return t.ExecuteFunc(ctx, call)
	}
	return ports.ToolResult{CallID: call.ID, Content: "ok"}, nil
}

// Calls returns a copy of the recorded tool calls.
func (t *MockTool) Calls() []ports.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ports.ToolCall, len(t.calls))
	copy(out, t.calls)
	return out
}

// MockToolRegistry implements ports.ToolRegistry over a static map.
type MockToolRegistry struct {
	Tools map[string]ports.Tool
}

func (r *MockToolRegistry) Get(name string) (ports.Tool, error) {
	if tool, ok := r.Tools[name]; ok {
		return tool, nil
	}
	return nil, ports.NewToolError(ports.ToolErrNotFound, name, "tool not registered", nil)
}

func (r *MockToolRegistry) List() []ports.ToolDefinition {
	defs := make([]ports.ToolDefinition, 0, len(r.Tools))
	for _, tool := range r.Tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// FailingTool returns a MockTool that always fails with the given code.
func FailingTool(name string, code ports.ToolErrorCode) *MockTool {
	return &MockTool{
		Def: ports.ToolDefinition{Name: name, Category: ports.CategoryDataQuery},
		ExecuteFunc: func(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
			err := ports.NewToolError(code, name, fmt.Sprintf("forced %s", code), nil)
			return ports.ToolResult{CallID: call.ID, Error: err}, err
		},
	}
}
