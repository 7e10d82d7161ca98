package tools

import (
	"context"
	"fmt"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

// validStatuses is the closed set the list_tasks status filter accepts.
var validStatuses = map[string]bool{"": true, "open": true, "in_progress": true, "done": true}

func stringArg(call ports.ToolCall, key string) (string, error) {
	raw, ok := call.Arguments[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", ports.NewToolError(ports.ToolErrInvalidArgs, call.Name,
			fmt.Sprintf("argument %q must be a string", key), nil)
	}
	return s, nil
}

func boolArg(call ports.ToolCall, key string) (bool, error) {
	raw, ok := call.Arguments[key]
	if !ok {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, ports.NewToolError(ports.ToolErrInvalidArgs, call.Name,
			fmt.Sprintf("argument %q must be a boolean", key), nil)
	}
	return b, nil
}

type listTasksTool struct {
	store *Store
}

// NewListTasksTool returns the read-only task listing tool.
func NewListTasksTool(store *Store) ports.Tool {
	return &listTasksTool{store: store}
}

func (t *listTasksTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by status (open|in_progress|done), assignee or sprint_id.",
		Category:    ports.CategoryDataQuery,
	}
}

func (t *listTasksTool) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	status, err := stringArg(call, "status")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}
	if !validStatuses[status] {
		err := ports.NewToolError(ports.ToolErrInvalidArgs, call.Name,
			fmt.Sprintf("unknown status %q", status), nil)
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}
	assignee, err := stringArg(call, "assignee")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}
	sprintID, err := stringArg(call, "sprint_id")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}

	tasks := t.store.Tasks(status, assignee, sprintID)
	rows := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, map[string]any{
			"id":       task.ID,
			"title":    task.Title,
			"status":   task.Status,
			"assignee": task.Assignee,
		})
	}
	return ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("%d tasks matched", len(tasks)),
		Data:    map[string]any{"tasks": rows},
	}, nil
}

type listSprintsTool struct {
	store *Store
}

// NewListSprintsTool returns the read-only sprint listing tool.
func NewListSprintsTool(store *Store) ports.Tool {
	return &listSprintsTool{store: store}
}

func (t *listSprintsTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_sprints",
		Description: "List sprints; pass active_only=true for the current iteration only.",
		Category:    ports.CategoryDataQuery,
	}
}

func (t *listSprintsTool) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	activeOnly, err := boolArg(call, "active_only")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}

	sprints := t.store.Sprints(activeOnly)
	rows := make([]map[string]any, 0, len(sprints))
	for _, sp := range sprints {
		rows = append(rows, map[string]any{
			"id":     sp.ID,
			"name":   sp.Name,
			"start":  sp.Start.Format("2006-01-02"),
			"end":    sp.End.Format("2006-01-02"),
			"active": sp.Active,
		})
	}
	return ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("%d sprints matched", len(sprints)),
		Data:    map[string]any{"sprints": rows},
	}, nil
}

type projectMetricsTool struct {
	store *Store
}

// NewProjectMetricsTool returns the aggregate metrics tool.
func NewProjectMetricsTool(store *Store) ports.Tool {
	return &projectMetricsTool{store: store}
}

func (t *projectMetricsTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "project_metrics",
		Description: "Aggregate task counts by status, optionally scoped to one sprint_id.",
		Category:    ports.CategoryDataQuery,
	}
}

func (t *projectMetricsTool) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	sprintID, err := stringArg(call, "sprint_id")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}

	tasks := t.store.Tasks("", "", sprintID)
	counts := map[string]int{}
	for _, task := range tasks {
		counts[task.Status]++
	}
	total := len(tasks)
	completion := 0.0
	if total > 0 {
		completion = float64(counts["done"]) / float64(total)
	}
	return ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("%d tasks, %.0f%% done", total, completion*100),
		Data: map[string]any{
			"total":           total,
			"open":            counts["open"],
			"in_progress":     counts["in_progress"],
			"done":            counts["done"],
			"completion_rate": completion,
		},
	}, nil
}
