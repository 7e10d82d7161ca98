package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

func seededStore() *Store {
	s := NewStore()
	s.SeedSprints([]Sprint{
		{ID: "s1", Name: "Sprint 13", Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)},
		{ID: "s2", Name: "Sprint 14", Start: time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), Active: true},
	})
	s.SeedTasks([]Task{
		{ID: "t1", Title: "Fix login", Status: "open", Assignee: "ana", SprintID: "s2"},
		{ID: "t2", Title: "Ship report", Status: "done", Assignee: "ben", SprintID: "s2"},
		{ID: "t3", Title: "Old cleanup", Status: "done", Assignee: "ana", SprintID: "s1"},
	})
	return s
}

func TestRegistryResolvesAndLists(t *testing.T) {
	r := NewRegistry()
	r.Register(NewListTasksTool(seededStore()))

	tool, err := r.Get("list_tasks")
	require.NoError(t, err)
	assert.Equal(t, "list_tasks", tool.Definition().Name)
	assert.Len(t, r.List(), 1)

	_, err = r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, ports.ToolErrNotFound, ports.ToolErrorCodeOf(err))
}

func TestListTasksFilters(t *testing.T) {
	tool := NewListTasksTool(seededStore())

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID: "c1", Name: "list_tasks",
		Arguments: map[string]any{"status": "done", "sprint_id": "s2"},
	})
	require.NoError(t, err)

	rows := res.Data["tasks"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ship report", rows[0]["title"])
	assert.Equal(t, "1 tasks matched", res.Content)
}

func TestListTasksRejectsBadArgs(t *testing.T) {
	tool := NewListTasksTool(seededStore())

	_, err := tool.Execute(context.Background(), ports.ToolCall{
		ID: "c1", Name: "list_tasks",
		Arguments: map[string]any{"status": "paused"},
	})
	require.Error(t, err)
	assert.Equal(t, ports.ToolErrInvalidArgs, ports.ToolErrorCodeOf(err))

	_, err = tool.Execute(context.Background(), ports.ToolCall{
		ID: "c2", Name: "list_tasks",
		Arguments: map[string]any{"status": 7},
	})
	require.Error(t, err)
	assert.Equal(t, ports.ToolErrInvalidArgs, ports.ToolErrorCodeOf(err))
}

func TestListSprintsActiveOnly(t *testing.T) {
	tool := NewListSprintsTool(seededStore())

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID: "c1", Name: "list_sprints",
		Arguments: map[string]any{"active_only": true},
	})
	require.NoError(t, err)

	rows := res.Data["sprints"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Sprint 14", rows[0]["name"])
}

func TestProjectMetricsAggregates(t *testing.T) {
	tool := NewProjectMetricsTool(seededStore())

	res, err := tool.Execute(context.Background(), ports.ToolCall{
		ID: "c1", Name: "project_metrics",
		Arguments: map[string]any{"sprint_id": "s2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Data["total"])
	assert.Equal(t, 1, res.Data["open"])
	assert.Equal(t, 1, res.Data["done"])
	assert.InDelta(t, 0.5, res.Data["completion_rate"], 1e-9)
}

// wordOverlapEmbedding is a tiny deterministic embedding for tests: each
// dimension counts one letter of the alphabet.
func wordOverlapEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 26)
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func TestDocSearchReturnsIndexedDocuments(t *testing.T) {
	ds, err := NewDocSearch(wordOverlapEmbedding, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ds.AddDocument(ctx, "retro-13", "sprint thirteen retrospective notes", map[string]string{"kind": "retro"}))
	require.NoError(t, ds.AddDocument(ctx, "design-auth", "auth service design decisions", map[string]string{"kind": "design"}))

	res, err := ds.Execute(ctx, ports.ToolCall{
		ID: "c1", Name: "search_docs",
		Arguments: map[string]any{"query": "retrospective notes", "limit": float64(1)},
	})
	require.NoError(t, err)

	rows := res.Data["documents"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "retro-13", rows[0]["id"])
}

func TestDocSearchRequiresQuery(t *testing.T) {
	ds, err := NewDocSearch(wordOverlapEmbedding, nil)
	require.NoError(t, err)

	_, err = ds.Execute(context.Background(), ports.ToolCall{ID: "c1", Name: "search_docs"})
	require.Error(t, err)
	assert.Equal(t, ports.ToolErrInvalidArgs, ports.ToolErrorCodeOf(err))
}

func TestDocSearchEmptyIndexIsNotAnError(t *testing.T) {
	ds, err := NewDocSearch(wordOverlapEmbedding, nil)
	require.NoError(t, err)

	res, err := ds.Execute(context.Background(), ports.ToolCall{
		ID: "c1", Name: "search_docs",
		Arguments: map[string]any{"query": "anything"},
	})
	require.NoError(t, err)
	assert.Equal(t, "no documents indexed", res.Content)
}
