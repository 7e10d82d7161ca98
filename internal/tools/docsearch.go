package tools

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
)

// DocSearch is the research-category tool backed by an in-process chromem
// vector collection of project documents (retros, design notes, decisions).
type DocSearch struct {
	collection *chromem.Collection
	logger     logging.Logger
}

// NewDocSearch builds the doc search tool. The embedding func decides how
// documents and queries are vectorized; pass
// chromem.NewEmbeddingFuncOpenAI for production or a local func in tests.
func NewDocSearch(embed chromem.EmbeddingFunc, logger logging.Logger) (*DocSearch, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("project-docs", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create doc collection: %w", err)
	}
	return &DocSearch{collection: collection, logger: logging.OrNop(logger)}, nil
}

// AddDocument indexes one document.
func (d *DocSearch) AddDocument(ctx context.Context, id, content string, metadata map[string]string) error {
	return d.collection.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	})
}

func (d *DocSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "search_docs",
		Description: "Semantic search over project documents. Arguments: query (string), limit (optional number).",
		Category:    ports.CategoryResearch,
	}
}

func (d *DocSearch) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	query, err := stringArg(call, "query")
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}
	if query == "" {
		err := ports.NewToolError(ports.ToolErrInvalidArgs, call.Name, "query is required", nil)
		return ports.ToolResult{CallID: call.ID, Error: err}, err
	}

	limit := 5
	if raw, ok := call.Arguments["limit"]; ok {
		f, ok := raw.(float64)
		if !ok || f < 1 {
			err := ports.NewToolError(ports.ToolErrInvalidArgs, call.Name, "limit must be a positive number", nil)
			return ports.ToolResult{CallID: call.ID, Error: err}, err
		}
		limit = int(f)
	}
	if count := d.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return ports.ToolResult{
			CallID:  call.ID,
			Content: "no documents indexed",
			Data:    map[string]any{"documents": []map[string]any{}},
		}, nil
	}

	results, err := d.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		wrapped := ports.NewToolError(ports.ToolErrUpstream, call.Name, "document query failed", err)
		return ports.ToolResult{CallID: call.ID, Error: wrapped}, wrapped
	}

	rows := make([]map[string]any, 0, len(results))
	for _, res := range results {
		rows = append(rows, map[string]any{
			"id":         res.ID,
			"content":    res.Content,
			"similarity": res.Similarity,
		})
	}
	d.logger.Debug("doc search %q returned %d documents", query, len(rows))
	return ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("%d documents matched", len(rows)),
		Data:    map[string]any{"documents": rows},
	}, nil
}
