package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
)

// ReadTools holds references needed by the graph query handlers.
type ReadTools struct {
	Engine *graph.Engine
}

// --- Input types ---

type EntityRelationshipsInput struct {
	TenantID string      `json:"tenant_id" jsonschema:"Tenant that owns the entity"`
	Entity   EntityInput `json:"entity" jsonschema:"Entity whose edges to list"`
}

type FindConnectedInput struct {
	TenantID string      `json:"tenant_id" jsonschema:"Tenant that owns the entity"`
	Entity   EntityInput `json:"entity" jsonschema:"Root of the traversal"`
	MaxDepth *int        `json:"max_depth,omitempty" jsonschema:"Deepest level to report; edges of the root are depth 0 (default 2)"`
}

type SearchInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant to search in"`
	Query    string `json:"query" jsonschema:"Case-insensitive substring matched against entity titles and subtitles"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20, max 100)"`
}

type EntityMetricsInput struct {
	TenantID string      `json:"tenant_id" jsonschema:"Tenant that owns the entity"`
	Entity   EntityInput `json:"entity" jsonschema:"Entity whose relationship summary to read"`
}

// --- Handlers ---

func (t *ReadTools) GetEntityRelationships(ctx context.Context, _ *mcp.CallToolRequest, input EntityRelationshipsInput) (*mcp.CallToolResult, any, error) {
	ref, err := input.Entity.ref()
	if err != nil {
		return toolError("Invalid entity: %v", err), nil, nil
	}

	rels, err := t.Engine.GetEntityRelationships(ctx, input.TenantID, ref)
	if err != nil {
		return toolFailure("Failed to list relationships", err), nil, nil
	}
	return toolJSON(rels)
}

func (t *ReadTools) FindConnectedEntities(ctx context.Context, _ *mcp.CallToolRequest, input FindConnectedInput) (*mcp.CallToolResult, any, error) {
	ref, err := input.Entity.ref()
	if err != nil {
		return toolError("Invalid entity: %v", err), nil, nil
	}
	depth := graph.DefaultMaxDepth
	if input.MaxDepth != nil {
		depth = *input.MaxDepth
	}

	traversal, err := t.Engine.FindConnectedEntities(ctx, input.TenantID, ref, depth)
	if err != nil {
		return toolFailure("Failed to traverse graph", err), nil, nil
	}
	return toolJSON(traversal)
}

func (t *ReadTools) UnifiedSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	results, err := t.Engine.UnifiedSearch(ctx, input.TenantID, input.Query, input.Limit)
	if err != nil {
		return toolFailure("Search failed", err), nil, nil
	}
	if len(results) == 0 {
		return toolText("No matching entities."), nil, nil
	}
	return toolJSON(results)
}

func (t *ReadTools) GetEntityMetrics(ctx context.Context, _ *mcp.CallToolRequest, input EntityMetricsInput) (*mcp.CallToolResult, any, error) {
	ref, err := input.Entity.ref()
	if err != nil {
		return toolError("Invalid entity: %v", err), nil, nil
	}

	m, err := t.Engine.GetMetrics(ctx, input.TenantID, ref)
	if err != nil {
		return toolFailure("Failed to read metrics", err), nil, nil
	}
	return toolJSON(m)
}
