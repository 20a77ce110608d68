package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/tools"
)

// Version is reported to MCP clients during initialization.
const Version = "0.2.0"

// New creates a fully configured MCP server with all tools registered.
func New(engine *graph.Engine, h *hooks.Hooks) *mcp.Server {
	rt := &tools.ReadTools{Engine: engine}
	wt := &tools.WriteTools{Engine: engine, Hooks: h}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "relgraph",
		Version: Version,
	}, nil)

	// Graph queries
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_entity_relationships",
		Description: "List the edges leaving and entering an entity, strongest first",
	}, rt.GetEntityRelationships)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "find_connected_entities",
		Description: "Breadth-first walk from an entity over edges in both directions, up to max_depth",
	}, rt.FindConnectedEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "unified_search",
		Description: "Case-insensitive substring search across leads, deals and tasks of one tenant",
	}, rt.UnifiedSearch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_entity_metrics",
		Description: "Read the stored relationship summary of an entity (edge count, average strength, strongest type)",
	}, rt.GetEntityMetrics)

	// Graph writes
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "link_entities",
		Description: "Create a manual edge between two entities, or strengthen it if it already exists",
	}, wt.LinkEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "record_event",
		Description: "Apply a CRM lifecycle event (task_created, deal_created_from_lead, ...) and return the edges it touched",
	}, wt.RecordEvent)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "register_entity",
		Description: "Add or replace the searchable title and subtitle of an entity",
	}, wt.RegisterEntity)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "recompute_metrics",
		Description: "Rebuild the relationship summaries of the given entities from their current edges",
	}, wt.RecomputeMetrics)

	return srv
}
