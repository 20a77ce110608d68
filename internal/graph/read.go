package graph

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// Traversal is the result of FindConnectedEntities.
type Traversal struct {
	Root     models.EntityRef         `json:"root"`
	MaxDepth int                      `json:"max_depth"`
	Entities []models.ConnectedEntity `json:"entities"`
	// Expanded counts nodes whose neighbors were explored.
	Expanded int `json:"expanded"`
	// Truncated is set when the expanded-node cap stopped the walk early.
	Truncated bool `json:"truncated"`
}

// GetEntityRelationships returns the edges leaving and entering ref, strongest first.
func (e *Engine) GetEntityRelationships(ctx context.Context, tenantID string, ref models.EntityRef) (result *models.EntityRelationships, err error) {
	const op = "graph.GetEntityRelationships"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID),
		attribute.String("entity", ref.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateRef(tenantID, ref); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}

	out, in, err := e.neighbors(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return &models.EntityRelationships{Outgoing: out, Incoming: in}, nil
}

// FindConnectedEntities walks outward from root over both edge directions, one depth level at
// a time, down to maxDepth (DefaultMaxDepth when negative). Edges leaving the root are depth 0.
//
// Each node is expanded at most once, which bounds the walk on cyclic graphs. The output is
// not deduplicated: a neighbor reachable over several distinct edges is reported once per edge.
func (e *Engine) FindConnectedEntities(ctx context.Context, tenantID string, root models.EntityRef, maxDepth int) (t *Traversal, err error) {
	const op = "graph.FindConnectedEntities"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID),
		attribute.String("entity", root.String()), attribute.Int("max_depth", maxDepth))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateRef(tenantID, root); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}

	t = &Traversal{Root: root, MaxDepth: maxDepth, Entities: []models.ConnectedEntity{}}
	visited := make(map[models.EntityRef]bool)
	frontier := []models.EntityRef{root}

walk:
	for depth := 0; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []models.EntityRef
		for _, node := range frontier {
			if visited[node] {
				continue
			}
			if t.Expanded >= e.opts.MaxVisitedNodes {
				t.Truncated = true
				break walk
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			visited[node] = true
			t.Expanded++

			out, in, err := e.neighbors(ctx, tenantID, node)
			if err != nil {
				return nil, err
			}
			for _, rel := range out {
				target := rel.Target()
				t.Entities = append(t.Entities, models.ConnectedEntity{
					Relationship:  rel,
					Depth:         depth,
					Direction:     models.DirectionOutgoing,
					ConnectedType: target.Type,
					ConnectedID:   target.ID,
				})
				if !visited[target] {
					next = append(next, target)
				}
			}
			for _, rel := range in {
				source := rel.Source()
				t.Entities = append(t.Entities, models.ConnectedEntity{
					Relationship:  rel,
					Depth:         depth,
					Direction:     models.DirectionIncoming,
					ConnectedType: source.Type,
					ConnectedID:   source.ID,
				})
				if !visited[source] {
					next = append(next, source)
				}
			}
		}
		frontier = next
	}

	if t.Truncated {
		e.logger.Warn("traversal truncated",
			zap.String("tenant_id", tenantID),
			zap.Stringer("root", root),
			zap.Int("expanded", t.Expanded),
		)
	}
	e.telemetry.Traversed(t.Expanded, t.Truncated)
	return t, nil
}

func (e *Engine) neighbors(ctx context.Context, tenantID string, ref models.EntityRef) (out, in []models.Relationship, err error) {
	out, err = e.rels.ListRelationships(ctx, tenantID, models.EndpointSource, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("list outgoing for %s: %w", ref, err)
	}
	in, err = e.rels.ListRelationships(ctx, tenantID, models.EndpointTarget, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("list incoming for %s: %w", ref, err)
	}
	if out == nil {
		out = []models.Relationship{}
	}
	if in == nil {
		in = []models.Relationship{}
	}
	sortByStrength(out)
	sortByStrength(in)
	return out, in, nil
}

// sortByStrength orders by strength desc, then most recent interaction, then id.
func sortByStrength(rels []models.Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		if !a.LastInteractionAt.Equal(b.LastInteractionAt) {
			return a.LastInteractionAt.After(b.LastInteractionAt)
		}
		return a.ID < b.ID
	})
}
