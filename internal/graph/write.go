package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// Link is one target of an auto-created fan-out.
type Link struct {
	Target models.EntityRef        `json:"target"`
	Type   models.RelationshipType `json:"relationship_type"`
}

// CreateOrUpdateRelationship inserts the edge for key, or strengthens it if it already exists.
// rc and isAutomatic only apply when the edge is created.
func (e *Engine) CreateOrUpdateRelationship(ctx context.Context, key models.RelationshipKey, rc models.RelationshipContext, isAutomatic bool) (rel *models.Relationship, err error) {
	const op = "graph.CreateOrUpdateRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(key.TenantID),
		attribute.String("relationship_type", string(key.RelationshipType)))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateKey(key); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}
	if _, err := rc.Encode(); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}

	_, err = e.rels.GetRelationship(ctx, key)
	switch {
	case err == nil:
		return e.strengthen(ctx, key)
	case !apperror.IsNotFound(err):
		return nil, fmt.Errorf("load relationship %s: %w", key, err)
	}

	now := e.now()
	rel = &models.Relationship{
		ID:                key.ID(),
		RelationshipKey:   key,
		Strength:          InitialStrength,
		InteractionCount:  1,
		FirstCreatedAt:    now,
		LastInteractionAt: now,
		Context:           rc,
		IsAutomatic:       isAutomatic,
	}
	if err := e.rels.InsertRelationship(ctx, rel); err != nil {
		if errors.Is(err, apperror.ErrConcurrencyConflict) {
			// Another writer created it between our read and insert.
			return e.strengthen(ctx, key)
		}
		return nil, fmt.Errorf("insert relationship %s: %w", key, err)
	}

	e.logger.Debug("relationship created", keyFields(key, zap.Bool("automatic", isAutomatic))...)
	e.telemetry.EdgeWritten("created", string(key.RelationshipType), rel.Strength)
	return rel, nil
}

// StrengthenRelationship records one more interaction on an existing edge. It fails with a
// NotFound error when the edge does not exist.
func (e *Engine) StrengthenRelationship(ctx context.Context, key models.RelationshipKey) (rel *models.Relationship, err error) {
	const op = "graph.StrengthenRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(key.TenantID),
		attribute.String("relationship_type", string(key.RelationshipType)))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateKey(key); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}
	return e.strengthen(ctx, key)
}

func (e *Engine) strengthen(ctx context.Context, key models.RelationshipKey) (*models.Relationship, error) {
	for attempt := 0; ; attempt++ {
		var score Score
		rel, err := e.rels.UpdateRelationship(ctx, key, func(r *models.Relationship) error {
			now := e.now()
			score = ComputeScore(*r, now)
			r.InteractionCount = score.InteractionCount
			r.Strength = score.Strength
			if now.After(r.LastInteractionAt) {
				r.LastInteractionAt = now
			}
			return nil
		})
		if err == nil {
			e.logger.Debug("relationship strengthened", keyFields(key,
				zap.Int("interaction_count", rel.InteractionCount),
				zap.Float64("strength", rel.Strength),
				zap.Float64("days_since_last", score.DaysSinceLast),
				zap.Float64("days_since_first", score.DaysSinceFirst),
			)...)
			e.telemetry.EdgeWritten("strengthened", string(key.RelationshipType), rel.Strength)
			return rel, nil
		}
		if errors.Is(err, apperror.ErrConcurrencyConflict) && attempt < e.opts.ConflictRetries {
			e.logger.Debug("strengthen conflict, retrying", keyFields(key, zap.Int("attempt", attempt+1))...)
			continue
		}
		return nil, fmt.Errorf("strengthen relationship %s: %w", key, err)
	}
}

// AutoCreateRelationships fans out one automatic edge per link from source. It stops at the
// first failure and returns the edges written before it.
func (e *Engine) AutoCreateRelationships(ctx context.Context, tenantID string, source models.EntityRef, links []Link) ([]models.Relationship, error) {
	rc := models.RelationshipContext{AutoCreated: true}
	created := make([]models.Relationship, 0, len(links))
	for _, link := range links {
		rel, err := e.CreateOrUpdateRelationship(ctx, models.NewKey(tenantID, source, link.Target, link.Type), rc, true)
		if err != nil {
			return created, err
		}
		created = append(created, *rel)
	}
	return created, nil
}

// RecomputeMetrics rebuilds the metrics row for ref from every edge touching it. When no edge
// touches the entity the row is deleted and nil is returned.
func (e *Engine) RecomputeMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (m *models.Metrics, err error) {
	const op = "graph.RecomputeMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID),
		attribute.String("entity", ref.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateRef(tenantID, ref); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}

	edges, err := e.touchingEdges(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}

	if len(edges) == 0 {
		if err := e.metrics.DeleteMetrics(ctx, tenantID, ref); err != nil {
			return nil, fmt.Errorf("delete metrics for %s: %w", ref, err)
		}
		e.telemetry.Recomputed("deleted")
		return nil, nil
	}

	m = summarize(tenantID, ref, edges)
	m.LastUpdated = e.now()
	if err := e.metrics.UpsertMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metrics for %s: %w", ref, err)
	}
	e.telemetry.Recomputed("upserted")
	return m, nil
}

// RefreshMetrics recomputes metrics for every distinct ref, a few at a time. All failures are
// collected and returned together; one failing entity does not stop the others.
func (e *Engine) RefreshMetrics(ctx context.Context, tenantID string, refs ...models.EntityRef) error {
	seen := make(map[models.EntityRef]bool, len(refs))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.RefreshConcurrency)
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		g.Go(func() error {
			if _, err := e.RecomputeMetrics(gctx, tenantID, ref); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// GetMetrics returns the stored metrics row for ref, or a NotFound error.
func (e *Engine) GetMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (*models.Metrics, error) {
	const op = "graph.GetMetrics"
	if err := models.ValidateRef(tenantID, ref); err != nil {
		return nil, apperror.InvalidKey(op, "%v", err)
	}
	return e.metrics.GetMetrics(ctx, tenantID, ref)
}

// touchingEdges returns outgoing then incoming edges for ref. A self-loop appears once.
func (e *Engine) touchingEdges(ctx context.Context, tenantID string, ref models.EntityRef) ([]models.Relationship, error) {
	out, in, err := e.neighbors(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(out)+len(in))
	edges := make([]models.Relationship, 0, len(out)+len(in))
	for _, rel := range append(out, in...) {
		if seen[rel.ID] {
			continue
		}
		seen[rel.ID] = true
		edges = append(edges, rel)
	}
	return edges, nil
}

func summarize(tenantID string, ref models.EntityRef, edges []models.Relationship) *models.Metrics {
	var total float64
	counts := make(map[models.RelationshipType]int)
	var order []models.RelationshipType
	for _, rel := range edges {
		total += rel.Strength
		if counts[rel.RelationshipType] == 0 {
			order = append(order, rel.RelationshipType)
		}
		counts[rel.RelationshipType]++
	}

	// Ties go to the type encountered first.
	var strongest models.RelationshipType
	for _, t := range order {
		if strongest == "" || counts[t] > counts[strongest] {
			strongest = t
		}
	}

	return &models.Metrics{
		TenantID:       tenantID,
		EntityType:     ref.Type,
		EntityID:       ref.ID,
		TotalRelations: len(edges),
		AvgStrength:    total / float64(len(edges)),
		StrongestType:  strongest,
	}
}

func keyFields(key models.RelationshipKey, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("tenant_id", key.TenantID),
		zap.Stringer("source", key.Source()),
		zap.Stringer("target", key.Target()),
		zap.String("rel_type", string(key.RelationshipType)),
	}, extra...)
}
