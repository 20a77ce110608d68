package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// UnifiedSearch finds entities whose title or subtitle contains query, ignoring case, and
// attaches each hit's metrics row when one exists.
func (e *Engine) UnifiedSearch(ctx context.Context, tenantID, query string, limit int) (results []models.SearchResult, err error) {
	const op = "graph.UnifiedSearch"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer func() { telemetry.EndSpan(span, err) }()

	query = strings.TrimSpace(query)
	if tenantID == "" {
		return nil, apperror.InvalidKey(op, "tenant id is required")
	}
	if query == "" {
		return nil, apperror.InvalidKey(op, "query is required")
	}
	if e.directory == nil {
		return nil, apperror.Unavailable(op, errors.New("no entity directory configured"))
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}

	records, err := e.directory.SearchEntities(ctx, tenantID, query, e.opts.SearchTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	results = make([]models.SearchResult, 0, len(records))
	for _, rec := range records {
		result := models.SearchResult{Entity: rec}
		m, err := e.metrics.GetMetrics(ctx, tenantID, rec.Ref())
		switch {
		case err == nil:
			result.Metrics = m
		case !apperror.IsNotFound(err):
			return nil, fmt.Errorf("metrics for %s: %w", rec.Ref(), err)
		}
		results = append(results, result)
	}
	return results, nil
}

// RegisterEntity makes an entity searchable. It needs a directory that is also an
// EntityRegistry.
func (e *Engine) RegisterEntity(ctx context.Context, rec models.EntityRecord) (err error) {
	const op = "graph.RegisterEntity"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(rec.TenantID))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := models.ValidateRef(rec.TenantID, rec.Ref()); err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}
	if strings.TrimSpace(rec.Title) == "" {
		return apperror.InvalidKey(op, "title is required")
	}
	registry, ok := e.directory.(EntityRegistry)
	if !ok {
		return apperror.Unavailable(op, errors.New("entity directory does not accept registrations"))
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = e.now()
	}
	if err := registry.PutEntity(ctx, rec); err != nil {
		return fmt.Errorf("register %s: %w", rec.Ref(), err)
	}
	return nil
}
