package graph

import (
	"context"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

// RelationshipStore persists edges keyed by the 6-part composite key.
//
// GetRelationship returns an apperror NotFound error when no row exists. InsertRelationship
// returns a ConcurrencyConflict error when the key is already taken. UpdateRelationship loads
// the row, applies fn and writes it back as one atomic step; concurrent updates of the same key
// must be serialized by the implementation. ListRelationships scans by tenant plus one endpoint
// and returns rows in no particular order.
type RelationshipStore interface {
	GetRelationship(ctx context.Context, key models.RelationshipKey) (*models.Relationship, error)
	InsertRelationship(ctx context.Context, rel *models.Relationship) error
	UpdateRelationship(ctx context.Context, key models.RelationshipKey, fn func(*models.Relationship) error) (*models.Relationship, error)
	ListRelationships(ctx context.Context, tenantID string, end models.Endpoint, ref models.EntityRef) ([]models.Relationship, error)
}

// MetricsStore persists one derived summary row per entity. DeleteMetrics on an absent row is
// not an error.
type MetricsStore interface {
	GetMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (*models.Metrics, error)
	UpsertMetrics(ctx context.Context, m *models.Metrics) error
	DeleteMetrics(ctx context.Context, tenantID string, ref models.EntityRef) error
}

// EntityDirectory answers case-insensitive substring searches over registered entities.
type EntityDirectory interface {
	SearchEntities(ctx context.Context, tenantID, query string, types []models.EntityType, limit int) ([]models.EntityRecord, error)
}

// Store bundles all three collaborators; every backend in this module implements it.
type Store interface {
	RelationshipStore
	MetricsStore
	EntityDirectory
}

// EntityRegistry is implemented by directories that accept registrations. Every backend in
// this module does; a read-only directory may not.
type EntityRegistry interface {
	PutEntity(ctx context.Context, rec models.EntityRecord) error
}
