// Package memstore is an in-process graph store used by tests and by `serve --store memory`.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

type metricsKey struct {
	tenantID string
	ref      models.EntityRef
}

// Store keeps every row in maps guarded by one RWMutex. Writes hold the write lock for the
// whole read-modify-write, which serializes concurrent updates of the same key.
type Store struct {
	mu       sync.RWMutex
	rels     map[models.RelationshipKey]models.Relationship
	metrics  map[metricsKey]models.Metrics
	entities map[metricsKey]models.EntityRecord
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rels:     make(map[models.RelationshipKey]models.Relationship),
		metrics:  make(map[metricsKey]models.Metrics),
		entities: make(map[metricsKey]models.EntityRecord),
	}
}

// Close makes every later call fail with an Unavailable error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return apperror.Unavailable(op, fmt.Errorf("store closed"))
	}
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, key models.RelationshipKey) (*models.Relationship, error) {
	const op = "memstore.GetRelationship"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}

	rel, ok := s.rels[key]
	if !ok {
		return nil, apperror.NotFound(op, "relationship %s", key)
	}
	return cloneRel(rel), nil
}

func (s *Store) InsertRelationship(ctx context.Context, rel *models.Relationship) error {
	const op = "memstore.InsertRelationship"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return err
	}

	key := rel.Key()
	if _, exists := s.rels[key]; exists {
		return apperror.Conflict(op, fmt.Errorf("relationship %s already exists", key))
	}
	s.rels[key] = *cloneRel(*rel)
	return nil
}

func (s *Store) UpdateRelationship(ctx context.Context, key models.RelationshipKey, fn func(*models.Relationship) error) (*models.Relationship, error) {
	const op = "memstore.UpdateRelationship"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}

	current, ok := s.rels[key]
	if !ok {
		return nil, apperror.NotFound(op, "relationship %s", key)
	}
	working := cloneRel(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	// Identity is fixed once written.
	working.ID = current.ID
	working.RelationshipKey = key
	working.FirstCreatedAt = current.FirstCreatedAt
	s.rels[key] = *working
	return cloneRel(*working), nil
}

func (s *Store) ListRelationships(ctx context.Context, tenantID string, end models.Endpoint, ref models.EntityRef) ([]models.Relationship, error) {
	const op = "memstore.ListRelationships"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}

	var out []models.Relationship
	for key, rel := range s.rels {
		if key.TenantID != tenantID {
			continue
		}
		match := key.Source()
		if end == models.EndpointTarget {
			match = key.Target()
		}
		if match == ref {
			out = append(out, *cloneRel(rel))
		}
	}
	return out, nil
}

func (s *Store) GetMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (*models.Metrics, error) {
	const op = "memstore.GetMetrics"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}

	m, ok := s.metrics[metricsKey{tenantID, ref}]
	if !ok {
		return nil, apperror.NotFound(op, "no metrics for %s", ref)
	}
	return &m, nil
}

func (s *Store) UpsertMetrics(ctx context.Context, m *models.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "memstore.UpsertMetrics"); err != nil {
		return err
	}
	s.metrics[metricsKey{m.TenantID, m.Ref()}] = *m
	return nil
}

func (s *Store) DeleteMetrics(ctx context.Context, tenantID string, ref models.EntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "memstore.DeleteMetrics"); err != nil {
		return err
	}
	delete(s.metrics, metricsKey{tenantID, ref})
	return nil
}

// PutEntity registers or replaces a searchable entity.
func (s *Store) PutEntity(ctx context.Context, rec models.EntityRecord) error {
	const op = "memstore.PutEntity"
	if err := models.ValidateRef(rec.TenantID, rec.Ref()); err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return err
	}
	s.entities[metricsKey{rec.TenantID, rec.Ref()}] = rec
	return nil
}

// SearchEntities matches the SQLite store: case-folded substring on title or
// subtitle, ordered by type, then title, then id.
func (s *Store) SearchEntities(ctx context.Context, tenantID, query string, types []models.EntityType, limit int) ([]models.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "memstore.SearchEntities"); err != nil {
		return nil, err
	}

	wanted := make(map[models.EntityType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	needle := models.FoldCase(query)

	var out []models.EntityRecord
	for k, rec := range s.entities {
		if k.tenantID != tenantID || !wanted[rec.Type] {
			continue
		}
		if strings.Contains(models.FoldCase(rec.Title), needle) || strings.Contains(models.FoldCase(rec.Subtitle), needle) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRel(r models.Relationship) *models.Relationship {
	if r.Context.Attributes != nil {
		attrs := make(map[string]string, len(r.Context.Attributes))
		for k, v := range r.Context.Attributes {
			attrs[k] = v
		}
		r.Context.Attributes = attrs
	}
	return &r
}
