package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// DBFile is the database file name inside the data directory.
const DBFile = "relgraph.db"

var relationshipColumns = []string{
	"id", "tenant_id", "source_type", "source_id", "target_type", "target_id", "relationship_type",
	"strength", "interaction_count", "first_created_at", "last_interaction_at", "context", "is_automatic",
}

var metricsColumns = []string{
	"tenant_id", "entity_type", "entity_id", "total_relations", "avg_strength", "strongest_type", "last_updated",
}

// Store is the SQLite-backed relationship, metrics and entity directory store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the graph database inside dataDir and applies the schema.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenFile(filepath.Join(dataDir, DBFile), logger)
}

// OpenFile opens the database at dbPath and applies the schema.
func OpenFile(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	// Verify the connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperror.Unavailable("storage.Open", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate graph db: %w", err)
	}
	return &Store{db: db, logger: logger.Named("storage")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetRelationship loads one edge by its full key.
func (s *Store) GetRelationship(ctx context.Context, key models.RelationshipKey) (*models.Relationship, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.GetRelationship", telemetry.TenantAttr(key.TenantID))
	defer span.End()

	return getRelationship(ctx, s.db, key)
}

// InsertRelationship writes a new edge. A taken key is reported as a concurrency conflict.
func (s *Store) InsertRelationship(ctx context.Context, rel *models.Relationship) error {
	const op = "storage.InsertRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(rel.TenantID))
	defer span.End()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("relationships")
	ib.Cols(relationshipColumns...)
	ib.Values(
		rel.ID,
		rel.TenantID,
		string(rel.SourceType),
		rel.SourceID,
		string(rel.TargetType),
		rel.TargetID,
		string(rel.RelationshipType),
		rel.Strength,
		rel.InteractionCount,
		formatTime(rel.FirstCreatedAt),
		formatTime(rel.LastInteractionAt),
		rel.Context,
		rel.IsAutomatic,
	)

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// UpdateRelationship runs a read-modify-write of one edge inside a single IMMEDIATE
// transaction. The write is additionally guarded on the interaction count that was read.
func (s *Store) UpdateRelationship(ctx context.Context, key models.RelationshipKey, fn func(*models.Relationship) error) (*models.Relationship, error) {
	const op = "storage.UpdateRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(key.TenantID))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer tx.Rollback()

	rel, err := getRelationship(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	readCount := rel.InteractionCount
	if err := fn(rel); err != nil {
		return nil, err
	}

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("relationships")
	ub.Set(
		ub.Assign("strength", rel.Strength),
		ub.Assign("interaction_count", rel.InteractionCount),
		ub.Assign("last_interaction_at", formatTime(rel.LastInteractionAt)),
	)
	ub.Where(
		ub.Equal("id", rel.ID),
		ub.Equal("tenant_id", key.TenantID),
		ub.Equal("interaction_count", readCount),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, apperror.Conflict(op, fmt.Errorf("relationship %s changed since read", key))
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(op, err)
	}
	return rel, nil
}

// ListRelationships returns every edge of the tenant whose source (or target) is ref.
func (s *Store) ListRelationships(ctx context.Context, tenantID string, end models.Endpoint, ref models.EntityRef) ([]models.Relationship, error) {
	const op = "storage.ListRelationships"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	typeCol, idCol := "source_type", "source_id"
	if end == models.EndpointTarget {
		typeCol, idCol = "target_type", "target_id"
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal(typeCol, string(ref.Type)),
		sb.Equal(idCol, ref.ID),
	)

	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return rels, nil
}

// GetMetrics loads the metrics row for ref.
func (s *Store) GetMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (*models.Metrics, error) {
	const op = "storage.GetMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(metricsColumns...)
	sb.From("relationship_metrics")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_type", string(ref.Type)),
		sb.Equal("entity_id", ref.ID),
	)

	query, args := sb.Build()
	var (
		m           models.Metrics
		entityType  string
		strongest   string
		lastUpdated string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&m.TenantID, &entityType, &m.EntityID, &m.TotalRelations, &m.AvgStrength, &strongest, &lastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(op, "no metrics for %s", ref)
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	m.EntityType = models.EntityType(entityType)
	m.StrongestType = models.RelationshipType(strongest)
	if m.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMetrics writes the metrics row for m's entity, replacing any previous row.
func (s *Store) UpsertMetrics(ctx context.Context, m *models.Metrics) error {
	const op = "storage.UpsertMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(m.TenantID))
	defer span.End()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("relationship_metrics")
	ib.Cols(metricsColumns...)
	ib.Values(
		m.TenantID,
		string(m.EntityType),
		m.EntityID,
		m.TotalRelations,
		m.AvgStrength,
		string(m.StrongestType),
		formatTime(m.LastUpdated),
	)

	query, args := ib.Build()
	query += ` ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET
		total_relations = excluded.total_relations,
		avg_strength = excluded.avg_strength,
		strongest_type = excluded.strongest_type,
		last_updated = excluded.last_updated`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// DeleteMetrics removes the metrics row for ref. A missing row is not an error.
func (s *Store) DeleteMetrics(ctx context.Context, tenantID string, ref models.EntityRef) error {
	const op = "storage.DeleteMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("relationship_metrics")
	db.Where(
		db.Equal("tenant_id", tenantID),
		db.Equal("entity_type", string(ref.Type)),
		db.Equal("entity_id", ref.ID),
	)

	query, args := db.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

func getRelationship(ctx context.Context, q querier, key models.RelationshipKey) (*models.Relationship, error) {
	const op = "storage.GetRelationship"

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("tenant_id", key.TenantID),
		sb.Equal("source_type", string(key.SourceType)),
		sb.Equal("source_id", key.SourceID),
		sb.Equal("target_type", string(key.TargetType)),
		sb.Equal("target_id", key.TargetID),
		sb.Equal("relationship_type", string(key.RelationshipType)),
	)

	query, args := sb.Build()
	rel, err := scanRelationship(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(op, "relationship %s", key)
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return rel, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var (
		rel                     models.Relationship
		sourceType, targetType  string
		relType                 string
		firstCreated, lastTouch string
	)
	err := row.Scan(
		&rel.ID, &rel.TenantID, &sourceType, &rel.SourceID, &targetType, &rel.TargetID, &relType,
		&rel.Strength, &rel.InteractionCount, &firstCreated, &lastTouch, &rel.Context, &rel.IsAutomatic,
	)
	if err != nil {
		return nil, err
	}
	rel.SourceType = models.EntityType(sourceType)
	rel.TargetType = models.EntityType(targetType)
	rel.RelationshipType = models.RelationshipType(relType)
	if rel.FirstCreatedAt, err = parseTime(firstCreated); err != nil {
		return nil, err
	}
	if rel.LastInteractionAt, err = parseTime(lastTouch); err != nil {
		return nil, err
	}
	return &rel, nil
}

// mapError translates driver failures into the apperror taxonomy.
func mapError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sqlite3.CONSTRAINT_UNIQUE), errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY),
		errors.Is(err, sqlite3.BUSY), errors.Is(err, sqlite3.LOCKED):
		return apperror.Conflict(op, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sqlite3.CANTOPEN), errors.Is(err, sqlite3.IOERR),
		strings.Contains(err.Error(), "database is closed"):
		return apperror.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
