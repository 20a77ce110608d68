package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// PutEntity registers or replaces a searchable entity in the directory.
func (s *Store) PutEntity(ctx context.Context, rec models.EntityRecord) error {
	const op = "storage.PutEntity"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(rec.TenantID))
	defer span.End()

	if err := models.ValidateRef(rec.TenantID, rec.Ref()); err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("entities")
	ib.Cols("tenant_id", "entity_type", "entity_id", "title", "subtitle", "title_folded", "subtitle_folded", "updated_at")
	ib.Values(rec.TenantID, string(rec.Type), rec.ID, rec.Title, rec.Subtitle,
		models.FoldCase(rec.Title), models.FoldCase(rec.Subtitle), formatTime(rec.UpdatedAt))

	query, args := ib.Build()
	query += ` ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET
		title = excluded.title,
		subtitle = excluded.subtitle,
		title_folded = excluded.title_folded,
		subtitle_folded = excluded.subtitle_folded,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(op, err)
	}
	return nil
}

// SearchEntities returns entities of the given types whose title or subtitle contains query,
// ignoring case. Matching runs on the folded columns written by PutEntity. Results are
// ordered by type, then title, then id.
func (s *Store) SearchEntities(ctx context.Context, tenantID, query string, types []models.EntityType, limit int) ([]models.EntityRecord, error) {
	const op = "storage.SearchEntities"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	if len(types) == 0 {
		return nil, nil
	}
	typeArgs := make([]any, len(types))
	for i, t := range types {
		typeArgs[i] = string(t)
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	pattern := sb.Var("%" + escapeLike(models.FoldCase(query)) + "%")
	sb.Select("tenant_id", "entity_type", "entity_id", "title", "subtitle", "updated_at")
	sb.From("entities")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("entity_type", typeArgs...),
		sb.Or(
			fmt.Sprintf(`title_folded LIKE %s ESCAPE '\'`, pattern),
			fmt.Sprintf(`subtitle_folded LIKE %s ESCAPE '\'`, pattern),
		),
	)
	sb.OrderBy("entity_type", "title", "entity_id")
	if limit > 0 {
		sb.Limit(limit)
	}

	sqlText, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var records []models.EntityRecord
	for rows.Next() {
		var (
			rec        models.EntityRecord
			entityType string
			updatedAt  string
		)
		if err := rows.Scan(&rec.TenantID, &entityType, &rec.ID, &rec.Title, &rec.Subtitle, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		rec.Type = models.EntityType(entityType)
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return records, nil
}

// escapeLike makes %, _ and the escape character itself match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
