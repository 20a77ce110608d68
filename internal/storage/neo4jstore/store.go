package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

const metricsLabel = "RelationshipMetrics"

// Store implements the graph store on Neo4j. Entities are nodes labelled with their type,
// edges are relationships typed with their relationship type, and metrics rows are separate
// RelationshipMetrics nodes. Every node and edge carries tenant_id.
type Store struct {
	client *Client
	logger *zap.Logger
}

// New wraps an open client.
func New(client *Client) *Store {
	return &Store{client: client, logger: client.logger}
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

// EnsureSchema creates the uniqueness constraints the store relies on. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var stmts []string
	for _, t := range models.EntityTypes {
		label := sanitizeLabel(string(t))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_key IF NOT EXISTS FOR (n:%s) REQUIRE (n.tenant_id, n.id) IS UNIQUE",
			strings.ToLower(label), label))
	}
	for _, rt := range models.RelationshipTypes {
		label := sanitizeLabel(string(rt))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_id IF NOT EXISTS FOR ()-[r:%s]-() REQUIRE r.id IS UNIQUE",
			strings.ToLower(label), label))
	}
	stmts = append(stmts, fmt.Sprintf(
		"CREATE CONSTRAINT metrics_key IF NOT EXISTS FOR (m:%s) REQUIRE (m.tenant_id, m.entity_type, m.entity_id) IS UNIQUE",
		metricsLabel))

	for _, stmt := range stmts {
		if err := s.client.Run(ctx, stmt, nil); err != nil {
			return mapError("neo4jstore.EnsureSchema", err)
		}
	}
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, key models.RelationshipKey) (*models.Relationship, error) {
	const op = "neo4jstore.GetRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(key.TenantID))
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s {id: $id, tenant_id: $tenant_id}]->()
		RETURN r
		LIMIT 1
	`, sanitizeLabel(string(key.RelationshipType)))

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"id": key.ID(), "tenant_id": key.TenantID})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		return relationshipFromRecord(result.Record())
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	if res == nil {
		return nil, apperror.NotFound(op, "relationship %s", key)
	}
	return res.(*models.Relationship), nil
}

func (s *Store) InsertRelationship(ctx context.Context, rel *models.Relationship) error {
	const op = "neo4jstore.InsertRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(rel.TenantID))
	defer span.End()

	props, err := relationshipProps(rel)
	if err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}

	cypher := fmt.Sprintf(`
		MERGE (from:%s {tenant_id: $tenant_id, id: $from_id})
		MERGE (to:%s {tenant_id: $tenant_id, id: $to_id})
		WITH from, to
		OPTIONAL MATCH (from)-[existing:%s {id: $rel_id}]->(to)
		WITH from, to, existing
		WHERE existing IS NULL
		CREATE (from)-[r:%s]->(to)
		SET r = $props
		RETURN r.id AS id
	`, sanitizeLabel(string(rel.SourceType)), sanitizeLabel(string(rel.TargetType)),
		sanitizeLabel(string(rel.RelationshipType)), sanitizeLabel(string(rel.RelationshipType)))

	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id": rel.TenantID,
			"from_id":   rel.SourceID,
			"to_id":     rel.TargetID,
			"rel_id":    rel.ID,
			"props":     props,
		})
		if err != nil {
			return nil, err
		}
		return result.Next(ctx), result.Err()
	})
	if err != nil {
		return mapError(op, err)
	}
	if created, _ := res.(bool); !created {
		return apperror.Conflict(op, fmt.Errorf("relationship %s already exists", rel.Key()))
	}
	return nil
}

// UpdateRelationship takes the edge's write lock before reading it, so concurrent callers
// for the same key run one after another.
func (s *Store) UpdateRelationship(ctx context.Context, key models.RelationshipKey, fn func(*models.Relationship) error) (*models.Relationship, error) {
	const op = "neo4jstore.UpdateRelationship"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(key.TenantID))
	defer span.End()

	label := sanitizeLabel(string(key.RelationshipType))
	lockCypher := fmt.Sprintf(`
		MATCH ()-[r:%s {id: $id, tenant_id: $tenant_id}]->()
		SET r.lock_seq = coalesce(r.lock_seq, 0) + 1
		RETURN r
	`, label)
	writeCypher := fmt.Sprintf(`
		MATCH ()-[r:%s {id: $id, tenant_id: $tenant_id}]->()
		SET r.strength = $strength,
		    r.interaction_count = $interaction_count,
		    r.last_interaction_at = $last_interaction_at
	`, label)

	params := map[string]any{"id": key.ID(), "tenant_id": key.TenantID}
	var fnErr error
	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, lockCypher, params)
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		rel, err := relationshipFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		if fnErr = fn(rel); fnErr != nil {
			return nil, fnErr
		}

		_, err = tx.Run(ctx, writeCypher, map[string]any{
			"id":                  key.ID(),
			"tenant_id":           key.TenantID,
			"strength":            rel.Strength,
			"interaction_count":   int64(rel.InteractionCount),
			"last_interaction_at": formatTime(rel.LastInteractionAt),
		})
		if err != nil {
			return nil, err
		}
		return rel, nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	if res == nil {
		return nil, apperror.NotFound(op, "relationship %s", key)
	}
	return res.(*models.Relationship), nil
}

func (s *Store) ListRelationships(ctx context.Context, tenantID string, end models.Endpoint, ref models.EntityRef) ([]models.Relationship, error) {
	const op = "neo4jstore.ListRelationships"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	pattern := "(n:%s {tenant_id: $tenant_id, id: $id})-[r]->()"
	if end == models.EndpointTarget {
		pattern = "()-[r]->(n:%s {tenant_id: $tenant_id, id: $id})"
	}
	cypher := "MATCH " + fmt.Sprintf(pattern, sanitizeLabel(string(ref.Type))) +
		" WHERE r.tenant_id = $tenant_id RETURN r"

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"tenant_id": tenantID, "id": ref.ID})
		if err != nil {
			return nil, err
		}
		var rels []models.Relationship
		for result.Next(ctx) {
			rel, err := relationshipFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			rels = append(rels, *rel)
		}
		return rels, result.Err()
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	rels, _ := res.([]models.Relationship)
	return rels, nil
}

func (s *Store) GetMetrics(ctx context.Context, tenantID string, ref models.EntityRef) (*models.Metrics, error) {
	const op = "neo4jstore.GetMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (m:%s {tenant_id: $tenant_id, entity_type: $entity_type, entity_id: $entity_id})
		RETURN m
	`, metricsLabel)

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, metricsParams(tenantID, ref))
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		node, ok := result.Record().Get("m")
		if !ok {
			return nil, errors.New("metrics record missing m")
		}
		return metricsFromProps(node.(neo4j.Node).Props)
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	if res == nil {
		return nil, apperror.NotFound(op, "no metrics for %s", ref)
	}
	return res.(*models.Metrics), nil
}

func (s *Store) UpsertMetrics(ctx context.Context, m *models.Metrics) error {
	const op = "neo4jstore.UpsertMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(m.TenantID))
	defer span.End()

	cypher := fmt.Sprintf(`
		MERGE (m:%s {tenant_id: $tenant_id, entity_type: $entity_type, entity_id: $entity_id})
		SET m.total_relations = $total_relations,
		    m.avg_strength = $avg_strength,
		    m.strongest_type = $strongest_type,
		    m.last_updated = $last_updated
	`, metricsLabel)

	params := metricsParams(m.TenantID, m.Ref())
	params["total_relations"] = int64(m.TotalRelations)
	params["avg_strength"] = m.AvgStrength
	params["strongest_type"] = string(m.StrongestType)
	params["last_updated"] = formatTime(m.LastUpdated)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *Store) DeleteMetrics(ctx context.Context, tenantID string, ref models.EntityRef) error {
	const op = "neo4jstore.DeleteMetrics"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (m:%s {tenant_id: $tenant_id, entity_type: $entity_type, entity_id: $entity_id})
		DETACH DELETE m
	`, metricsLabel)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, metricsParams(tenantID, ref))
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

// PutEntity registers an entity node's searchable fields, creating the node if needed.
func (s *Store) PutEntity(ctx context.Context, rec models.EntityRecord) error {
	const op = "neo4jstore.PutEntity"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(rec.TenantID))
	defer span.End()

	if err := models.ValidateRef(rec.TenantID, rec.Ref()); err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}

	cypher := fmt.Sprintf(`
		MERGE (n:%s {tenant_id: $tenant_id, id: $id})
		SET n.title = $title, n.subtitle = $subtitle,
		    n.title_folded = $title_folded, n.subtitle_folded = $subtitle_folded,
		    n.updated_at = $updated_at
	`, sanitizeLabel(string(rec.Type)))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id":       rec.TenantID,
			"id":              rec.ID,
			"title":           rec.Title,
			"subtitle":        rec.Subtitle,
			"title_folded":    models.FoldCase(rec.Title),
			"subtitle_folded": models.FoldCase(rec.Subtitle),
			"updated_at":      formatTime(rec.UpdatedAt),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

// SearchEntities matches registered entity nodes whose title or subtitle contains query.
// Cypher's toLower is not a full case fold, so matching runs on the folded properties
// PutEntity stores.
func (s *Store) SearchEntities(ctx context.Context, tenantID, query string, types []models.EntityType, limit int) ([]models.EntityRecord, error) {
	const op = "neo4jstore.SearchEntities"
	ctx, span := telemetry.StartSpan(ctx, op, telemetry.TenantAttr(tenantID))
	defer span.End()

	if len(types) == 0 {
		return nil, nil
	}
	labels := make([]string, len(types))
	for i, t := range types {
		labels[i] = sanitizeLabel(string(t))
	}
	if limit <= 0 {
		limit = 100
	}

	cypher := `
		MATCH (n)
		WHERE n.tenant_id = $tenant_id
		  AND n.title_folded IS NOT NULL
		  AND any(l IN labels(n) WHERE l IN $labels)
		  AND (n.title_folded CONTAINS $q OR coalesce(n.subtitle_folded, '') CONTAINS $q)
		WITH n, [l IN labels(n) WHERE l IN $labels][0] AS type
		RETURN type, n.id AS id, n.title AS title, coalesce(n.subtitle, '') AS subtitle, n.updated_at AS updated_at
		ORDER BY type, title, id
		LIMIT $limit
	`

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id": tenantID,
			"labels":    labels,
			"q":         models.FoldCase(query),
			"limit":     int64(limit),
		})
		if err != nil {
			return nil, err
		}
		var records []models.EntityRecord
		for result.Next(ctx) {
			rec, err := entityFromValues(tenantID, result.Record().AsMap())
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, result.Err()
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	records, _ := res.([]models.EntityRecord)
	return records, nil
}

func metricsParams(tenantID string, ref models.EntityRef) map[string]any {
	return map[string]any{
		"tenant_id":   tenantID,
		"entity_type": string(ref.Type),
		"entity_id":   ref.ID,
	}
}

func relationshipFromRecord(record *neo4j.Record) (*models.Relationship, error) {
	value, ok := record.Get("r")
	if !ok {
		return nil, errors.New("record missing r")
	}
	r, ok := value.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected value %T for r", value)
	}
	return relationshipFromProps(r.Props)
}

// mapError translates driver failures into the apperror taxonomy.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	if neo4j.IsConnectivityError(err) {
		return apperror.Unavailable(op, err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case neoErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed",
			strings.HasPrefix(neoErr.Code, "Neo.TransientError."):
			return apperror.Conflict(op, err)
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."),
			strings.HasPrefix(neoErr.Code, "Neo.ClientError.Database.DatabaseNotFound"):
			return apperror.Unavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
