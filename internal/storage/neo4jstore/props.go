package neo4jstore

import (
	"fmt"
	"time"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

// sanitizeLabel keeps only characters that are safe to splice into a label or type.
func sanitizeLabel(label string) string {
	result := make([]rune, 0, len(label))
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
		}
	}
	if len(result) == 0 {
		return "Entity"
	}
	return string(result)
}

// relationshipProps flattens an edge into Bolt-friendly property values. Endpoint fields are
// duplicated onto the edge so a single RETURN r decodes a full row.
func relationshipProps(rel *models.Relationship) (map[string]any, error) {
	ctxJSON, err := rel.Context.Encode()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":                  rel.ID,
		"tenant_id":           rel.TenantID,
		"source_type":         string(rel.SourceType),
		"source_id":           rel.SourceID,
		"target_type":         string(rel.TargetType),
		"target_id":           rel.TargetID,
		"relationship_type":   string(rel.RelationshipType),
		"strength":            rel.Strength,
		"interaction_count":   int64(rel.InteractionCount),
		"first_created_at":    formatTime(rel.FirstCreatedAt),
		"last_interaction_at": formatTime(rel.LastInteractionAt),
		"context":             string(ctxJSON),
		"is_automatic":        rel.IsAutomatic,
	}, nil
}

func relationshipFromProps(props map[string]any) (*models.Relationship, error) {
	p := propReader{props: props}
	rel := &models.Relationship{
		ID: p.str("id"),
		RelationshipKey: models.RelationshipKey{
			TenantID:         p.str("tenant_id"),
			SourceType:       models.EntityType(p.str("source_type")),
			SourceID:         p.str("source_id"),
			TargetType:       models.EntityType(p.str("target_type")),
			TargetID:         p.str("target_id"),
			RelationshipType: models.RelationshipType(p.str("relationship_type")),
		},
		Strength:          p.float("strength"),
		InteractionCount:  int(p.int("interaction_count")),
		FirstCreatedAt:    p.time("first_created_at"),
		LastInteractionAt: p.time("last_interaction_at"),
		IsAutomatic:       p.bool("is_automatic"),
	}
	if p.err != nil {
		return nil, p.err
	}
	rc, err := models.DecodeContext([]byte(p.str("context")))
	if err != nil {
		return nil, err
	}
	rel.Context = rc
	return rel, p.err
}

func metricsFromProps(props map[string]any) (*models.Metrics, error) {
	p := propReader{props: props}
	m := &models.Metrics{
		TenantID:       p.str("tenant_id"),
		EntityType:     models.EntityType(p.str("entity_type")),
		EntityID:       p.str("entity_id"),
		TotalRelations: int(p.int("total_relations")),
		AvgStrength:    p.float("avg_strength"),
		StrongestType:  models.RelationshipType(p.str("strongest_type")),
		LastUpdated:    p.time("last_updated"),
	}
	return m, p.err
}

func entityFromValues(tenantID string, values map[string]any) (models.EntityRecord, error) {
	p := propReader{props: values}
	rec := models.EntityRecord{
		TenantID:  tenantID,
		Type:      models.EntityType(p.str("type")),
		ID:        p.str("id"),
		Title:     p.str("title"),
		Subtitle:  p.str("subtitle"),
		UpdatedAt: p.time("updated_at"),
	}
	return rec, p.err
}

// propReader decodes typed values and remembers the first mismatch.
type propReader struct {
	props map[string]any
	err   error
}

func (p *propReader) fail(key string, v any, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("property %s: got %T, want %s", key, v, want)
	}
}

func (p *propReader) str(key string) string {
	v, ok := p.props[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		p.fail(key, v, "string")
	}
	return s
}

func (p *propReader) int(key string) int64 {
	switch v := p.props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		p.fail(key, v, "integer")
		return 0
	}
}

func (p *propReader) float(key string) float64 {
	switch v := p.props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		p.fail(key, v, "float")
		return 0
	}
}

func (p *propReader) bool(key string) bool {
	v, ok := p.props[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		p.fail(key, v, "bool")
	}
	return b
}

func (p *propReader) time(key string) time.Time {
	s := p.str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("property %s: %w", key, err)
	}
	return t
}
