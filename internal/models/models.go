package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// EntityType identifies which kind of business object participates in a relationship.
type EntityType string

const (
	EntityLead         EntityType = "LEAD"
	EntityDeal         EntityType = "DEAL"
	EntityTask         EntityType = "TASK"
	EntityConversation EntityType = "CONVERSATION"
	EntityAppointment  EntityType = "APPOINTMENT"
	EntityPayment      EntityType = "PAYMENT"
)

// EntityTypes lists every known entity type in declaration order.
var EntityTypes = []EntityType{
	EntityLead, EntityDeal, EntityTask, EntityConversation, EntityAppointment, EntityPayment,
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType accepts any casing and dashes or underscores.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(normalizeTag(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// RelationshipType describes the semantic role of an edge.
type RelationshipType string

const (
	RelCreatedFrom    RelationshipType = "CREATED_FROM"
	RelAssignedTo     RelationshipType = "ASSIGNED_TO"
	RelOriginatedFrom RelationshipType = "ORIGINATED_FROM"
	RelConvertedTo    RelationshipType = "CONVERTED_TO"
	RelRelatedTo      RelationshipType = "RELATED_TO"
	RelScheduledFor   RelationshipType = "SCHEDULED_FOR"
	RelPaymentFor     RelationshipType = "PAYMENT_FOR"
)

// RelationshipTypes lists every known relationship type in declaration order.
var RelationshipTypes = []RelationshipType{
	RelCreatedFrom, RelAssignedTo, RelOriginatedFrom, RelConvertedTo, RelRelatedTo, RelScheduledFor, RelPaymentFor,
}

// Valid reports whether t is one of the known relationship types.
func (t RelationshipType) Valid() bool {
	for _, known := range RelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseRelationshipType accepts any casing and dashes or underscores ("created-from").
func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(normalizeTag(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
	return t, nil
}

func normalizeTag(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
}

// EntityRef points at one business entity.
type EntityRef struct {
	Type EntityType `json:"type" validate:"required"`
	ID   string     `json:"id" validate:"required,max=128"`
}

func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Endpoint selects which side of an edge a scan matches on.
type Endpoint string

const (
	EndpointSource Endpoint = "source"
	EndpointTarget Endpoint = "target"
)

// Direction records how a traversal reached a neighbor.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

var relationshipIDNamespace = uuid.MustParse("5d0c6a7e-3f41-4b8e-9a1c-2e7b6f90d413")

// RelationshipKey is the 6-part identity of an edge. At most one edge exists per key.
type RelationshipKey struct {
	TenantID         string           `json:"tenant_id" validate:"required,max=128"`
	SourceType       EntityType       `json:"source_type" validate:"required"`
	SourceID         string           `json:"source_id" validate:"required,max=128"`
	TargetType       EntityType       `json:"target_type" validate:"required"`
	TargetID         string           `json:"target_id" validate:"required,max=128"`
	RelationshipType RelationshipType `json:"relationship_type" validate:"required"`
}

// NewKey builds a key from a tenant, both endpoints and the relationship type.
func NewKey(tenantID string, source, target EntityRef, relType RelationshipType) RelationshipKey {
	return RelationshipKey{
		TenantID:         tenantID,
		SourceType:       source.Type,
		SourceID:         source.ID,
		TargetType:       target.Type,
		TargetID:         target.ID,
		RelationshipType: relType,
	}
}

// ID returns the deterministic row id for the key.
func (k RelationshipKey) ID() string {
	return uuid.NewSHA1(relationshipIDNamespace, []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		k.TenantID, k.SourceType, k.SourceID, k.TargetType, k.TargetID, k.RelationshipType))).String()
}

func (k RelationshipKey) Source() EntityRef {
	return EntityRef{Type: k.SourceType, ID: k.SourceID}
}

func (k RelationshipKey) Target() EntityRef {
	return EntityRef{Type: k.TargetType, ID: k.TargetID}
}

func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s/%s-[%s]->%s", k.TenantID, k.Source(), k.RelationshipType, k.Target())
}

// Relationship is a directed, typed, weighted edge between two entities.
type Relationship struct {
	ID string `json:"id"`
	RelationshipKey
	Strength          float64             `json:"strength"`
	InteractionCount  int                 `json:"interaction_count"`
	FirstCreatedAt    time.Time           `json:"first_created_at"`
	LastInteractionAt time.Time           `json:"last_interaction_at"`
	Context           RelationshipContext `json:"context"`
	IsAutomatic       bool                `json:"is_automatic"`
}

// Key returns the edge identity.
func (r Relationship) Key() RelationshipKey {
	return r.RelationshipKey
}

// Metrics is the derived per-entity summary row.
type Metrics struct {
	TenantID       string           `json:"tenant_id"`
	EntityType     EntityType       `json:"entity_type"`
	EntityID       string           `json:"entity_id"`
	TotalRelations int              `json:"total_relations"`
	AvgStrength    float64          `json:"avg_strength"`
	StrongestType  RelationshipType `json:"strongest_type"`
	LastUpdated    time.Time        `json:"last_updated"`
}

func (m Metrics) Ref() EntityRef {
	return EntityRef{Type: m.EntityType, ID: m.EntityID}
}

// EntityRelationships groups an entity's edges by direction.
type EntityRelationships struct {
	Outgoing []Relationship `json:"outgoing"`
	Incoming []Relationship `json:"incoming"`
}

// ConnectedEntity is one traversal hit: the edge that reached it and how.
type ConnectedEntity struct {
	Relationship  Relationship `json:"relationship"`
	Depth         int          `json:"depth"`
	Direction     Direction    `json:"direction"`
	ConnectedType EntityType   `json:"connected_type"`
	ConnectedID   string       `json:"connected_id"`
}

// EntityRecord is a searchable business entity registered by its owner.
type EntityRecord struct {
	TenantID  string     `json:"tenant_id"`
	Type      EntityType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Subtitle  string     `json:"subtitle,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (e EntityRecord) Ref() EntityRef {
	return EntityRef{Type: e.Type, ID: e.ID}
}

// SearchResult is a directory hit annotated with its metrics row, if any.
type SearchResult struct {
	Entity  EntityRecord `json:"entity"`
	Metrics *Metrics     `json:"metrics,omitempty"`
}

// FoldCase applies Unicode case folding so "JOSÉ" and "josé" compare equal. Search indexes
// store folded text and fold the query the same way.
func FoldCase(s string) string {
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Fold().String(s)
}
