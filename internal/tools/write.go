package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

// WriteTools holds references needed by the mutating handlers.
type WriteTools struct {
	Engine *graph.Engine
	Hooks  *hooks.Hooks
}

// --- Input types ---

type LinkEntitiesInput struct {
	TenantID         string            `json:"tenant_id" jsonschema:"Tenant that owns both entities"`
	Source           EntityInput       `json:"source" jsonschema:"Edge source"`
	Target           EntityInput       `json:"target" jsonschema:"Edge target"`
	RelationshipType string            `json:"relationship_type" jsonschema:"One of created_from, assigned_to, originated_from, converted_to, related_to, scheduled_for, payment_for"`
	Note             string            `json:"note,omitempty" jsonschema:"Free-text reason stored with the edge when it is first created"`
	Attributes       map[string]string `json:"attributes,omitempty" jsonschema:"Extra key/value context stored with the edge when it is first created"`
}

type RecordEventInput struct {
	Event     string       `json:"event" jsonschema:"task_created, task_updated, task_assigned, deal_created_from_lead, conversation_created, appointment_scheduled or payment_received"`
	TenantID  string       `json:"tenant_id" jsonschema:"Tenant the event belongs to"`
	SubjectID string       `json:"subject_id" jsonschema:"Id of the task, deal, conversation, appointment or payment the event is about"`
	LeadID    string       `json:"lead_id,omitempty" jsonschema:"Linked lead, if any"`
	DealID    string       `json:"deal_id,omitempty" jsonschema:"Linked deal, if any"`
	Target    *EntityInput `json:"target,omitempty" jsonschema:"Assignee for task_assigned"`
}

type RegisterEntityInput struct {
	TenantID string      `json:"tenant_id" jsonschema:"Tenant that owns the entity"`
	Entity   EntityInput `json:"entity" jsonschema:"Entity to make searchable"`
	Title    string      `json:"title" jsonschema:"Display name matched by search"`
	Subtitle string      `json:"subtitle,omitempty" jsonschema:"Secondary text matched by search (email, amount, status)"`
}

type RecomputeMetricsInput struct {
	TenantID string        `json:"tenant_id" jsonschema:"Tenant that owns the entities"`
	Entities []EntityInput `json:"entities" jsonschema:"Entities whose relationship summaries to rebuild"`
}

// --- Handlers ---

func (t *WriteTools) LinkEntities(ctx context.Context, _ *mcp.CallToolRequest, input LinkEntitiesInput) (*mcp.CallToolResult, any, error) {
	source, err := input.Source.ref()
	if err != nil {
		return toolError("Invalid source: %v", err), nil, nil
	}
	target, err := input.Target.ref()
	if err != nil {
		return toolError("Invalid target: %v", err), nil, nil
	}
	relType, err := models.ParseRelationshipType(input.RelationshipType)
	if err != nil {
		return toolError("Invalid relationship type: %v", err), nil, nil
	}

	rc := models.RelationshipContext{Event: input.Note, Attributes: input.Attributes}
	rel, err := t.Hooks.LinkManually(ctx, input.TenantID, source, target, relType, rc)
	if err != nil {
		return toolFailure("Failed to link entities", err), nil, nil
	}
	return toolJSON(rel)
}

func (t *WriteTools) RecordEvent(ctx context.Context, _ *mcp.CallToolRequest, input RecordEventInput) (*mcp.CallToolResult, any, error) {
	ev := hooks.Event{
		Name:      input.Event,
		TenantID:  input.TenantID,
		SubjectID: input.SubjectID,
		LeadID:    input.LeadID,
		DealID:    input.DealID,
	}
	if input.Target != nil {
		target, err := input.Target.ref()
		if err != nil {
			return toolError("Invalid target: %v", err), nil, nil
		}
		ev.Target = &target
	}

	rels, err := t.Hooks.Dispatch(ctx, ev)
	if err != nil {
		return toolFailure(fmt.Sprintf("Failed to record %s", input.Event), err), nil, nil
	}
	return toolJSON(rels)
}

func (t *WriteTools) RegisterEntity(ctx context.Context, _ *mcp.CallToolRequest, input RegisterEntityInput) (*mcp.CallToolResult, any, error) {
	ref, err := input.Entity.ref()
	if err != nil {
		return toolError("Invalid entity: %v", err), nil, nil
	}

	err = t.Engine.RegisterEntity(ctx, models.EntityRecord{
		TenantID: input.TenantID,
		Type:     ref.Type,
		ID:       ref.ID,
		Title:    input.Title,
		Subtitle: input.Subtitle,
	})
	if err != nil {
		return toolFailure("Failed to register entity", err), nil, nil
	}
	return toolText(fmt.Sprintf("Registered %s.", ref)), nil, nil
}

func (t *WriteTools) RecomputeMetrics(ctx context.Context, _ *mcp.CallToolRequest, input RecomputeMetricsInput) (*mcp.CallToolResult, any, error) {
	refs := make([]models.EntityRef, 0, len(input.Entities))
	for _, e := range input.Entities {
		ref, err := e.ref()
		if err != nil {
			return toolError("Invalid entity: %v", err), nil, nil
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return toolError("At least one entity is required"), nil, nil
	}

	if err := t.Engine.RefreshMetrics(ctx, input.TenantID, refs...); err != nil {
		return toolFailure("Failed to recompute metrics", err), nil, nil
	}

	out := make([]*models.Metrics, 0, len(refs))
	for _, ref := range refs {
		m, err := t.Engine.GetMetrics(ctx, input.TenantID, ref)
		if apperror.IsNotFound(err) {
			// Entities without edges have no row after a recompute.
			continue
		}
		if err != nil {
			return toolFailure("Failed to read metrics", err), nil, nil
		}
		out = append(out, m)
	}
	return toolJSON(out)
}
