package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

// EntityUpserted registers an entity in the search directory instead of writing edges.
const EntityUpserted = "entity_upserted"

// Message is the JSON envelope on the lifecycle topic.
type Message struct {
	hooks.Event
	Entity *EntityPayload `json:"entity,omitempty"`
}

// EntityPayload carries the searchable fields of an entity_upserted event.
type EntityPayload struct {
	Type      models.EntityType `json:"type" validate:"required"`
	Title     string            `json:"title" validate:"required,max=512"`
	Subtitle  string            `json:"subtitle" validate:"max=512"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewHandler decodes envelopes and routes them to the hooks, or to the entity directory for
// entity_upserted events.
func NewHandler(h *hooks.Hooks, engine *graph.Engine) MessageHandler {
	return func(ctx context.Context, value []byte) (string, error) {
		const op = "events.Handle"

		var msg Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return "", apperror.InvalidKey(op, "decode event: %v", err)
		}

		if msg.Name == EntityUpserted {
			return msg.Name, registerEntity(ctx, engine, msg)
		}
		_, err := h.Dispatch(ctx, msg.Event)
		return msg.Name, err
	}
}

func registerEntity(ctx context.Context, engine *graph.Engine, msg Message) error {
	const op = "events.registerEntity"
	if msg.Entity == nil {
		return apperror.InvalidKey(op, "entity_upserted requires entity")
	}
	if err := models.ValidateStruct(msg.Entity); err != nil {
		return apperror.InvalidKey(op, "%v", err)
	}
	return engine.RegisterEntity(ctx, models.EntityRecord{
		TenantID:  msg.TenantID,
		Type:      msg.Entity.Type,
		ID:        msg.SubjectID,
		Title:     msg.Entity.Title,
		Subtitle:  msg.Entity.Subtitle,
		UpdatedAt: msg.Entity.UpdatedAt,
	})
}
