// Package hooks turns CRM lifecycle events into relationship writes. Every hook writes its
// edges first and then refreshes metrics for each entity it touched. The refresh is best
// effort: failures are logged and counted, never returned.
package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// Hook names, used as metric labels and event names.
const (
	TaskCreated          = "task_created"
	TaskUpdated          = "task_updated"
	TaskAssigned         = "task_assigned"
	DealCreatedFromLead  = "deal_created_from_lead"
	ConversationCreated  = "conversation_created"
	AppointmentScheduled = "appointment_scheduled"
	PaymentReceived      = "payment_received"
	ManualLink           = "manual_link"
)

// Hooks wires lifecycle events to the engine.
type Hooks struct {
	engine    *graph.Engine
	logger    *zap.Logger
	telemetry *telemetry.Metrics
}

// New builds the hook set. logger and metrics may be nil.
func New(engine *graph.Engine, logger *zap.Logger, metrics *telemetry.Metrics) *Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hooks{engine: engine, logger: logger.Named("hooks"), telemetry: metrics}
}

// OnTaskCreated links a new task to the lead and deal it was created from. Empty ids are skipped.
func (h *Hooks) OnTaskCreated(ctx context.Context, tenantID, taskID, leadID, dealID string) ([]models.Relationship, error) {
	task := ref(models.EntityTask, taskID)
	links := optionalLinks(models.RelCreatedFrom, leadID, dealID)
	return h.fanOut(ctx, TaskCreated, tenantID, task, links)
}

// OnTaskUpdated strengthens the task's CREATED_FROM edges. An edge that does not exist yet is
// created as if the task had just been created, without touching the edges that do exist.
func (h *Hooks) OnTaskUpdated(ctx context.Context, tenantID, taskID, leadID, dealID string) (rels []models.Relationship, err error) {
	defer func() { h.record(TaskUpdated, err) }()

	task := ref(models.EntityTask, taskID)
	links := optionalLinks(models.RelCreatedFrom, leadID, dealID)

	for _, link := range links {
		rel, err := h.engine.StrengthenRelationship(ctx, models.NewKey(tenantID, task, link.Target, link.Type))
		if apperror.IsNotFound(err) {
			h.logger.Debug("task edge missing, creating",
				zap.String("tenant_id", tenantID),
				zap.String("task_id", taskID),
				zap.Stringer("target", link.Target),
			)
			created, err := h.engine.AutoCreateRelationships(ctx, tenantID, task, []graph.Link{link})
			rels = append(rels, created...)
			if err != nil {
				h.refreshWritten(ctx, tenantID, rels)
				return rels, err
			}
			continue
		}
		if err != nil {
			h.refreshWritten(ctx, tenantID, rels)
			return rels, err
		}
		rels = append(rels, *rel)
	}

	h.refresh(ctx, tenantID, task, links)
	return rels, nil
}

// OnDealCreatedFromLead records both directions of a lead conversion as separate edges.
func (h *Hooks) OnDealCreatedFromLead(ctx context.Context, tenantID, dealID, leadID string) (rels []models.Relationship, err error) {
	defer func() { h.record(DealCreatedFromLead, err) }()

	deal := ref(models.EntityDeal, dealID)
	lead := ref(models.EntityLead, leadID)

	origin, err := h.engine.AutoCreateRelationships(ctx, tenantID, deal, []graph.Link{{Target: lead, Type: models.RelOriginatedFrom}})
	rels = append(rels, origin...)
	if err != nil {
		h.refreshWritten(ctx, tenantID, rels)
		return rels, err
	}
	converted, err := h.engine.AutoCreateRelationships(ctx, tenantID, lead, []graph.Link{{Target: deal, Type: models.RelConvertedTo}})
	rels = append(rels, converted...)
	if err != nil {
		h.refreshWritten(ctx, tenantID, rels)
		return rels, err
	}

	h.refresh(ctx, tenantID, deal, []graph.Link{{Target: lead}})
	return rels, nil
}

// OnConversationCreated relates a conversation to its lead.
func (h *Hooks) OnConversationCreated(ctx context.Context, tenantID, conversationID, leadID string) ([]models.Relationship, error) {
	conv := ref(models.EntityConversation, conversationID)
	links := []graph.Link{{Target: ref(models.EntityLead, leadID), Type: models.RelRelatedTo}}
	return h.fanOut(ctx, ConversationCreated, tenantID, conv, links)
}

// OnAppointmentScheduled links an appointment to its lead and deal.
func (h *Hooks) OnAppointmentScheduled(ctx context.Context, tenantID, appointmentID, leadID, dealID string) ([]models.Relationship, error) {
	appt := ref(models.EntityAppointment, appointmentID)
	return h.fanOut(ctx, AppointmentScheduled, tenantID, appt, optionalLinks(models.RelScheduledFor, leadID, dealID))
}

// OnPaymentReceived links a payment to the lead and deal it pays for.
func (h *Hooks) OnPaymentReceived(ctx context.Context, tenantID, paymentID, leadID, dealID string) ([]models.Relationship, error) {
	payment := ref(models.EntityPayment, paymentID)
	return h.fanOut(ctx, PaymentReceived, tenantID, payment, optionalLinks(models.RelPaymentFor, leadID, dealID))
}

// OnTaskAssigned links a task to whatever it was assigned to.
func (h *Hooks) OnTaskAssigned(ctx context.Context, tenantID, taskID string, assignee models.EntityRef) ([]models.Relationship, error) {
	task := ref(models.EntityTask, taskID)
	return h.fanOut(ctx, TaskAssigned, tenantID, task, []graph.Link{{Target: assignee, Type: models.RelAssignedTo}})
}

// LinkManually writes one user-initiated edge. The edge is not marked automatic.
func (h *Hooks) LinkManually(ctx context.Context, tenantID string, source, target models.EntityRef, relType models.RelationshipType, rc models.RelationshipContext) (rel *models.Relationship, err error) {
	defer func() { h.record(ManualLink, err) }()

	rel, err = h.engine.CreateOrUpdateRelationship(ctx, models.NewKey(tenantID, source, target, relType), rc, false)
	if err != nil {
		return nil, err
	}
	h.refresh(ctx, tenantID, source, []graph.Link{{Target: target}})
	return rel, nil
}

func (h *Hooks) fanOut(ctx context.Context, name, tenantID string, subject models.EntityRef, links []graph.Link) (rels []models.Relationship, err error) {
	defer func() { h.record(name, err) }()
	return h.createAndRefresh(ctx, tenantID, subject, links)
}

func (h *Hooks) createAndRefresh(ctx context.Context, tenantID string, subject models.EntityRef, links []graph.Link) ([]models.Relationship, error) {
	rels, err := h.engine.AutoCreateRelationships(ctx, tenantID, subject, links)
	if err != nil {
		h.refreshWritten(ctx, tenantID, rels)
		return rels, err
	}
	h.refresh(ctx, tenantID, subject, links)
	return rels, nil
}

// refresh recomputes metrics for subject and every link target.
func (h *Hooks) refresh(ctx context.Context, tenantID string, subject models.EntityRef, links []graph.Link) {
	refs := make([]models.EntityRef, 0, len(links)+1)
	refs = append(refs, subject)
	for _, link := range links {
		refs = append(refs, link.Target)
	}
	h.refreshRefs(ctx, tenantID, refs)
}

// refreshWritten recomputes metrics for the endpoints of edges a failed hook already wrote,
// so a partial write does not leave them stale.
func (h *Hooks) refreshWritten(ctx context.Context, tenantID string, rels []models.Relationship) {
	if len(rels) == 0 {
		return
	}
	seen := make(map[models.EntityRef]bool, len(rels)+1)
	var refs []models.EntityRef
	for _, rel := range rels {
		for _, r := range []models.EntityRef{rel.Source(), rel.Target()} {
			if !seen[r] {
				seen[r] = true
				refs = append(refs, r)
			}
		}
	}
	h.refreshRefs(ctx, tenantID, refs)
}

func (h *Hooks) refreshRefs(ctx context.Context, tenantID string, refs []models.EntityRef) {
	if err := h.engine.RefreshMetrics(ctx, tenantID, refs...); err != nil {
		h.telemetry.RefreshFailed()
		h.logger.Warn("metrics refresh failed",
			zap.String("tenant_id", tenantID),
			zap.Stringer("subject", refs[0]),
			zap.Error(err),
		)
	}
}

func (h *Hooks) record(name string, err error) {
	status := "ok"
	if err != nil {
		status = string(apperror.KindOf(err))
		if status == "" {
			status = "error"
		}
		h.logger.Error("hook failed", zap.String("hook", name), zap.Error(err))
	}
	h.telemetry.Hook(name, status)
}

func ref(t models.EntityType, id string) models.EntityRef {
	return models.EntityRef{Type: t, ID: id}
}

func optionalLinks(relType models.RelationshipType, leadID, dealID string) []graph.Link {
	var links []graph.Link
	if leadID != "" {
		links = append(links, graph.Link{Target: ref(models.EntityLead, leadID), Type: relType})
	}
	if dealID != "" {
		links = append(links, graph.Link{Target: ref(models.EntityDeal, dealID), Type: relType})
	}
	return links
}

// Dispatch is a convenience for callers that receive events by name.
func (h *Hooks) Dispatch(ctx context.Context, ev Event) ([]models.Relationship, error) {
	if err := ev.Validate(); err != nil {
		return nil, apperror.InvalidKey("hooks.Dispatch", "%v", err)
	}
	switch ev.Name {
	case TaskCreated:
		return h.OnTaskCreated(ctx, ev.TenantID, ev.SubjectID, ev.LeadID, ev.DealID)
	case TaskUpdated:
		return h.OnTaskUpdated(ctx, ev.TenantID, ev.SubjectID, ev.LeadID, ev.DealID)
	case TaskAssigned:
		return h.OnTaskAssigned(ctx, ev.TenantID, ev.SubjectID, *ev.Target)
	case DealCreatedFromLead:
		return h.OnDealCreatedFromLead(ctx, ev.TenantID, ev.SubjectID, ev.LeadID)
	case ConversationCreated:
		return h.OnConversationCreated(ctx, ev.TenantID, ev.SubjectID, ev.LeadID)
	case AppointmentScheduled:
		return h.OnAppointmentScheduled(ctx, ev.TenantID, ev.SubjectID, ev.LeadID, ev.DealID)
	case PaymentReceived:
		return h.OnPaymentReceived(ctx, ev.TenantID, ev.SubjectID, ev.LeadID, ev.DealID)
	}
	return nil, apperror.InvalidKey("hooks.Dispatch", "unknown event %q", ev.Name)
}

// Event is the transport-neutral form of a lifecycle event.
type Event struct {
	Name      string            `json:"event" validate:"required"`
	TenantID  string            `json:"tenant_id" validate:"required,max=128"`
	SubjectID string            `json:"subject_id" validate:"required,max=128"`
	LeadID    string            `json:"lead_id,omitempty" validate:"omitempty,max=128"`
	DealID    string            `json:"deal_id,omitempty" validate:"omitempty,max=128"`
	Target    *models.EntityRef `json:"target,omitempty"`
}

// Validate checks the fields each event needs.
func (ev Event) Validate() error {
	if err := models.ValidateStruct(ev); err != nil {
		return err
	}
	switch ev.Name {
	case DealCreatedFromLead, ConversationCreated:
		if ev.LeadID == "" {
			return fmt.Errorf("%s requires lead_id", ev.Name)
		}
	case TaskAssigned:
		if ev.Target == nil {
			return fmt.Errorf("%s requires target", ev.Name)
		}
		if err := models.ValidateRef(ev.TenantID, *ev.Target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	return nil
}
