package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage/memstore"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

const tenant = "tenant-a"

var t0 = time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

type fixture struct {
	hooks   *Hooks
	engine  *graph.Engine
	store   *memstore.Store
	metrics *telemetry.Metrics
	logs    *observer.ObservedLogs
}

func setup(t *testing.T, store graph.Store) *fixture {
	t.Helper()
	mem := memstore.New()
	if store == nil {
		store = mem
	}
	core, logs := observer.New(zap.DebugLevel)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	engine := graph.NewWithStore(store, graph.Options{Now: func() time.Time { return t0 }, Metrics: metrics})
	return &fixture{
		hooks:   New(engine, zap.New(core), metrics),
		engine:  engine,
		store:   mem,
		metrics: metrics,
		logs:    logs,
	}
}

func (f *fixture) edge(t *testing.T, src, tgt models.EntityRef, rt models.RelationshipType) *models.Relationship {
	t.Helper()
	rels, err := f.engine.GetEntityRelationships(context.Background(), tenant, src)
	require.NoError(t, err)
	for _, rel := range rels.Outgoing {
		if rel.Target() == tgt && rel.RelationshipType == rt {
			return &rel
		}
	}
	return nil
}

func TestOnTaskCreated(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	rels, err := f.hooks.OnTaskCreated(ctx, tenant, "t1", "l1", "d1")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	for _, rel := range rels {
		assert.Equal(t, models.RelCreatedFrom, rel.RelationshipType)
		assert.True(t, rel.IsAutomatic)
		assert.True(t, rel.Context.AutoCreated)
	}

	for _, ref := range []models.EntityRef{ref(models.EntityTask, "t1"), ref(models.EntityLead, "l1"), ref(models.EntityDeal, "d1")} {
		_, err := f.engine.GetMetrics(ctx, tenant, ref)
		assert.NoError(t, err, ref.String())
	}
	task, err := f.engine.GetMetrics(ctx, tenant, ref(models.EntityTask, "t1"))
	require.NoError(t, err)
	assert.Equal(t, 2, task.TotalRelations)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HookInvocations.WithLabelValues(TaskCreated, "ok")))
}

func TestOnTaskCreatedSkipsMissingLinks(t *testing.T) {
	f := setup(t, nil)

	rels, err := f.hooks.OnTaskCreated(context.Background(), tenant, "t1", "", "d1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, ref(models.EntityDeal, "d1"), rels[0].Target())
}

func TestOnTaskUpdatedStrengthensExistingEdges(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.hooks.OnTaskCreated(ctx, tenant, "t1", "l1", "")
	require.NoError(t, err)
	rels, err := f.hooks.OnTaskUpdated(ctx, tenant, "t1", "l1", "")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 2, rels[0].InteractionCount)
}

func TestOnTaskUpdatedFallsBackToCreate(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	task := ref(models.EntityTask, "t1")

	_, err := f.hooks.OnTaskCreated(ctx, tenant, "t1", "l1", "")
	require.NoError(t, err)

	rels, err := f.hooks.OnTaskUpdated(ctx, tenant, "t1", "l1", "d1")
	require.NoError(t, err)
	require.Len(t, rels, 2)

	lead := f.edge(t, task, ref(models.EntityLead, "l1"), models.RelCreatedFrom)
	require.NotNil(t, lead)
	assert.Equal(t, 2, lead.InteractionCount)

	deal := f.edge(t, task, ref(models.EntityDeal, "d1"), models.RelCreatedFrom)
	require.NotNil(t, deal)
	assert.Equal(t, 1, deal.InteractionCount)
	assert.True(t, deal.IsAutomatic)
}

func TestOnTaskUpdatedWithNoEdgesCreatesThem(t *testing.T) {
	f := setup(t, nil)

	rels, err := f.hooks.OnTaskUpdated(context.Background(), tenant, "t9", "l1", "d1")
	require.NoError(t, err)
	assert.Len(t, rels, 2)
	for _, rel := range rels {
		assert.Equal(t, 1, rel.InteractionCount)
	}
}

func TestOnDealCreatedFromLeadWritesBothDirections(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	deal := ref(models.EntityDeal, "d1")
	lead := ref(models.EntityLead, "l1")

	rels, err := f.hooks.OnDealCreatedFromLead(ctx, tenant, "d1", "l1")
	require.NoError(t, err)
	require.Len(t, rels, 2)

	assert.NotNil(t, f.edge(t, deal, lead, models.RelOriginatedFrom))
	assert.NotNil(t, f.edge(t, lead, deal, models.RelConvertedTo))

	m, err := f.engine.GetMetrics(ctx, tenant, lead)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalRelations)
	// Outgoing edges are counted first, so the lead's own edge wins the tie.
	assert.Equal(t, models.RelConvertedTo, m.StrongestType)
}

func TestOnDealCreatedFromLeadRequiresLead(t *testing.T) {
	f := setup(t, nil)

	_, err := f.hooks.OnDealCreatedFromLead(context.Background(), tenant, "d1", "")
	assert.ErrorIs(t, err, apperror.ErrInvalidKey)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HookInvocations.WithLabelValues(DealCreatedFromLead, string(apperror.KindInvalidKey))))
}

func TestSimpleFanOutHooks(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	lead := ref(models.EntityLead, "l1")
	deal := ref(models.EntityDeal, "d1")

	_, err := f.hooks.OnConversationCreated(ctx, tenant, "c1", "l1")
	require.NoError(t, err)
	_, err = f.hooks.OnAppointmentScheduled(ctx, tenant, "a1", "l1", "d1")
	require.NoError(t, err)
	_, err = f.hooks.OnPaymentReceived(ctx, tenant, "p1", "", "d1")
	require.NoError(t, err)
	_, err = f.hooks.OnTaskAssigned(ctx, tenant, "t1", ref(models.EntityDeal, "d1"))
	require.NoError(t, err)

	assert.NotNil(t, f.edge(t, ref(models.EntityConversation, "c1"), lead, models.RelRelatedTo))
	assert.NotNil(t, f.edge(t, ref(models.EntityAppointment, "a1"), lead, models.RelScheduledFor))
	assert.NotNil(t, f.edge(t, ref(models.EntityAppointment, "a1"), deal, models.RelScheduledFor))
	assert.NotNil(t, f.edge(t, ref(models.EntityPayment, "p1"), deal, models.RelPaymentFor))
	assert.NotNil(t, f.edge(t, ref(models.EntityTask, "t1"), deal, models.RelAssignedTo))

	m, err := f.engine.GetMetrics(ctx, tenant, deal)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalRelations)
}

func TestLinkManuallyIsNotAutomatic(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	rel, err := f.hooks.LinkManually(ctx, tenant, ref(models.EntityLead, "l1"), ref(models.EntityLead, "l2"), models.RelRelatedTo,
		models.RelationshipContext{Attributes: map[string]string{"note": "same household"}})
	require.NoError(t, err)
	assert.False(t, rel.IsAutomatic)
	assert.False(t, rel.Context.AutoCreated)
	assert.Equal(t, "same household", rel.Context.Attributes["note"])

	_, err = f.engine.GetMetrics(ctx, tenant, ref(models.EntityLead, "l2"))
	assert.NoError(t, err)
}

// failingMetricsStore accepts edges but cannot write metrics.
type failingMetricsStore struct {
	*memstore.Store
}

func (failingMetricsStore) UpsertMetrics(context.Context, *models.Metrics) error {
	return apperror.Unavailable("test", errors.New("metrics table offline"))
}

func TestRefreshFailureDoesNotFailHook(t *testing.T) {
	f := setup(t, failingMetricsStore{Store: memstore.New()})

	rels, err := f.hooks.OnTaskCreated(context.Background(), tenant, "t1", "l1", "")
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MetricsRefreshFailure))
	warnings := f.logs.FilterMessage("metrics refresh failed").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
}

// failingInsertStore rejects new edges that point at one entity.
type failingInsertStore struct {
	*memstore.Store
	target string
}

func (s failingInsertStore) InsertRelationship(ctx context.Context, rel *models.Relationship) error {
	if rel.TargetID == s.target {
		return apperror.Unavailable("test", errors.New("write rejected"))
	}
	return s.Store.InsertRelationship(ctx, rel)
}

func TestPartialFanOutRefreshesWrittenEdges(t *testing.T) {
	f := setup(t, failingInsertStore{Store: memstore.New(), target: "d1"})
	ctx := context.Background()

	rels, err := f.hooks.OnTaskCreated(ctx, tenant, "t1", "l1", "d1")
	require.ErrorIs(t, err, apperror.ErrUnavailable)
	require.Len(t, rels, 1)

	for _, r := range []models.EntityRef{ref(models.EntityTask, "t1"), ref(models.EntityLead, "l1")} {
		m, err := f.engine.GetMetrics(ctx, tenant, r)
		require.NoError(t, err, r.String())
		assert.Equal(t, 1, m.TotalRelations)
	}
	_, err = f.engine.GetMetrics(ctx, tenant, ref(models.EntityDeal, "d1"))
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HookInvocations.WithLabelValues(TaskCreated, string(apperror.KindUnavailable))))
}

func TestDealFromLeadPartialFailureRefreshesOrigin(t *testing.T) {
	f := setup(t, failingInsertStore{Store: memstore.New(), target: "d1"})
	ctx := context.Background()

	rels, err := f.hooks.OnDealCreatedFromLead(ctx, tenant, "d1", "l1")
	require.Error(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, models.RelOriginatedFrom, rels[0].RelationshipType)

	for _, r := range []models.EntityRef{ref(models.EntityDeal, "d1"), ref(models.EntityLead, "l1")} {
		m, err := f.engine.GetMetrics(ctx, tenant, r)
		require.NoError(t, err, r.String())
		assert.Equal(t, models.RelOriginatedFrom, m.StrongestType)
	}
}

func TestDispatch(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	rels, err := f.hooks.Dispatch(ctx, Event{Name: DealCreatedFromLead, TenantID: tenant, SubjectID: "d1", LeadID: "l1"})
	require.NoError(t, err)
	assert.Len(t, rels, 2)

	rels, err = f.hooks.Dispatch(ctx, Event{
		Name: TaskAssigned, TenantID: tenant, SubjectID: "t1",
		Target: &models.EntityRef{Type: models.EntityLead, ID: "l1"},
	})
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestDispatchRejectsBadEvents(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
	}{
		{"unknown", Event{Name: "lead_deleted", TenantID: tenant, SubjectID: "l1"}},
		{"no tenant", Event{Name: TaskCreated, SubjectID: "t1"}},
		{"conversation without lead", Event{Name: ConversationCreated, TenantID: tenant, SubjectID: "c1"}},
		{"assignment without target", Event{Name: TaskAssigned, TenantID: tenant, SubjectID: "t1"}},
		{"assignment with bad target", Event{Name: TaskAssigned, TenantID: tenant, SubjectID: "t1", Target: &models.EntityRef{Type: "USER", ID: "u1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.hooks.Dispatch(ctx, tt.ev)
			assert.ErrorIs(t, err, apperror.ErrInvalidKey)
		})
	}
}
