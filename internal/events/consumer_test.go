package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage/memstore"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newStack() (*hooks.Hooks, *graph.Engine, *memstore.Store) {
	store := memstore.New()
	engine := graph.NewWithStore(store, graph.Options{})
	return hooks.New(engine, nil, nil), engine, store
}

func TestHandlerDispatchesHooks(t *testing.T) {
	h, engine, _ := newStack()
	handle := NewHandler(h, engine)
	ctx := context.Background()

	event, err := handle(ctx, []byte(`{"event":"task_created","tenant_id":"tenant-a","subject_id":"t1","lead_id":"l1","deal_id":"d1"}`))
	require.NoError(t, err)
	assert.Equal(t, hooks.TaskCreated, event)

	rels, err := engine.GetEntityRelationships(ctx, "tenant-a", models.EntityRef{Type: models.EntityTask, ID: "t1"})
	require.NoError(t, err)
	assert.Len(t, rels.Outgoing, 2)
}

func TestHandlerRegistersEntities(t *testing.T) {
	h, engine, _ := newStack()
	handle := NewHandler(h, engine)
	ctx := context.Background()

	_, err := handle(ctx, []byte(`{"event":"entity_upserted","tenant_id":"tenant-a","subject_id":"l1",
		"entity":{"type":"LEAD","title":"Joana Prado","subtitle":"joana@example.com"}}`))
	require.NoError(t, err)

	results, err := engine.UnifiedSearch(ctx, "tenant-a", "prado", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "l1", results[0].Entity.ID)
}

func TestHandlerRejectsMalformedInput(t *testing.T) {
	h, engine, _ := newStack()
	handle := NewHandler(h, engine)
	ctx := context.Background()

	for _, raw := range []string{
		`not json`,
		`{"event":"entity_upserted","tenant_id":"tenant-a","subject_id":"l1"}`,
		`{"event":"entity_upserted","tenant_id":"tenant-a","subject_id":"l1","entity":{"type":"LEAD"}}`,
		`{"event":"lead_exploded","tenant_id":"tenant-a","subject_id":"l1"}`,
	} {
		_, err := handle(ctx, []byte(raw))
		assert.ErrorIs(t, err, apperror.ErrInvalidKey, raw)
	}
}

func newTestConsumer(reader *fakeReader, handler MessageHandler, metrics *telemetry.Metrics) *Consumer {
	c := newConsumer(reader, "crm.lifecycle", handler, nil, metrics)
	c.retryBackoff = time.Millisecond
	c.maxRetryBackoff = 4 * time.Millisecond
	return c
}

func TestConsumerCommitPolicy(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("invalid")},
		{Offset: 3, Value: []byte("flaky")},
		{Offset: 4, Value: []byte("ok")},
	}}
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	var (
		mu       sync.Mutex
		failures int
	)
	handler := func(_ context.Context, value []byte) (string, error) {
		switch string(value) {
		case "invalid":
			return "task_created", apperror.InvalidKey("test", "bad payload")
		case "flaky":
			mu.Lock()
			defer mu.Unlock()
			if failures < 2 {
				failures++
				return "task_created", apperror.Unavailable("test", context.DeadlineExceeded)
			}
		}
		return "task_created", nil
	}

	c := newTestConsumer(reader, handler, metrics)
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(reader.commits()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	// The failing message is retried in place, so 4 is never committed ahead of 3.
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())
	assert.True(t, reader.closed)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.EventsConsumed.WithLabelValues("task_created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsConsumed.WithLabelValues("task_created", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsConsumed.WithLabelValues("task_created", "error")))
}

func TestConsumerStopsWhileRetrying(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: []byte("down")},
		{Offset: 8, Value: []byte("ok")},
	}}
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	handler := func(_ context.Context, value []byte) (string, error) {
		if string(value) == "down" {
			return "deal_created_from_lead", apperror.Unavailable("test", context.DeadlineExceeded)
		}
		return "deal_created_from_lead", nil
	}

	c := newTestConsumer(reader, handler, metrics)
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.EventsConsumed.WithLabelValues("deal_created_from_lead", "error")) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Empty(t, reader.commits())
	assert.Equal(t, 1, reader.pending(), "next message must not be fetched while one is failing")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.EventsConsumed.WithLabelValues("deal_created_from_lead", "ok")))
}
