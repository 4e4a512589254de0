package queue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := New(rdb, opts, metrics.New())
	q.now = c.now
	return q, mr, c
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{MaxRetries: 3})

	id1, err := q.Enqueue(ctx, "http://svc/webhooks/update_page?page=1", http.MethodGet)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "http://svc/webhooks/update_page?page=2", http.MethodGet)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id1, task.ID, "tasks are delivered in enqueue order")
	assert.Equal(t, http.MethodGet, task.Method)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Processing: 1}, stats)

	require.NoError(t, q.Ack(ctx, task))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1}, stats)
}

func TestDequeueEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestEnqueueRejectsMethod(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue(context.Background(), "http://svc/x", http.MethodDelete)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestFailRetriesWithBackoffThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _, clk := newTestQueue(t, Options{
		MaxRetries:      2,
		RetryBackoff:    time.Second,
		RetryBackoffMax: time.Minute,
	})
	_, err := q.Enqueue(ctx, "http://svc/task", http.MethodPost)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	dead, err := q.Fail(ctx, task, errors.New("502"))
	require.NoError(t, err)
	assert.False(t, dead)

	// Not due yet.
	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	clk.advance(time.Second)
	again, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, "502", again.LastError)

	dead, err = q.Fail(ctx, again, errors.New("502"))
	require.NoError(t, err)
	assert.False(t, dead)

	clk.advance(2 * time.Second)
	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)

	dead, err = q.Fail(ctx, third, errors.New("502"))
	require.NoError(t, err)
	assert.True(t, dead)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Equal(t, float64(2), testutil.ToFloat64(q.metrics.RetriesTotal))
}

func TestBackoffIsCapped(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{RetryBackoff: time.Second, RetryBackoffMax: 5 * time.Second})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{80, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, q.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPromoteDueMovesOnlyDueTasks(t *testing.T) {
	ctx := context.Background()
	q, mr, clk := newTestQueue(t, Options{})
	now := clk.now().UnixMilli()
	_, err := mr.ZAdd(q.delayedKey(), float64(now-1), `{"id":"due","url":"http://svc/a","method":"GET"}`)
	require.NoError(t, err)
	_, err = mr.ZAdd(q.delayedKey(), float64(now+60_000), `{"id":"later","url":"http://svc/b","method":"GET"}`)
	require.NoError(t, err)

	moved, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Delayed: 1}, stats)

	members, err := mr.ZMembers(q.delayedKey())
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"later","url":"http://svc/b","method":"GET"}`}, members)

	moved, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestReclaimReturnsLeasedTasks(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{ConsumerID: "w1"})
	id, err := q.Enqueue(ctx, "http://svc/task", http.MethodGet)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	// Simulated restart: the lease was never acked.
	n, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
}

func TestConsumersHaveSeparateLeases(t *testing.T) {
	ctx := context.Background()
	q1, mr, _ := newTestQueue(t, Options{ConsumerID: "a"})
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q2 := New(rdb, Options{ConsumerID: "b"}, nil)

	_, err := q1.Enqueue(ctx, "http://svc/task", http.MethodGet)
	require.NoError(t, err)
	_, err = q1.Dequeue(ctx)
	require.NoError(t, err)

	n, err := q2.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "consumer b must not steal a's lease")
}

func TestUndecodableTaskIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := newTestQueue(t, Options{})
	_, err := mr.Lpush(q.pendingKey(), "{not json")
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.Error(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestWorkerProcessOne(t *testing.T) {
	ctx := context.Background()
	q, _, clk := newTestQueue(t, Options{MaxRetries: 1, RetryBackoff: time.Second})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.NotEmpty(t, r.Header.Get("X-Task-ID"))
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := q.Enqueue(ctx, srv.URL+"/webhooks/update_page?page=1", http.MethodGet)
	require.NoError(t, err)

	w := NewWorker(q, srv.Client(), time.Millisecond, 1, q.metrics)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "retry is not due yet")

	clk.advance(time.Second)
	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, int32(2), calls.Load())
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, float64(1), testutil.ToFloat64(q.metrics.TasksTotal.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(q.metrics.TasksTotal.WithLabelValues("retried")))
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, srv.URL, http.MethodPost)
		require.NoError(t, err)
	}

	w := NewWorker(q, srv.Client(), 5*time.Millisecond, 2, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats == Stats{}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
