package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-graph/metrics"
)

// Worker delivers leased tasks as HTTP requests. A 2xx response acks the
// task; anything else schedules a retry.
type Worker struct {
	queue   *Queue
	client  *http.Client
	poll    time.Duration
	count   int
	metrics *metrics.Metrics
}

// NewWorker returns a worker running count delivery loops against q.
func NewWorker(q *Queue, client *http.Client, poll time.Duration, count int, m *metrics.Metrics) *Worker {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if poll <= 0 {
		poll = time.Second
	}
	if count <= 0 {
		count = 1
	}
	return &Worker{queue: q, client: client, poll: poll, count: count, metrics: m}
}

// Run reclaims abandoned tasks and consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	reclaimed, err := w.queue.Reclaim(ctx)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		slog.Info("reclaimed in-flight tasks", slog.Int("count", reclaimed))
	}

	var wg sync.WaitGroup
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			processed, err := w.ProcessOne(ctx)
			if err != nil {
				slog.Error("queue error", slog.Any("error", err))
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOne leases and delivers a single task. It reports false when the
// queue had nothing ready.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	deliveryErr := w.deliver(ctx, task)
	if deliveryErr == nil {
		w.metrics.IncTask("succeeded")
		return true, w.queue.Ack(ctx, task)
	}

	// Leave the lease in place on shutdown; Reclaim picks it up next start.
	if ctx.Err() != nil {
		return true, nil
	}

	dead, err := w.queue.Fail(ctx, task, deliveryErr)
	if err != nil {
		return true, err
	}
	if dead {
		w.metrics.IncTask("dead")
		slog.Error("task dead-lettered",
			slog.String("task_id", task.ID),
			slog.String("url", task.URL),
			slog.Any("error", deliveryErr),
		)
	} else {
		w.metrics.IncTask("retried")
		slog.Warn("task failed, retry scheduled",
			slog.String("task_id", task.ID),
			slog.String("url", task.URL),
			slog.Int("attempt", task.Attempts+1),
			slog.Any("error", deliveryErr),
		)
	}
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, t *Task) error {
	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Task-ID", t.ID)
	req.Header.Set("X-Task-Attempt", fmt.Sprint(t.Attempts+1))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("task endpoint returned %d", resp.StatusCode)
	}
	return nil
}
