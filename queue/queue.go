// Package queue is an at-least-once HTTP task queue on Redis.
//
// Tasks wait in a pending list. A consumer moves a task atomically into its
// own processing list before running it, so a crash leaves the task parked
// there until the consumer reclaims it on restart. Failed tasks wait in a
// sorted set scored by their next due time and are dead-lettered once they
// exhaust their retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmptyAddress is returned when no Redis address is configured.
	ErrEmptyAddress = errors.New("queue: redis address is required")
	// ErrUnsupportedMethod is returned for task methods other than GET and POST.
	ErrUnsupportedMethod = errors.New("queue: unsupported task method")
)

const (
	connectionTimeout = 5 * time.Second
	promoteBatch      = 100
)

// Task is one queued HTTP request.
type Task struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`

	raw string
}

// Options configure a Queue.
type Options struct {
	Prefix          string
	ConsumerID      string
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Queue enqueues and leases tasks for a single consumer id.
type Queue struct {
	rdb     redis.UniversalClient
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

// Stats reports the current queue depths.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

// NewClient connects to the Redis server named by cfg.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// OptionsFromConfig maps the service configuration onto queue options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Prefix:          cfg.QueuePrefix,
		ConsumerID:      cfg.ConsumerID,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
	}
}

// New returns a queue on rdb.
func New(rdb redis.UniversalClient, opts Options, m *metrics.Metrics) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "pricegraph"
	}
	if opts.ConsumerID == "" {
		opts.ConsumerID = "default"
	}
	return &Queue{rdb: rdb, opts: opts, metrics: m, now: time.Now}
}

func (q *Queue) key(parts ...string) string {
	k := q.opts.Prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) pendingKey() string    { return q.key("pending") }
func (q *Queue) processingKey() string { return q.key("processing", q.opts.ConsumerID) }
func (q *Queue) delayedKey() string    { return q.key("delayed") }
func (q *Queue) deadKey() string       { return q.key("dead") }

// Enqueue adds a task that requests url with method and returns its id.
func (q *Queue) Enqueue(ctx context.Context, url, method string) (string, error) {
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	task := &Task{
		ID:         uuid.NewString(),
		URL:        url,
		Method:     method,
		EnqueuedAt: q.now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.pendingKey(), data).Err(); err != nil {
		return "", fmt.Errorf("push task: %w", err)
	}
	return task.ID, nil
}

// Dequeue leases the oldest pending task, promoting due retries first.
// It returns nil without error when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	if _, err := q.PromoteDue(ctx); err != nil {
		return nil, err
	}

	raw, err := q.rdb.LMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return q.decode(ctx, raw)
}

// Ack removes a finished task from the processing list.
func (q *Queue) Ack(ctx context.Context, t *Task) error {
	if err := q.rdb.LRem(ctx, q.processingKey(), 1, t.raw).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", t.ID, err)
	}
	return nil
}

// Fail schedules a retry for t after a capped exponential backoff, or moves
// it to the dead-letter list once MaxRetries retries have been spent. It
// reports whether the task was dead-lettered.
func (q *Queue) Fail(ctx context.Context, t *Task, cause error) (bool, error) {
	next := *t
	next.Attempts++
	if cause != nil {
		next.LastError = cause.Error()
	}
	data, err := json.Marshal(&next)
	if err != nil {
		return false, fmt.Errorf("encode task: %w", err)
	}

	dead := next.Attempts > q.opts.MaxRetries
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, t.raw)
		if dead {
			pipe.LPush(ctx, q.deadKey(), data)
			return nil
		}
		due := q.now().Add(q.backoff(next.Attempts))
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: data})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", t.ID, err)
	}
	if !dead {
		q.metrics.IncRetries()
	}
	return dead, nil
}

// promoteScript moves due members of the delayed set (KEYS[1]) onto the
// pending list (KEYS[2]) in one step.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, raw in ipairs(due) do
	redis.call('ZREM', KEYS[1], raw)
	redis.call('LPUSH', KEYS[2], raw)
end
return #due
`)

// PromoteDue moves retries whose backoff has elapsed back onto the pending
// list and returns how many moved.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	moved, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.pendingKey()},
		q.now().UnixMilli(), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed tasks: %w", err)
	}
	return moved, nil
}

// Reclaim returns every task left in this consumer's processing list to the
// pending list. Call it before consuming.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(), q.pendingKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reclaim tasks: %w", err)
		}
		n++
	}
}

// Stats returns the queue depths for this consumer.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctx, q.pendingKey())
	processing := pipe.LLen(ctx, q.processingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

// DeadLetters returns up to limit dead-lettered tasks, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*Task, error) {
	raws, err := q.rdb.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	tasks := make([]*Task, 0, len(raws))
	for _, raw := range raws {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		t.raw = raw
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

func (q *Queue) decode(ctx context.Context, raw string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// Unreadable payloads go straight to the dead-letter list.
		_, _ = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey(), 1, raw)
			pipe.LPush(ctx, q.deadKey(), raw)
			return nil
		})
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.raw = raw
	return &t, nil
}

func (q *Queue) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := q.opts.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := q.opts.RetryBackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}
