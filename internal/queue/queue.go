// Package queue runs named jobs on a bounded worker pool with retries on
// executor faults. Delivery is at-least-once; handlers must tolerate
// running the same job twice.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/metrics"
)

type Config struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	MaxTries     int
	RetryBackoff time.Duration
	HistorySize  int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 60 * time.Second
	}
	if c.MaxTries <= 0 {
		c.MaxTries = 3
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is one queued invocation. Payload holds the JSON-encoded arguments.
type Job struct {
	ID         string
	Name       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	Attempt    int
}

// Decode unmarshals the payload. A malformed payload will never succeed on
// retry, so the error is marked NoRetry.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return NoRetry(fmt.Errorf("decode %s payload: %w", j.Name, err))
	}
	return nil
}

// Handler runs a job. A returned result (with a nil error) is final even if
// it describes a failed probe; only errors, panics and timeouts are retried.
type Handler func(ctx context.Context, job *Job) (any, error)

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Workers   int           `json:"workers"`
	QueueLen  int           `json:"queue_len"`
	QueueCap  int           `json:"queue_cap"`
	InFlight  int32         `json:"in_flight"`
	Completed uint64        `json:"completed"`
	Failed    uint64        `json:"failed"`
	Retried   uint64        `json:"retried"`
	Running   bool          `json:"running"`
	History   []HistoryItem `json:"history"`
}

type Queue struct {
	cfg Config
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
	stopping bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	jobs chan *Job

	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log *zap.Logger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:      cfg,
		log:      log.Named("queue"),
		handlers: make(map[string]Handler),
		jobs:     make(chan *Job, cfg.QueueSize),
	}
}

// Register binds a handler to a job name. Registering after Start is allowed.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	q.handlers[name] = h
	q.mu.Unlock()
}

func (q *Queue) handler(name string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Free reports how many more jobs fit in the buffer right now.
func (q *Queue) Free() int {
	return cap(q.jobs) - len(q.jobs)
}

// Enqueue encodes args and buffers the job without blocking. It returns the
// assigned job id.
func (q *Queue) Enqueue(ctx context.Context, name string, args any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, ok := q.handler(name); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	job := &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopping {
		return "", ErrStopped
	}
	select {
	case q.jobs <- job:
	default:
		q.log.Warn("queue_full", zap.String("job", name), zap.Int("cap", cap(q.jobs)))
		return "", ErrQueueFull
	}
	q.log.Debug("job_enqueued", zap.String("job", name), zap.String("job_id", job.ID))
	return job.ID, nil
}

// Start launches the worker pool. Jobs enqueued before Start wait in the
// buffer.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.stopCh = make(chan struct{})
	q.running = true
	q.stopping = false
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, q.stopCh, i)
	}
	q.log.Info("queue_started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("queue_size", q.cfg.QueueSize),
		zap.Duration("job_timeout", q.cfg.JobTimeout),
		zap.Int("max_tries", q.cfg.MaxTries),
	)
}

// Stop refuses new jobs, lets in-flight jobs finish until ctx expires, then
// cancels whatever is still running. Buffered jobs that never started are
// dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.stopping = true
	close(q.stopCh)
	cancel := q.cancel
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("queue stop: %w", ctx.Err())
		cancel()
		<-done
	}
	cancel()

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.log.Info("queue_stopped", zap.Int("dropped", len(q.jobs)))
	return err
}

func (q *Queue) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	defer q.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))

	for {
		// a closed stopCh wins over buffered work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job := <-q.jobs:
			q.inFlight.Add(1)
			q.execOne(ctx, stopCh, job, rng)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue) execOne(ctx context.Context, stopCh <-chan struct{}, job *Job, rng *rand.Rand) {
	start := time.Now()
	delay := start.Sub(job.EnqueuedAt)
	log := q.log.With(zap.String("job", job.Name), zap.String("job_id", job.ID))

	h, ok := q.handler(job.Name)
	if !ok {
		// registry changed after enqueue
		q.finish(log, job, start, delay, 0, nil, NoRetry(fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)))
		return
	}

	var (
		result   any
		err      error
		attempts int
	)
attemptLoop:
	for attempt := 1; attempt <= q.cfg.MaxTries; attempt++ {
		attempts = attempt
		job.Attempt = attempt
		result, err = q.runAttempt(ctx, h, job)
		if err == nil {
			break
		}
		if IsNoRetry(err) || attempt == q.cfg.MaxTries {
			break
		}

		q.retried.Add(1)
		metrics.JobRetries.WithLabelValues(job.Name).Inc()
		wait := backoff(q.cfg.RetryBackoff, attempt, rng)
		log.Warn("job_retry", zap.Int("attempt", attempt+1), zap.Duration("delay", wait), zap.Error(err))
		if wait <= 0 {
			continue
		}
		tmr := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}
	q.finish(log, job, start, delay, attempts, result, err)
}

// runAttempt runs one attempt under the job timeout. The handler keeps its
// goroutine if it ignores ctx, but the queue moves on once time is up.
func (q *Queue) runAttempt(ctx context.Context, h Handler, job *Job) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("job_panic",
					zap.String("job", job.Name),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := h(runCtx, job)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrJobTimeout, q.cfg.JobTimeout)
		}
		return nil, runCtx.Err()
	}
}

func (q *Queue) finish(log *zap.Logger, job *Job, start time.Time, delay time.Duration, attempts int, result any, err error) {
	dur := time.Since(start)
	item := HistoryItem{
		ID:         job.ID,
		Name:       job.Name,
		Started:    start,
		QueueDelay: delay,
		Duration:   dur,
		Attempts:   attempts,
		Result:     result,
	}
	metrics.JobDuration.WithLabelValues(job.Name).Observe(dur.Seconds())
	if err != nil {
		item.Error = err.Error()
		q.failed.Add(1)
		metrics.JobsTotal.WithLabelValues(job.Name, "failed").Inc()
		log.Error("job_failed", zap.Int("attempts", attempts), zap.Duration("dur", dur), zap.Error(err))
	} else {
		q.completed.Add(1)
		metrics.JobsTotal.WithLabelValues(job.Name, "completed").Inc()
		log.Debug("job_completed", zap.Int("attempts", attempts), zap.Duration("dur", dur), zap.Duration("queue_delay", delay))
	}

	q.hmu.Lock()
	q.history = append(q.history, item)
	if len(q.history) > q.cfg.HistorySize {
		q.history = q.history[len(q.history)-q.cfg.HistorySize:]
	}
	q.hmu.Unlock()
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	running := q.running
	q.mu.RUnlock()

	q.hmu.Lock()
	hist := make([]HistoryItem, len(q.history))
	copy(hist, q.history)
	q.hmu.Unlock()

	return Snapshot{
		Workers:   q.cfg.Workers,
		QueueLen:  len(q.jobs),
		QueueCap:  cap(q.jobs),
		InFlight:  q.inFlight.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
		Running:   running,
		History:   hist,
	}
}

// backoff doubles base per retry, capped at 15s, with 20% jitter.
func backoff(base time.Duration, retry int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	const maxDelay = 15 * time.Second
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxDelay {
			d = maxDelay
			break
		}
	}
	r := (rng.Float64()*2 - 1) * 0.2
	d = time.Duration(float64(d) * (1 + r))
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
