package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/metrics"
	"github.com/hamed0406/watchdog/internal/repo"
)

// DefaultSpec fires at second zero of every minute.
const DefaultSpec = "0 * * * * *"

// Enqueuer is the part of the dispatch queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
	Free() int
}

type Scheduler struct {
	log     *zap.Logger
	targets repo.TargetStore
	jobs    Enqueuer
	batch   int
	spec    string

	// Now is the clock; tests replace it.
	Now func() time.Time

	cron *cron.Cron
}

type TickResult struct {
	Dispatched int `json:"dispatched"`
	Enqueued   int `json:"enqueued"`
}

func New(logger *zap.Logger, targets repo.TargetStore, jobs Enqueuer, batch int, spec string) *Scheduler {
	if batch < 1 {
		batch = 100
	}
	if spec == "" {
		spec = DefaultSpec
	}
	return &Scheduler{
		log:     logger.Named("scheduler"),
		targets: targets,
		jobs:    jobs,
		batch:   batch,
		spec:    spec,
		Now:     time.Now,
	}
}

// Tick advances every due target to truncate(now, minute) + interval in one
// transaction, then enqueues one probe job per advanced target. Due times
// are committed before any job is visible to a worker.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := s.Now().UTC()

	limit := s.batch
	if free := s.jobs.Free(); free < limit {
		limit = free
	}
	if limit <= 0 {
		// leave everything due; the next tick picks it up
		s.log.Warn("scheduler_queue_saturated", zap.Time("now", now))
		return res, nil
	}

	due, err := s.targets.Dispatch(ctx, now, limit, func(t domain.Target) (time.Time, error) {
		return t.NextDue(now), nil
	})
	if err != nil {
		return res, fmt.Errorf("dispatch due targets: %w", err)
	}
	res.Dispatched = len(due)
	if len(due) == 0 {
		s.log.Debug("scheduler_tick", zap.Time("now", now), zap.Int("due", 0))
		return res, nil
	}

	for _, t := range due {
		if _, err := s.jobs.Enqueue(ctx, JobCheckTarget, CheckArgs{TargetID: t.ID}); err != nil {
			// already advanced: this target skips one probe
			s.log.Error("scheduler_enqueue_error",
				zap.String("target_id", string(t.ID)),
				zap.Time("next_due_at", t.NextDueAt),
				zap.Error(err),
			)
			continue
		}
		res.Enqueued++
	}
	metrics.TargetsDispatched.Add(float64(res.Enqueued))
	s.log.Info("scheduler_tick",
		zap.Time("now", now),
		zap.Int("due", res.Dispatched),
		zap.Int("enqueued", res.Enqueued),
	)
	return res, nil
}

// Start runs Tick on the cron spec until Stop. Ticks never overlap: a tick
// that fires while the previous one is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{s.log.Sugar()}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error("scheduler_tick_error", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", s.spec, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler_started", zap.String("spec", s.spec), zap.Int("batch", s.batch))
	return nil
}

// Stop halts the cron and waits for a running tick until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger routes cron's own logging into zap. Info is per-wakeup noise,
// so it goes to debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron_"+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
