// Package worker binds the probe and alert jobs to the dispatch queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/probe"
	"github.com/hamed0406/watchdog/internal/queue"
	"github.com/hamed0406/watchdog/internal/repo"
	"github.com/hamed0406/watchdog/internal/scheduler"
)

// Enqueuer is how handlers schedule follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

// Deps is built once at startup and shared read-only by every job.
type Deps struct {
	Log      *zap.Logger
	Targets  repo.TargetStore
	Checker  probe.Checker
	Recorder *scheduler.Recorder
	Alerter  *scheduler.Alerter
	Jobs     Enqueuer
}

// Result statuses returned by check_target.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// CheckResult is what a check_target job returns. A failed probe is still
// a completed job.
type CheckResult struct {
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	TargetID   domain.TargetID `json:"target_id"`
	URL        string          `json:"url,omitempty"`
	IsSuccess  bool            `json:"is_success"`
	StatusCode *int            `json:"status_code,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Alert      string          `json:"alert,omitempty"`
}

// Register installs the three job handlers on q.
func Register(q *queue.Queue, d *Deps) {
	q.Register(scheduler.JobCheckTarget, d.CheckTarget)
	q.Register(scheduler.JobAlertHTTPError, d.AlertHTTPError)
	q.Register(scheduler.JobAlertException, d.AlertException)
}

// CheckTarget probes one target, records the outcome and enqueues the
// alert the outcome calls for.
func (d *Deps) CheckTarget(ctx context.Context, job *queue.Job) (any, error) {
	var args scheduler.CheckArgs
	if err := job.Decode(&args); err != nil {
		return nil, err
	}
	log := d.Log.With(zap.String("target_id", string(args.TargetID)), zap.String("job_id", job.ID))

	t, err := d.Targets.Get(ctx, args.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load target %s: %w", args.TargetID, err)
	}
	if t == nil {
		log.Info("probe_skipped", zap.String("reason", "not_found"))
		return CheckResult{Status: StatusSkipped, Reason: "not_found", TargetID: args.TargetID}, nil
	}
	if !t.Active {
		log.Info("probe_skipped", zap.String("reason", "paused"))
		return CheckResult{Status: StatusSkipped, Reason: "paused", TargetID: t.ID, URL: t.URL}, nil
	}

	p := d.Checker.Check(ctx, t.Probe())
	// a cut-short probe says nothing about the target
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe %s interrupted: %w", t.ID, err)
	}

	o, err := d.Recorder.Record(ctx, t.ID, p)
	if errors.Is(err, repo.ErrNotFound) {
		log.Info("probe_skipped", zap.String("reason", "not_found"))
		return CheckResult{Status: StatusSkipped, Reason: "not_found", TargetID: t.ID, URL: t.URL}, nil
	}
	if err != nil {
		return nil, err
	}

	res := CheckResult{
		Status:     StatusCompleted,
		TargetID:   t.ID,
		URL:        t.URL,
		IsSuccess:  o.Success,
		StatusCode: o.StatusCode,
		DurationMS: o.DurationMS,
	}
	log.Info("probe_done",
		zap.String("url", t.URL),
		zap.String("classification", string(p.Classification)),
		zap.Int("status_code", p.StatusCode),
		zap.Int64("duration_ms", p.DurationMS),
		zap.Bool("is_success", o.Success),
	)

	if a := scheduler.Decide(t.ID, p); a != nil {
		name := scheduler.JobFor(a)
		// an unreachable queue is an infra fault: the retry probes again and
		// stores a second outcome
		if _, err := d.Jobs.Enqueue(ctx, name, a); err != nil {
			return nil, fmt.Errorf("enqueue %s for %s: %w", name, t.ID, err)
		}
		res.Alert = name
	}
	return res, nil
}

func (d *Deps) AlertHTTPError(ctx context.Context, job *queue.Job) (any, error) {
	var a domain.AlertJob
	if err := job.Decode(&a); err != nil {
		return nil, err
	}
	return d.Alerter.SendHTTPError(ctx, a.TargetID)
}

func (d *Deps) AlertException(ctx context.Context, job *queue.Job) (any, error) {
	var a domain.AlertJob
	if err := job.Decode(&a); err != nil {
		return nil, err
	}
	if a.Kind == "" {
		return nil, queue.NoRetry(fmt.Errorf("alert_exception for %s without kind", a.TargetID))
	}
	return d.Alerter.SendException(ctx, a.TargetID, a.Kind, a.Error)
}
