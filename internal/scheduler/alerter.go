package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/metrics"
	"github.com/hamed0406/watchdog/internal/notify"
	"github.com/hamed0406/watchdog/internal/repo"
)

type AlertResult string

const (
	AlertSent     AlertResult = "sent"
	AlertSkipped  AlertResult = "skipped"
	AlertRejected AlertResult = "rejected"
)

// Skip reasons.
const (
	ReasonNotFound      = "not_found"
	ReasonNoDestination = "no_destination"
	ReasonNoChannel     = "no_channel"
)

type AlertReport struct {
	TargetID domain.TargetID  `json:"target_id"`
	Kind     domain.AlertKind `json:"kind"`
	Result   AlertResult      `json:"result"`
	Reason   string           `json:"reason,omitempty"`
}

// Decide returns the alert job an outcome calls for, or nil. Transport
// failures always alert; a response alerts when its status is 400 or above.
func Decide(id domain.TargetID, p domain.ProbeOutcome) *domain.AlertJob {
	if p.Classification != domain.Responded {
		return &domain.AlertJob{TargetID: id, Kind: domain.KindFor(p.Classification), Error: p.Error}
	}
	if p.StatusCode >= 400 {
		return &domain.AlertJob{TargetID: id}
	}
	return nil
}

// JobFor names the queue job that delivers a decided alert.
func JobFor(a *domain.AlertJob) string {
	if a.Kind == "" || a.Kind == domain.AlertHTTPError {
		return JobAlertHTTPError
	}
	return JobAlertException
}

// Alerter delivers one alert per call. It never retries a rejected
// message; transport errors are returned so the queue can retry.
type Alerter struct {
	owners   repo.OwnerStore
	results  repo.ResultStore
	notifier notify.Notifier
	log      *zap.Logger
}

func NewAlerter(owners repo.OwnerStore, results repo.ResultStore, n notify.Notifier, logger *zap.Logger) *Alerter {
	return &Alerter{owners: owners, results: results, notifier: n, log: logger.Named("alerter")}
}

// SendHTTPError reports a failing status code. Code and duration come from
// the most recent stored outcome.
func (a *Alerter) SendHTTPError(ctx context.Context, id domain.TargetID) (AlertReport, error) {
	return a.deliver(ctx, id, domain.AlertHTTPError, func(t *domain.Target) (notify.MessageData, error) {
		d := notify.MessageData{Name: t.Name, URL: t.URL}
		last, err := a.results.LatestOutcome(ctx, id)
		if err != nil {
			return d, fmt.Errorf("latest outcome for %s: %w", id, err)
		}
		if last != nil {
			if last.StatusCode != nil {
				d.StatusCode = *last.StatusCode
			}
			d.DurationMS = last.DurationMS
		}
		return d, nil
	})
}

// SendException reports a timeout, connection or request failure.
func (a *Alerter) SendException(ctx context.Context, id domain.TargetID, kind domain.AlertKind, errText string) (AlertReport, error) {
	return a.deliver(ctx, id, kind, func(t *domain.Target) (notify.MessageData, error) {
		return notify.MessageData{Name: t.Name, URL: t.URL, Error: errText}, nil
	})
}

func (a *Alerter) deliver(ctx context.Context, id domain.TargetID, kind domain.AlertKind, fill func(*domain.Target) (notify.MessageData, error)) (AlertReport, error) {
	rep := AlertReport{TargetID: id, Kind: kind}
	log := a.log.With(zap.String("target_id", string(id)), zap.String("kind", string(kind)))

	t, owner, err := a.owners.OwnerOfTarget(ctx, id)
	if err != nil {
		return rep, fmt.Errorf("resolve owner of %s: %w", id, err)
	}
	switch {
	case t == nil:
		return a.skip(log, rep, ReasonNotFound), nil
	case !owner.HasDestination():
		return a.skip(log, rep, ReasonNoDestination), nil
	case a.notifier == nil:
		return a.skip(log, rep, ReasonNoChannel), nil
	}

	data, err := fill(t)
	if err != nil {
		return rep, err
	}
	text, err := notify.Render(kind, data)
	if err != nil {
		return rep, fmt.Errorf("render %s: %w", kind, err)
	}

	ok, err := a.notifier.Send(ctx, *owner.TelegramChatID, text)
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(string(kind), "error").Inc()
		return rep, fmt.Errorf("send %s alert: %w", kind, err)
	}
	if !ok {
		rep.Result = AlertRejected
		metrics.AlertsTotal.WithLabelValues(string(kind), string(AlertRejected)).Inc()
		log.Warn("alert_rejected", zap.Int64("chat_id", *owner.TelegramChatID))
		return rep, nil
	}
	rep.Result = AlertSent
	metrics.AlertsTotal.WithLabelValues(string(kind), string(AlertSent)).Inc()
	log.Info("alert_sent", zap.Int64("chat_id", *owner.TelegramChatID))
	return rep, nil
}

func (a *Alerter) skip(log *zap.Logger, rep AlertReport, reason string) AlertReport {
	rep.Result = AlertSkipped
	rep.Reason = reason
	metrics.AlertsTotal.WithLabelValues(string(rep.Kind), string(AlertSkipped)).Inc()
	log.Info("alert_skipped", zap.String("reason", reason))
	return rep
}
