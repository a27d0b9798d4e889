package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

// Recorder persists probe outcomes and the target's live status.
type Recorder struct {
	results repo.ResultStore
	log     *zap.Logger
}

func NewRecorder(results repo.ResultStore, logger *zap.Logger) *Recorder {
	return &Recorder{results: results, log: logger.Named("recorder")}
}

// Record stores one outcome row and sets last_check_status. Recording the
// same (target, start time) twice is not an error.
func (r *Recorder) Record(ctx context.Context, id domain.TargetID, p domain.ProbeOutcome) (*domain.Outcome, error) {
	o := domain.NewOutcome(id, p)
	err := r.results.RecordOutcome(ctx, o)
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		r.log.Info("outcome_duplicate",
			zap.String("target_id", string(id)),
			zap.Time("start_time", o.StartTime),
		)
	case err != nil:
		return nil, fmt.Errorf("record outcome for %s: %w", id, err)
	}
	return o, nil
}
