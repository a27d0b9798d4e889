package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/watchdog/internal/domain"
)

var (
	// ErrDuplicate is returned when an outcome for the same target and
	// start time was already recorded.
	ErrDuplicate = errors.New("outcome already recorded")
	ErrNotFound  = errors.New("not found")
)

// DispatchFunc is called for each due target inside the dispatch
// transaction and returns the target's new next_due_at. Returning an error
// rolls the whole batch back. It must not call back into the store.
type DispatchFunc func(t domain.Target) (time.Time, error)

// Ports (interfaces). The memory, sqlite and postgres adapters implement them.
type TargetStore interface {
	Add(ctx context.Context, t *domain.Target) error
	// Get returns nil, nil if the target does not exist.
	Get(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	List(ctx context.Context) ([]domain.Target, error)
	SetActive(ctx context.Context, id domain.TargetID, active bool) error
	// Dispatch selects up to limit active targets with next_due_at <= now,
	// calls fn for each and writes the returned due times, all in one
	// transaction. It returns the dispatched targets after commit.
	Dispatch(ctx context.Context, now time.Time, limit int, fn DispatchFunc) ([]domain.Target, error)
}

type ResultStore interface {
	// RecordOutcome inserts the outcome and sets the target's
	// last_check_status with a single-field update, in one transaction.
	RecordOutcome(ctx context.Context, o *domain.Outcome) error
	// LatestOutcome returns nil, nil when the target has no outcomes.
	LatestOutcome(ctx context.Context, id domain.TargetID) (*domain.Outcome, error)
	ListOutcomes(ctx context.Context, id domain.TargetID, limit int) ([]domain.Outcome, error)
}

type OwnerStore interface {
	AddOwner(ctx context.Context, o *domain.Owner) error
	// OwnerOfTarget joins a target to its owner. The target is nil when it
	// no longer exists; the owner is nil when the row is missing.
	OwnerOfTarget(ctx context.Context, id domain.TargetID) (*domain.Target, *domain.Owner, error)
}

type Store interface {
	TargetStore
	ResultStore
	OwnerStore
	Close() error
}
