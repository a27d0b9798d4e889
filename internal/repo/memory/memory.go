package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type outcomeKey struct {
	target domain.TargetID
	start  int64
}

type Store struct {
	mu       sync.RWMutex
	owners   map[domain.OwnerID]*domain.Owner
	targets  map[domain.TargetID]*domain.Target
	outcomes map[outcomeKey]*domain.Outcome
}

func New() *Store {
	return &Store{
		owners:   make(map[domain.OwnerID]*domain.Owner),
		targets:  make(map[domain.TargetID]*domain.Target),
		outcomes: make(map[outcomeKey]*domain.Outcome, 128),
	}
}

func (m *Store) Close() error { return nil }

// ---- OwnerStore ----

func (m *Store) AddOwner(ctx context.Context, o *domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = domain.OwnerID(uuid.NewString())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	cp := *o
	m.owners[o.ID] = &cp
	return nil
}

func (m *Store) OwnerOfTarget(ctx context.Context, id domain.TargetID) (*domain.Target, *domain.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.targets[id]
	if t == nil {
		return nil, nil, nil
	}
	tc := cloneTarget(t)
	o := m.owners[t.OwnerID]
	if o == nil {
		return &tc, nil, nil
	}
	oc := *o
	return &tc, &oc, nil
}

// ---- TargetStore ----

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = domain.TargetID(uuid.NewString())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.owners[t.OwnerID]; !ok {
		return fmt.Errorf("insert target: owner %q: %w", t.OwnerID, repo.ErrNotFound)
	}
	cp := cloneTarget(t)
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.targets[id]
	if t == nil {
		return nil, nil
	}
	cp := cloneTarget(t)
	return &cp, nil
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, cloneTarget(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) SetActive(ctx context.Context, id domain.TargetID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.targets[id]
	if t == nil {
		return fmt.Errorf("set active %q: %w", id, repo.ErrNotFound)
	}
	t.Active = active
	return nil
}

func (m *Store) Dispatch(ctx context.Context, now time.Time, limit int, fn repo.DispatchFunc) ([]domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*domain.Target, 0)
	for _, t := range m.targets {
		if t.Active && !t.NextDueAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(due[j].NextDueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	// stage every advance first so a failure leaves all rows untouched
	next := make([]time.Time, len(due))
	for i, t := range due {
		n, err := fn(cloneTarget(t))
		if err != nil {
			return nil, err
		}
		next[i] = n
	}

	out := make([]domain.Target, 0, len(due))
	for i, t := range due {
		t.NextDueAt = next[i]
		out = append(out, cloneTarget(t))
	}
	return out, nil
}

// ---- ResultStore ----

func (m *Store) RecordOutcome(ctx context.Context, o *domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.targets[o.TargetID]
	if t == nil {
		return fmt.Errorf("insert outcome %q: %w", o.TargetID, repo.ErrNotFound)
	}
	key := outcomeKey{target: o.TargetID, start: o.StartTime.UnixNano()}
	if _, ok := m.outcomes[key]; ok {
		return repo.ErrDuplicate
	}
	cp := *o
	m.outcomes[key] = &cp
	t.LastCheckStatus = domain.StatusFromBool(o.Success)
	return nil
}

func (m *Store) LatestOutcome(ctx context.Context, id domain.TargetID) (*domain.Outcome, error) {
	rows, err := m.ListOutcomes(ctx, id, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (m *Store) ListOutcomes(ctx context.Context, id domain.TargetID, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Outcome, 0)
	for k, o := range m.outcomes {
		if k.target == id {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTarget(t *domain.Target) domain.Target {
	cp := *t
	if t.Headers != nil {
		cp.Headers = make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}
