package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "watchdog.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTarget(t *testing.T, s *Store, due time.Time) *domain.Target {
	t.Helper()
	ctx := context.Background()
	o := &domain.Owner{Username: "alice"}
	if err := s.AddOwner(ctx, o); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}
	tgt, err := domain.NewTarget(o.ID, "api", "https://example.com/health", "post", 120, due.Add(-time.Minute))
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	tgt.NextDueAt = due
	tgt.Headers = map[string]string{"Authorization": "Bearer x"}
	tgt.Body = `{"ping":1}`
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return tgt
}

func TestSQLiteStore_TargetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	want := addTarget(t, s, due)

	got, err := s.Get(ctx, want.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("target mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("want nil,nil for missing target")
	}
}

func TestSQLiteStore_DispatchAndSetActive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 3, 1, 9, 5, 12, 0, time.UTC)
	a := addTarget(t, s, now.Add(-time.Minute))
	b := addTarget(t, s, now.Add(-2*time.Minute))
	addTarget(t, s, now.Add(time.Minute))

	if err := s.SetActive(ctx, a.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := s.Dispatch(ctx, now, 100, func(tg domain.Target) (time.Time, error) {
		return tg.NextDue(now), nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("want only %s, got %+v", b.ID, got)
	}
	stored, _ := s.Get(ctx, b.ID)
	want := time.Date(2026, 3, 1, 9, 7, 0, 0, time.UTC)
	if !stored.NextDueAt.Equal(want) {
		t.Fatalf("want next due %v, got %v", want, stored.NextDueAt)
	}

	// second tick in the same minute finds nothing
	got, err = s.Dispatch(ctx, now, 100, func(tg domain.Target) (time.Time, error) {
		t.Fatalf("unexpected dispatch of %s", tg.ID)
		return time.Time{}, nil
	})
	if err != nil || len(got) != 0 {
		t.Fatalf("want empty dispatch, got %d %v", len(got), err)
	}

	if err := s.SetActive(ctx, "missing", true); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_DispatchRollback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := addTarget(t, s, now.Add(-3*time.Minute))
	addTarget(t, s, now.Add(-time.Minute))

	boom := errors.New("boom")
	n := 0
	_, err := s.Dispatch(ctx, now, 0, func(tg domain.Target) (time.Time, error) {
		n++
		if n == 2 {
			return time.Time{}, boom
		}
		return tg.NextDue(now), nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	stored, _ := s.Get(ctx, a.ID)
	if !stored.NextDueAt.Equal(a.NextDueAt) {
		t.Fatalf("rolled back dispatch still advanced %s", a.ID)
	}
}

func TestSQLiteStore_RecordOutcome(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tgt := addTarget(t, s, time.Now().UTC())
	start := time.Now().UTC().Truncate(time.Microsecond)

	msg := "Timeout: the site did not respond within 10 seconds"
	fail := &domain.Outcome{TargetID: tgt.ID, StartTime: start, DurationMS: 10003, ErrorMessage: &msg}
	if err := s.RecordOutcome(ctx, fail); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, fail); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	stored, _ := s.Get(ctx, tgt.ID)
	if stored.LastCheckStatus != domain.StatusFailure {
		t.Fatalf("want failure, got %s", stored.LastCheckStatus)
	}
	if !stored.NextDueAt.Equal(tgt.NextDueAt) {
		t.Fatalf("recording must not touch next_check_at")
	}

	code := 200
	ok := &domain.Outcome{TargetID: tgt.ID, StartTime: start.Add(time.Minute), DurationMS: 40, StatusCode: &code, Success: true}
	if err := s.RecordOutcome(ctx, ok); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	latest, err := s.LatestOutcome(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("LatestOutcome: %v", err)
	}
	if diff := cmp.Diff(ok, latest); diff != "" {
		t.Fatalf("latest mismatch (-want +got):\n%s", diff)
	}
	all, _ := s.ListOutcomes(ctx, tgt.ID, 10)
	if len(all) != 2 || all[1].StatusCode != nil || all[1].ErrorMessage == nil {
		t.Fatalf("unexpected history %+v", all)
	}

	err = s.RecordOutcome(ctx, &domain.Outcome{TargetID: "gone", StartTime: start})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_OwnerOfTarget(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	chat := int64(555)
	o := &domain.Owner{Username: "bob", TelegramChatID: &chat}
	if err := s.AddOwner(ctx, o); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}
	tgt, _ := domain.NewTarget(o.ID, "", "https://example.org", "", 60, time.Now())
	if err := s.Add(ctx, tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}

	gt, gowner, err := s.OwnerOfTarget(ctx, tgt.ID)
	if err != nil || gt == nil || gowner == nil {
		t.Fatalf("OwnerOfTarget: %v %v %v", gt, gowner, err)
	}
	if *gowner.TelegramChatID != 555 || gt.Method != "GET" {
		t.Fatalf("unexpected join result %+v %+v", gt, gowner)
	}
}
