package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore_DispatchAndRecord(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	o := &domain.Owner{Username: fmt.Sprintf("it-%d", time.Now().UnixNano())}
	if err := store.AddOwner(ctx, o); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}

	// far in the past so rows left by earlier runs sort after ours
	now := time.Date(2001, 1, 1, 0, 0, 30, 0, time.UTC)
	tgt, err := domain.NewTarget(o.ID, "", fmt.Sprintf("https://example.com/it-%d", time.Now().UnixNano()), "GET", 60, now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	tgt.Headers = map[string]string{"X-Env": "it"}
	if err := store.Add(ctx, tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}

	var seen bool
	got, err := store.Dispatch(ctx, now, 0, func(tg domain.Target) (time.Time, error) {
		if tg.ID == tgt.ID {
			seen = true
		}
		return tg.NextDue(now), nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !seen || len(got) == 0 {
		t.Fatalf("added target not dispatched")
	}
	stored, err := store.Get(ctx, tgt.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v", err)
	}
	if want := time.Date(2001, 1, 1, 0, 1, 0, 0, time.UTC); !stored.NextDueAt.Equal(want) {
		t.Fatalf("want next due %v got %v", want, stored.NextDueAt)
	}
	if stored.Headers["X-Env"] != "it" {
		t.Fatalf("headers lost: %+v", stored.Headers)
	}

	start := time.Now().UTC().Truncate(time.Microsecond)
	code := 200
	out := &domain.Outcome{TargetID: tgt.ID, StartTime: start, DurationMS: 42, StatusCode: &code, Success: true}
	if err := store.RecordOutcome(ctx, out); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.RecordOutcome(ctx, out); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	latest, err := store.LatestOutcome(ctx, tgt.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestOutcome: %v", err)
	}
	if !latest.StartTime.Equal(start) || latest.StatusCode == nil || *latest.StatusCode != 200 {
		t.Fatalf("unexpected latest %+v", latest)
	}
	stored, _ = store.Get(ctx, tgt.ID)
	if stored.LastCheckStatus != domain.StatusSuccess {
		t.Fatalf("want success status, got %s", stored.LastCheckStatus)
	}
}
