package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/probe"
	"github.com/hamed0406/watchdog/internal/queue"
	"github.com/hamed0406/watchdog/internal/repo/memory"
	"github.com/hamed0406/watchdog/internal/scheduler"
)

// --- fakes ---

type stubChecker struct {
	out domain.ProbeOutcome
	n   int
}

// Check returns the programmed outcome with a fresh start time per call,
// like a real probe would.
func (s *stubChecker) Check(ctx context.Context, spec domain.ProbeSpec) domain.ProbeOutcome {
	s.n++
	o := s.out
	o.StartedAt = time.Date(2026, 1, 1, 0, 0, s.n, 0, time.UTC)
	return o
}

type sentJob struct {
	name string
	args any
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []sentJob
	err  error
}

func (r *recordingJobs) Enqueue(ctx context.Context, name string, args any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.jobs = append(r.jobs, sentJob{name: name, args: args})
	return "id", nil
}

type nopNotifier struct{ n int }

func (n *nopNotifier) Send(ctx context.Context, dest int64, text string) (bool, error) {
	n.n++
	return true, nil
}

func newDeps(t *testing.T, chk probe.Checker) (*Deps, *memory.Store, *recordingJobs, *domain.Target) {
	t.Helper()
	store := memory.New()
	chat := int64(5)
	o := &domain.Owner{Username: "dave", TelegramChatID: &chat}
	_ = store.AddOwner(context.Background(), o)
	tgt, _ := domain.NewTarget(o.ID, "", "https://example.com", "GET", 60, time.Now())
	if err := store.Add(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}
	jobs := &recordingJobs{}
	log := zap.NewNop()
	return &Deps{
		Log:      log,
		Targets:  store,
		Checker:  chk,
		Recorder: scheduler.NewRecorder(store, log),
		Alerter:  scheduler.NewAlerter(store, store, &nopNotifier{}, log),
		Jobs:     jobs,
	}, store, jobs, tgt
}

func checkJob(t *testing.T, id domain.TargetID) *queue.Job {
	t.Helper()
	b, err := json.Marshal(scheduler.CheckArgs{TargetID: id})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "j1", Name: scheduler.JobCheckTarget, Payload: b}
}

// --- probe job properties ---

func TestCheckTarget_Timeout(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.Timeout, DurationMS: 10000, Error: "Timeout: the site did not respond within 10 seconds"}}
	d, store, jobs, tgt := newDeps(t, chk)

	res, err := d.CheckTarget(context.Background(), checkJob(t, tgt.ID))
	if err != nil {
		t.Fatalf("CheckTarget: %v", err)
	}
	if res.(CheckResult).Status != StatusCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	rows, _ := store.ListOutcomes(context.Background(), tgt.ID, 10)
	if len(rows) != 1 || rows[0].StatusCode != nil || rows[0].Success {
		t.Fatalf("want one failed record without status, got %+v", rows)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].name != scheduler.JobAlertException {
		t.Fatalf("want one exception alert, got %+v", jobs.jobs)
	}
	a := jobs.jobs[0].args.(*domain.AlertJob)
	if a.Kind != domain.AlertTimeout || a.Error == "" {
		t.Fatalf("unexpected alert payload %+v", a)
	}
}

func TestCheckTarget_HTTP503(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.Responded, StatusCode: 503, DurationMS: 80}}
	d, store, jobs, tgt := newDeps(t, chk)

	if _, err := d.CheckTarget(context.Background(), checkJob(t, tgt.ID)); err != nil {
		t.Fatalf("CheckTarget: %v", err)
	}
	rows, _ := store.ListOutcomes(context.Background(), tgt.ID, 10)
	if len(rows) != 1 || rows[0].StatusCode == nil || *rows[0].StatusCode != 503 || rows[0].Success {
		t.Fatalf("want one 503 record, got %+v", rows)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].name != scheduler.JobAlertHTTPError {
		t.Fatalf("want one http error alert, got %+v", jobs.jobs)
	}
	a := jobs.jobs[0].args.(*domain.AlertJob)
	if a.Kind != "" || a.Error != "" || a.TargetID != tgt.ID {
		t.Fatalf("http alert must carry only the target id: %+v", a)
	}
	got, _ := store.Get(context.Background(), tgt.ID)
	if got.LastCheckStatus != domain.StatusFailure {
		t.Fatalf("status not updated")
	}
}

func TestCheckTarget_HTTP200(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.Responded, StatusCode: 200, DurationMS: 12}}
	d, store, jobs, tgt := newDeps(t, chk)

	res, err := d.CheckTarget(context.Background(), checkJob(t, tgt.ID))
	if err != nil {
		t.Fatalf("CheckTarget: %v", err)
	}
	if r := res.(CheckResult); !r.IsSuccess || r.StatusCode == nil || *r.StatusCode != 200 {
		t.Fatalf("unexpected result %+v", r)
	}
	rows, _ := store.ListOutcomes(context.Background(), tgt.ID, 10)
	if len(rows) != 1 || !rows[0].Success {
		t.Fatalf("want one success record, got %+v", rows)
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("want no alerts, got %+v", jobs.jobs)
	}
}

func TestCheckTarget_RedeliveryRecordsTwice(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.Responded, StatusCode: 503}}
	d, store, jobs, tgt := newDeps(t, chk)

	job := checkJob(t, tgt.ID)
	for i := 0; i < 2; i++ {
		if _, err := d.CheckTarget(context.Background(), job); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	rows, _ := store.ListOutcomes(context.Background(), tgt.ID, 10)
	if len(rows) != 2 || rows[0].StartTime.Equal(rows[1].StartTime) {
		t.Fatalf("want two records with distinct start times, got %+v", rows)
	}
	if len(jobs.jobs) != 2 {
		t.Fatalf("each delivery raises its own alert, got %d", len(jobs.jobs))
	}
}

func TestCheckTarget_SkipsMissingAndPaused(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.Responded, StatusCode: 200}}
	d, store, _, tgt := newDeps(t, chk)

	res, err := d.CheckTarget(context.Background(), checkJob(t, "gone"))
	if err != nil || res.(CheckResult).Reason != "not_found" {
		t.Fatalf("want skipped/not_found, got %+v %v", res, err)
	}

	_ = store.SetActive(context.Background(), tgt.ID, false)
	res, err = d.CheckTarget(context.Background(), checkJob(t, tgt.ID))
	if err != nil || res.(CheckResult).Reason != "paused" {
		t.Fatalf("want skipped/paused, got %+v %v", res, err)
	}
	if chk.n != 0 {
		t.Fatalf("skipped jobs must not probe")
	}
}

func TestCheckTarget_AlertEnqueueFailureIsFault(t *testing.T) {
	chk := &stubChecker{out: domain.ProbeOutcome{Classification: domain.ConnectionError, Error: "Connection error: refused"}}
	d, _, jobs, tgt := newDeps(t, chk)
	jobs.err = queue.ErrQueueFull

	if _, err := d.CheckTarget(context.Background(), checkJob(t, tgt.ID)); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("want queue fault, got %v", err)
	}
}

func TestCheckTarget_MalformedPayload(t *testing.T) {
	d, _, _, _ := newDeps(t, &stubChecker{})
	_, err := d.CheckTarget(context.Background(), &queue.Job{Name: scheduler.JobCheckTarget, Payload: []byte(`[1]`)})
	if !queue.IsNoRetry(err) {
		t.Fatalf("want no-retry error, got %v", err)
	}
}

func TestAlertHandlers(t *testing.T) {
	d, _, _, tgt := newDeps(t, &stubChecker{})

	b, _ := json.Marshal(domain.AlertJob{TargetID: tgt.ID, Kind: domain.AlertTimeout, Error: "Timeout: x"})
	res, err := d.AlertException(context.Background(), &queue.Job{Name: scheduler.JobAlertException, Payload: b})
	if err != nil || res.(scheduler.AlertReport).Result != scheduler.AlertSent {
		t.Fatalf("want sent, got %+v %v", res, err)
	}

	b, _ = json.Marshal(domain.AlertJob{TargetID: tgt.ID})
	res, err = d.AlertHTTPError(context.Background(), &queue.Job{Name: scheduler.JobAlertHTTPError, Payload: b})
	if err != nil || res.(scheduler.AlertReport).Result != scheduler.AlertSent {
		t.Fatalf("want sent, got %+v %v", res, err)
	}

	_, err = d.AlertException(context.Background(), &queue.Job{Name: scheduler.JobAlertException, Payload: b})
	if !queue.IsNoRetry(err) {
		t.Fatalf("want no-retry for missing kind, got %v", err)
	}
}

// TestPipeline runs a tick through the real queue, checker and alerter.
func TestPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	log := zap.NewNop()
	store := memory.New()
	chat := int64(99)
	o := &domain.Owner{Username: "erin", TelegramChatID: &chat}
	_ = store.AddOwner(ctx, o)
	now := time.Now().UTC()
	tgt, _ := domain.NewTarget(o.ID, "", srv.URL, "GET", 60, now.Add(-2*time.Minute))
	_ = store.Add(ctx, tgt)

	q := queue.New(queue.Config{Workers: 2, JobTimeout: 5 * time.Second}, log)
	chk := probe.NewHTTPChecker(probe.Options{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})
	defer chk.Close()
	n := &nopNotifier{}
	Register(q, &Deps{
		Log:      log,
		Targets:  store,
		Checker:  chk,
		Recorder: scheduler.NewRecorder(store, log),
		Alerter:  scheduler.NewAlerter(store, store, n, log),
		Jobs:     q,
	})
	q.Start(ctx)
	defer q.Stop(ctx)

	sched := scheduler.New(log, store, q, 100, "")
	res, err := sched.Tick(ctx)
	if err != nil || res.Enqueued != 1 {
		t.Fatalf("Tick: %+v %v", res, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := q.Snapshot(); s.Completed >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n.n != 1 {
		t.Fatalf("want one alert delivered, got %d (snapshot %+v)", n.n, q.Snapshot())
	}
	rows, _ := store.ListOutcomes(ctx, tgt.ID, 10)
	if len(rows) != 1 || *rows[0].StatusCode != 503 {
		t.Fatalf("want one 503 outcome, got %+v", rows)
	}
}
