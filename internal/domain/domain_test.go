package domain

import (
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNewTarget_AlignsToNextMinute(t *testing.T) {
	now := time.Date(2025, 8, 18, 12, 3, 27, 500, time.UTC)
	tgt, err := NewTarget("U1", "", "https://example.com/health", "", 120, now)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	want := time.Date(2025, 8, 18, 12, 4, 0, 0, time.UTC)
	if !tgt.NextDueAt.Equal(want) {
		t.Fatalf("next due: want %v got %v", want, tgt.NextDueAt)
	}
	if tgt.Method != "GET" || !tgt.Active || tgt.LastCheckStatus != StatusUnknown {
		t.Fatalf("unexpected defaults: %+v", tgt)
	}
	if tgt.DisplayName() != "https://example.com/health" {
		t.Fatalf("display name should fall back to url, got %q", tgt.DisplayName())
	}
}

func TestNewTarget_Validation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		url      string
		method   string
		interval int
		want     error
	}{
		{"no scheme", "example.com", "GET", 60, ErrInvalidURL},
		{"ftp scheme", "ftp://example.com", "GET", 60, ErrInvalidURL},
		{"bad method", "https://example.com", "BREW", 60, ErrInvalidMethod},
		{"too short", "https://example.com", "GET", 30, ErrInvalidInterval},
		{"not whole minutes", "https://example.com", "GET", 90, ErrInvalidInterval},
		{"above 31 days", "https://example.com", "GET", MaxInterval + 60, ErrInvalidInterval},
		{"int64 overflow", "https://example.com", "GET", 153722868 * 60, ErrInvalidInterval},
		{"exactly 31 days", "https://example.com", "GET", MaxInterval, nil},
		{"ok post", "https://example.com", "post", 300, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTarget("U1", "", tc.url, tc.method, tc.interval, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNextDue_AlwaysAfterNow(t *testing.T) {
	tgt := &Target{Interval: 60}
	for _, sec := range []int{0, 1, 30, 59} {
		now := time.Date(2025, 1, 1, 10, 0, sec, 999_999_999, time.UTC)
		next := tgt.NextDue(now)
		if want := time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC); !next.Equal(want) {
			t.Fatalf("sec=%d: want %v got %v", sec, want, next)
		}
		if !next.After(now) {
			t.Fatalf("sec=%d: next due %v not after now %v", sec, next, now)
		}
	}
}

func TestProbeOutcome_Success(t *testing.T) {
	cases := []struct {
		o    ProbeOutcome
		want bool
	}{
		{ProbeOutcome{Classification: Responded, StatusCode: 200}, true},
		{ProbeOutcome{Classification: Responded, StatusCode: 302}, true},
		{ProbeOutcome{Classification: Responded, StatusCode: 399}, true},
		{ProbeOutcome{Classification: Responded, StatusCode: 400}, false},
		{ProbeOutcome{Classification: Responded, StatusCode: 503}, false},
		{ProbeOutcome{Classification: Responded, StatusCode: 101}, false},
		{ProbeOutcome{Classification: Timeout}, false},
	}
	for _, tc := range cases {
		if got := tc.o.Success(); got != tc.want {
			t.Fatalf("%+v: want %v got %v", tc.o, tc.want, got)
		}
	}
}

func TestNewOutcome_NullableFields(t *testing.T) {
	start := time.Now().UTC()
	o := NewOutcome("T1", ProbeOutcome{Classification: Timeout, StartedAt: start, DurationMS: 10000, Error: "Timeout"})
	if o.StatusCode != nil || o.Success || o.ErrorMessage == nil {
		t.Fatalf("timeout outcome wrong: %+v", o)
	}

	o = NewOutcome("T1", ProbeOutcome{Classification: Responded, StartedAt: start, StatusCode: 503})
	if o.StatusCode == nil || *o.StatusCode != 503 || o.Success || o.ErrorMessage != nil {
		t.Fatalf("503 outcome wrong: %+v", o)
	}
}

func TestCheckStatus_Nullable(t *testing.T) {
	for _, s := range []CheckStatus{StatusUnknown, StatusSuccess, StatusFailure} {
		if got := StatusFromNullable(s.Nullable()); got != s {
			t.Fatalf("round trip %v -> %v", s, got)
		}
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var back CheckStatus
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Fatalf("text round trip %q -> %v, %v", text, back, err)
		}
	}
	var bad CheckStatus
	if err := bad.UnmarshalText([]byte("flaky")); err == nil {
		t.Fatalf("want error for unknown status")
	}
}

func TestTarget_JSONRoundTrip(t *testing.T) {
	in := Target{ID: "t1", URL: "https://example.com", Method: "GET", Interval: 60, LastCheckStatus: StatusSuccess}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Target
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	if out.LastCheckStatus != StatusSuccess {
		t.Fatalf("status lost: %v", out.LastCheckStatus)
	}
}

func TestNextDue_LongestInterval(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 30, 0, time.UTC)
	tgt := Target{Interval: MaxInterval}
	if next := tgt.NextDue(now); !next.After(now) {
		t.Fatalf("next due %s is not after %s", next, now)
	}
}
