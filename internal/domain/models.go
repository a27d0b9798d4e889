package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type TargetID string

type OwnerID string

// MinInterval is the shortest schedule a target may have. Intervals must
// also be whole minutes because the scheduler only ticks on minute boundaries.
const MinInterval = 60

// MaxInterval caps the schedule at 31 days.
const MaxInterval = 31 * 24 * 60 * 60

var (
	ErrInvalidURL      = errors.New("invalid target url")
	ErrInvalidMethod   = errors.New("unsupported http method")
	ErrInvalidInterval = errors.New("invalid check interval")
)

var allowedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true,
}

// CheckStatus is the live status of a target. It stays unknown until the
// first probe is recorded.
type CheckStatus int

const (
	StatusUnknown CheckStatus = iota
	StatusSuccess
	StatusFailure
)

func StatusFromBool(ok bool) CheckStatus {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// StatusFromNullable maps a nullable store column onto the tri-state.
func StatusFromNullable(v *bool) CheckStatus {
	if v == nil {
		return StatusUnknown
	}
	return StatusFromBool(*v)
}

// Nullable is the inverse of StatusFromNullable.
func (s CheckStatus) Nullable() *bool {
	switch s {
	case StatusSuccess:
		v := true
		return &v
	case StatusFailure:
		v := false
		return &v
	}
	return nil
}

func (s CheckStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}
	return "unknown"
}

func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CheckStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*s = StatusSuccess
	case "failure":
		*s = StatusFailure
	case "unknown", "":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown check status %q", b)
	}
	return nil
}

type Owner struct {
	ID             OwnerID   `json:"id"`
	Username       string    `json:"username"`
	TelegramChatID *int64    `json:"telegram_chat_id"` // nil: no linked destination
	CreatedAt      time.Time `json:"created_at"`
}

func (o *Owner) HasDestination() bool {
	return o != nil && o.TelegramChatID != nil
}

type Target struct {
	ID              TargetID          `json:"id"`
	OwnerID         OwnerID           `json:"owner_id"`
	Name            string            `json:"name,omitempty"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Interval        int               `json:"interval"` // seconds
	Active          bool              `json:"is_active"`
	NextDueAt       time.Time         `json:"next_check_at"`
	LastCheckStatus CheckStatus       `json:"last_check_status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ProbeSpec is everything the executor needs to hit the endpoint.
type ProbeSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

func (t *Target) Probe() ProbeSpec {
	return ProbeSpec{
		Method:  t.Method,
		URL:     t.URL,
		Headers: t.Headers,
		Body:    t.Body,
	}
}

// DisplayName is what notifications show for the target.
func (t *Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

func (t *Target) IntervalDuration() time.Duration {
	return time.Duration(t.Interval) * time.Second
}

// NextDue is the due time written when the target is dispatched at now:
// the current minute plus one interval.
func (t *Target) NextDue(now time.Time) time.Time {
	return AlignMinute(now).Add(t.IntervalDuration())
}

// AlignMinute truncates to the start of the minute (zero seconds, zero sub-second).
func AlignMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// FirstDue is the due time of a freshly created target: the next minute boundary.
func FirstDue(now time.Time) time.Time {
	return AlignMinute(now).Add(time.Minute)
}

// NewTarget validates the probe spec and schedule and returns an active
// target aligned to the next minute. The store assigns the ID.
func NewTarget(owner OwnerID, name, rawURL, method string, interval int, now time.Time) (*Target, error) {
	u, err := url.ParseRequestURI(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, method)
	}
	if err := ValidateInterval(interval); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Target{
		OwnerID:   owner,
		Name:      name,
		URL:       u.String(),
		Method:    method,
		Interval:  interval,
		Active:    true,
		NextDueAt: FirstDue(now),
		CreatedAt: now,
	}, nil
}

func ValidateInterval(interval int) error {
	if interval < MinInterval {
		return fmt.Errorf("%w: %d is below the minimum of %d seconds", ErrInvalidInterval, interval, MinInterval)
	}
	if interval > MaxInterval {
		return fmt.Errorf("%w: %d is above the maximum of %d seconds", ErrInvalidInterval, interval, MaxInterval)
	}
	if interval%60 != 0 {
		return fmt.Errorf("%w: %d is not a multiple of 60 seconds, try %d", ErrInvalidInterval, interval, (interval/60+1)*60)
	}
	return nil
}
