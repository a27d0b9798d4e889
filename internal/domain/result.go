package domain

import "time"

// Classification is how a single probe ended.
type Classification string

const (
	Responded       Classification = "responded"
	Timeout         Classification = "timeout"
	ConnectionError Classification = "connection_error"
	RequestError    Classification = "request_error"
)

// ProbeOutcome is what the executor hands back. Target-side failures live
// here as data; they are never returned as errors.
type ProbeOutcome struct {
	Classification Classification
	StartedAt      time.Time
	DurationMS     int64
	StatusCode     int // only set when Classification == Responded
	Error          string
}

func (o ProbeOutcome) Success() bool {
	return o.Classification == Responded && o.StatusCode >= 200 && o.StatusCode < 400
}

// Outcome is the immutable stored record of one probe attempt.
// (TargetID, StartTime) is unique.
type Outcome struct {
	TargetID     TargetID  `json:"target_id"`
	StartTime    time.Time `json:"start_time"`
	DurationMS   int64     `json:"duration_ms"`
	StatusCode   *int      `json:"status_code"`   // nil when no response arrived
	Success      bool      `json:"is_success"`
	ErrorMessage *string   `json:"error_message"` // nil on a received response
}

func NewOutcome(id TargetID, p ProbeOutcome) *Outcome {
	o := &Outcome{
		TargetID:   id,
		StartTime:  p.StartedAt,
		DurationMS: p.DurationMS,
		Success:    p.Success(),
	}
	if p.Classification == Responded {
		code := p.StatusCode
		o.StatusCode = &code
	}
	if p.Error != "" {
		msg := p.Error
		o.ErrorMessage = &msg
	}
	return o
}

// AlertKind names a message template.
type AlertKind string

const (
	AlertHTTPError  AlertKind = "http_error"
	AlertTimeout    AlertKind = "timeout"
	AlertConnection AlertKind = "connection"
	AlertRequest    AlertKind = "request"
	AlertRecovery   AlertKind = "recovery"
)

// KindFor maps a transport-level classification to its template.
func KindFor(c Classification) AlertKind {
	switch c {
	case Timeout:
		return AlertTimeout
	case ConnectionError:
		return AlertConnection
	case RequestError:
		return AlertRequest
	}
	return AlertHTTPError
}

// AlertJob is the payload of an alert job. Kind and Error are empty for
// HTTP-error alerts, which read the status from the latest stored outcome.
type AlertJob struct {
	TargetID TargetID  `json:"target_id"`
	Kind     AlertKind `json:"kind,omitempty"`
	Error    string    `json:"error,omitempty"`
}
