package probe

import (
	"context"
	"time"

	"github.com/hamed0406/watchdog/internal/domain"
)

// Checker performs exactly one probe. It never retries and never returns
// target-side failures as errors: they are classified into the outcome.
type Checker interface {
	Check(ctx context.Context, spec domain.ProbeSpec) domain.ProbeOutcome
}

// Options tunes the shared HTTP client. Connect and read ceilings are
// independent.
type Options struct {
	ConnectTimeout  time.Duration // dial + TLS handshake
	ReadTimeout     time.Duration // waiting for the response
	MaxConnsPerHost int
	MaxIdleConns    int
	FollowRedirects bool
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     10 * time.Second,
		MaxConnsPerHost: 100,
		MaxIdleConns:    20,
		FollowRedirects: true,
	}
}
