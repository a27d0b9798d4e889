package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Notifier delivers one message to a destination chat. It reports false
// with a nil error when the channel answered and refused the message; an
// error means the channel could not be reached at all.
type Notifier interface {
	Send(ctx context.Context, dest int64, text string) (bool, error)
}

// Multi fans a message out to every configured channel. It reports
// delivered if any channel took the message. Transport errors surface only
// when no channel answered at all.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, dest int64, text string) (bool, error) {
	var (
		delivered bool
		answered  bool
		errs      error
	)
	for _, n := range m {
		if n == nil {
			continue
		}
		ok, err := n.Send(ctx, dest, text)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		answered = true
		delivered = delivered || ok
	}
	if answered {
		return delivered, nil
	}
	return false, errs
}
