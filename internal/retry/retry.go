// Package retry runs an operation with a fixed number of retries and
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy configures Do. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultPolicy is two retries starting at one second (1s, 2s).
var DefaultPolicy = Policy{MaxRetries: 2, InitialBackoff: time.Second}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the retries are
// exhausted, or ctx is cancelled while waiting.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == p.MaxRetries {
			break
		}

		slog.Warn(
			"Operation failed, will retry.",
			"op", op,
			"attempt", attempt+1,
			"maxRetries", p.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, p.MaxRetries, lastErr)
}
