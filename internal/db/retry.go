package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrTransient marks a statement that kept failing with a busy store
// after every retry attempt was used.
var ErrTransient = errors.New("store temporarily unavailable")

// RetryPolicy bounds how often a single statement is retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry matches the busy timeout: five attempts, 50ms doubling.
var DefaultRetry = RetryPolicy{Attempts: 5, BaseDelay: 50 * time.Millisecond}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// delay returns the wait before attempt n (n >= 1).
func (p RetryPolicy) delay(n int) time.Duration {
	return p.BaseDelay << (n - 1)
}

// Retry runs fn until it succeeds, fails with a non-busy error, the
// context ends, or the policy is exhausted. Exhaustion is marked ErrTransient.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	p = p.normalized()
	var (
		out T
		err error
	)
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return out, errors.Wrapf(ctx.Err(), "retry aborted (last error: %v)", err)
			}
		}
		out, err = fn()
		if err == nil || !IsBusy(err) {
			return out, err
		}
	}
	return out, errors.Mark(errors.Wrapf(err, "gave up after %d attempts", p.Attempts), ErrTransient)
}

// WithRetry is Retry for statements without a result.
func WithRetry(ctx context.Context, p RetryPolicy, fn func() error) error {
	_, err := Retry(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
