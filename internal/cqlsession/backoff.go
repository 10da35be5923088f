package cqlsession

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff wraps github.com/cenkalti/backoff/v4 to retry only the
// transient errors classify() recognizes; anything else (precondition
// violations, serialization errors, permanent store errors) returns
// immediately via backoff.Permanent so callers see it unretried.
type ExponentialBackoff struct {
	maxElapsed int
}

// NewExponentialBackoff builds a Backoff that retries at most maxRetries
// times after the first attempt.
func NewExponentialBackoff(maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{maxElapsed: maxRetries}
}

func (e *ExponentialBackoff) Retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxElapsed)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if classify(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
