package research

import (
	"errors"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/backoff"
)

// DefaultMaxRetries bounds both the local rate-limit loop and the upstream
// retry loop.
const DefaultMaxRetries = 3

// nextDelay decides whether a failed attempt should be retried and how long
// to wait first. attempt is zero-based. The decision depends only on the
// attempt count and the error class; an upstream-provided retry hint wins
// over computed backoff.
func nextDelay(err error, attempt, maxRetries int, base, max time.Duration) (time.Duration, bool) {
	if attempt >= maxRetries {
		return 0, false
	}

	var rerr *Error
	if !errors.As(err, &rerr) || !rerr.Retryable() {
		return 0, false
	}

	if rerr.RetryAfter > 0 {
		return rerr.RetryAfter, true
	}
	return backoff.Delay(attempt, base, max), true
}
