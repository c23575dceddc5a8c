// Package backoff computes retry delays for calls rejected by the rate
// limiter or failed upstream.
package backoff

import (
	"math/rand"
	"time"
)

const (
	// DefaultBase is the delay before exponential growth is applied.
	DefaultBase = time.Second
	// DefaultMax caps the un-jittered delay.
	DefaultMax = 30 * time.Second
	// jitterFraction is the upper bound of the random slack added to each
	// delay, as a fraction of the capped value. Jitter keeps simultaneously
	// rate-limited callers from retrying in lockstep.
	jitterFraction = 0.2
)

// Delay returns the wait before retry number attempt: min(2^attempt * base,
// max) plus uniform jitter in [0, 20%], floored to whole milliseconds.
// Non-positive base or max fall back to the package defaults.
func Delay(attempt int, base, max time.Duration) time.Duration {
	return delay(attempt, base, max, rand.Float64)
}

func delay(attempt int, base, max time.Duration, rnd func() float64) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	d := max
	if attempt < 63 {
		if shifted := base << uint(attempt); shifted > 0 && shifted < max {
			d = shifted
		}
	}

	jitter := time.Duration(rnd() * jitterFraction * float64(d))
	return (d + jitter).Truncate(time.Millisecond)
}
