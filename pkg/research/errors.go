package research

import (
	"fmt"
	"time"
)

// Kind classifies a research gateway failure.
type Kind string

const (
	// KindRateLimit covers both the local limiter and upstream 429s; the
	// error carries the suggested wait.
	KindRateLimit Kind = "RATE_LIMIT"
	// KindServerError is an upstream 5xx.
	KindServerError Kind = "SERVER_ERROR"
	// KindNetwork is a transport-level failure before a status was read.
	KindNetwork Kind = "NETWORK_ERROR"
	// KindTimeout is a deadline or upstream timeout.
	KindTimeout Kind = "TIMEOUT"
	// KindAuth means the upstream rejected our credentials. Not retried.
	KindAuth Kind = "AUTH_ERROR"
	// KindAPI is any other non-2xx upstream response. Not retried.
	KindAPI Kind = "API_ERROR"
	// KindEmptyResponse means the upstream returned no usable content.
	KindEmptyResponse Kind = "EMPTY_RESPONSE"
)

// Error is a typed failure surfaced to gateway callers. RetryAfter is set
// for rate-limit errors so the UI can tell users how long to wait.
type Error struct {
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServerError, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}
