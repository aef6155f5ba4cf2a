package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrUpstreamUnavailable marks network failures, timeouts and
	// server-side errors of the completion service. These are retryable.
	ErrUpstreamUnavailable = errors.New("completion service unavailable")

	// ErrUpstreamRejected marks empty, malformed or blocked completions and
	// requests the service refused. Retrying the same prompt will not help.
	ErrUpstreamRejected = errors.New("completion rejected")
)

// StatusError is an HTTP-level failure reported by a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the error taxonomy: 408, 429 and 5xx are
// unavailability, every other status is a rejection.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == 408, e.StatusCode == 429, e.StatusCode >= 500:
		return ErrUpstreamUnavailable
	default:
		return ErrUpstreamRejected
	}
}

// Classify wraps err with the matching sentinel unless it already carries one.
// Context expiry and network errors are unavailability; anything else
// unrecognised is treated as unavailability when its message looks
// transient and as a rejection otherwise.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamRejected) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "unavailable", "eof"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUpstreamRejected, err)
}
