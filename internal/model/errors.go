package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrDiscovery marks a source failure. The orchestrator skips the adapter
// for the current run, or only the organization when a frontier listing
// fails.
var ErrDiscovery = errors.New("discovery failed")

// ErrRobotsDisallowed is a politeness-policy refusal. It wraps ErrDiscovery
// and must not be retried against the same URL.
var ErrRobotsDisallowed = fmt.Errorf("%w: disallowed by robots.txt", ErrDiscovery)

// ErrHostNotAllowed is returned for requests outside an adapter's allow-list.
var ErrHostNotAllowed = fmt.Errorf("%w: host not allowed", ErrDiscovery)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Discoveryf wraps err as a discovery failure with context.
func Discoveryf(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err == nil {
		return fmt.Errorf("%s: %w", msg, ErrDiscovery)
	}
	if errors.Is(err, ErrDiscovery) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrDiscovery, err)
}
