package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/jobscout/internal/model"
)

// maxRetryAfter caps how long a server-provided Retry-After may stall a run.
const maxRetryAfter = time.Minute

// Transport is an http.RoundTripper that retries idempotent requests on
// transient failures with exponential backoff and jitter.
type Transport struct {
	base       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewTransport wraps base with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func NewTransport(base http.RoundTripper, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:       base,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// RoundTrip sends the request, retrying GET and HEAD on 429, 5xx and network errors.
// The last response is returned unchanged so callers still see the final status.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return resp, err
	}

	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		failure := asError(resp, err)
		if !isRetryable(failure) {
			return resp, err
		}

		delay := t.backoffDelay(attempt, failure)
		t.logger.Warn("retrying after transient error",
			"url", req.URL.String(),
			"attempt", attempt,
			"max_retries", t.maxRetries,
			"delay", delay,
			"error", failure,
		)

		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		select {
		case <-req.Context().Done():
			return nil, fmt.Errorf("retry cancelled: %w", req.Context().Err())
		case <-time.After(delay):
		}

		resp, err = t.base.RoundTrip(req)
	}

	return resp, err
}

// CloseIdleConnections forwards to the wrapped transport when supported.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// asError folds a transport result into a single error value for retry decisions.
func asError(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return errors.New("nil response")
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return nil
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// If the error includes a Retry-After duration (HTTP 429), that takes precedence.
func (t *Transport) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return min(httpErr.RetryAfter, maxRetryAfter)
	}

	// Exponential: baseDelay * 2^(attempt-1)
	delay := t.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)

	return delay
}

// isRetryable returns true if the error represents a transient failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500
	}

	// Non-HTTP errors (network, DNS, etc.) are retryable.
	return true
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
// Returns zero if absent or unparseable.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
