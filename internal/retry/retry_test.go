package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/jobscout/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusServer answers with the status returned by fn for each call (1-based).
func statusServer(t *testing.T, fn func(call int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(fn(n))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	srv, calls := statusServer(t, func(int32) int { return http.StatusOK })

	client := &http.Client{Transport: NewTransport(nil, 2, 10*time.Millisecond, discardLogger())}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestRetry_RetriesOn5xx_SucceedsOnSecondAttempt(t *testing.T) {
	srv, calls := statusServer(t, func(n int32) int {
		if n == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})

	client := &http.Client{Transport: NewTransport(nil, 2, 10*time.Millisecond, discardLogger())}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRetry_DoesNotRetryOn4xx(t *testing.T) {
	srv, calls := statusServer(t, func(int32) int { return http.StatusNotFound })

	client := &http.Client{Transport: NewTransport(nil, 2, 10*time.Millisecond, discardLogger())}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 passed through, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", calls.Load())
	}
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	srv, calls := statusServer(t, func(int32) int { return http.StatusInternalServerError })

	client := &http.Client{Transport: NewTransport(nil, 2, 10*time.Millisecond, discardLogger())}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected final 500, got %d", resp.StatusCode)
	}
	// 1 initial + 2 retries = 3
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", calls.Load())
	}
}

func TestRetry_DoesNotRetryPost(t *testing.T) {
	srv, calls := statusServer(t, func(int32) int { return http.StatusBadGateway })

	client := &http.Client{Transport: NewTransport(nil, 2, 10*time.Millisecond, discardLogger())}
	resp, err := client.Post(srv.URL, "text/plain", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call for POST, got %d", calls.Load())
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	srv, calls := statusServer(t, func(int32) int { return http.StatusInternalServerError })

	ctx, cancel := context.WithCancel(context.Background())
	client := &http.Client{Transport: NewTransport(nil, 2, time.Second, discardLogger())}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error from context cancellation, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls.Load())
	}
}

func TestBackoffDelay_PrefersRetryAfter(t *testing.T) {
	tr := NewTransport(nil, 2, time.Second, discardLogger())

	got := tr.backoffDelay(1, &model.HTTPError{StatusCode: 429, RetryAfter: 3 * time.Second})
	if got != 3*time.Second {
		t.Errorf("expected Retry-After of 3s, got %v", got)
	}

	got = tr.backoffDelay(1, &model.HTTPError{StatusCode: 429, RetryAfter: time.Hour})
	if got != maxRetryAfter {
		t.Errorf("expected Retry-After capped at %v, got %v", maxRetryAfter, got)
	}

	got = tr.backoffDelay(2, errors.New("connection reset"))
	if got < 1400*time.Millisecond || got > 2600*time.Millisecond {
		t.Errorf("expected ~2s ±30%%, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("120"); got != 120*time.Second {
		t.Errorf("expected 120s, got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("expected 0 for empty header, got %v", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Errorf("expected 0 for garbage, got %v", got)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > 31*time.Second {
		t.Errorf("expected ~30s from HTTP date, got %v", got)
	}
}
