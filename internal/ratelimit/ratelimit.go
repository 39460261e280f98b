package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SlidingWindow allows at most limit acquisitions within any trailing window.
// A single instance is shared by every request one adapter issues.
type SlidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time // oldest first
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindow creates a limiter admitting limit acquisitions per window.
// A non-positive limit is treated as one.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// PerMinute is a convenience constructor for an N-requests-per-minute budget.
func PerMinute(rpm int) *SlidingWindow {
	return NewSlidingWindow(rpm, time.Minute)
}

// Acquire blocks until a slot is free in the trailing window, then records it.
// Returns an error if the context is cancelled while waiting.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		wait := l.tryRecord()
		if wait <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter wait: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// tryRecord records a timestamp if a slot is free and returns zero, otherwise
// returns how long until the oldest stamp leaves the window.
func (l *SlidingWindow) tryRecord() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.stamps) && !l.stamps[drop].After(cutoff) {
		drop++
	}
	l.stamps = l.stamps[drop:]

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}

	wait := l.stamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Transport is an http.RoundTripper that acquires the limiter before
// delegating each request to the wrapped transport.
type Transport struct {
	base    http.RoundTripper
	limiter *SlidingWindow
}

// NewTransport wraps base (http.DefaultTransport when nil) with limiter.
func NewTransport(base http.RoundTripper, limiter *SlidingWindow) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, limiter: limiter}
}

// RoundTrip waits for the rate limiter to allow a request, then delegates.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Acquire(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections forwards to the wrapped transport when supported.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
