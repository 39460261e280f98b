// Package fetch provides the guarded HTTP client every source adapter uses:
// host allow-listing, robots.txt compliance, rate limiting, retries and
// response size limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/ratelimit"
	"github.com/amishk599/jobscout/internal/retry"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "JobscoutDiscoveryBot/0.1"
)

// Options configures a Client.
type Options struct {
	UserAgent         string
	AllowedHosts      []string // empty allows any https host
	RespectRobots     bool
	RobotsTTL         time.Duration // DefaultRobotsTTL when zero
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	MaxBodyBytes      int64
	Transport         http.RoundTripper // base transport, http.DefaultTransport when nil
	Logger            *slog.Logger
}

// Client issues GET requests on behalf of one adapter instance.
type Client struct {
	http      *http.Client
	userAgent string
	allowed   map[string]struct{}
	robots    *RobotsChecker
	maxBody   int64
	logger    *slog.Logger

	mu     sync.Mutex
	polite map[string]*rate.Limiter // crawl-delay limiters keyed by host
}

// NewClient builds a client whose transport chain is retry -> sliding window -> base.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limited := ratelimit.NewTransport(opts.Transport, ratelimit.PerMinute(opts.RequestsPerMinute))
	transport := retry.NewTransport(limited, opts.MaxRetries, opts.RetryBaseDelay, opts.Logger)
	httpClient := &http.Client{Timeout: opts.Timeout, Transport: transport}

	c := &Client{
		http:      httpClient,
		userAgent: opts.UserAgent,
		allowed:   make(map[string]struct{}, len(opts.AllowedHosts)),
		maxBody:   opts.MaxBodyBytes,
		logger:    opts.Logger,
		polite:    make(map[string]*rate.Limiter),
	}
	for _, h := range opts.AllowedHosts {
		c.allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	if opts.RespectRobots {
		c.robots = NewRobotsChecker(httpClient, opts.UserAgent, opts.RobotsTTL)
	}
	return c
}

// Check applies the request guard without fetching: https only, host in the
// allow-list, path permitted by robots.txt.
func (c *Client) Check(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, model.ErrHostNotAllowed)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%s: scheme %q: %w", rawURL, u.Scheme, model.ErrHostNotAllowed)
	}
	if len(c.allowed) > 0 {
		if _, ok := c.allowed[strings.ToLower(u.Hostname())]; !ok {
			return nil, fmt.Errorf("%s: %w", rawURL, model.ErrHostNotAllowed)
		}
	}
	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		return nil, fmt.Errorf("%s: %w", rawURL, model.ErrRobotsDisallowed)
	}
	return u, nil
}

// Get fetches rawURL and returns the body. Non-2xx responses come back as
// *model.HTTPError.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := c.Check(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := c.waitPolite(ctx, u.Host); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("get %s: %w", rawURL, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("get %s: read body: %w", rawURL, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("get %s: %w", rawURL, ErrBodyTooLarge)
	}

	c.logger.Debug("fetched", "url", rawURL, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// StatusCode extracts the HTTP status from err, or zero.
func StatusCode(err error) int {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// waitPolite honours a robots.txt crawl-delay on top of the sliding window.
func (c *Client) waitPolite(ctx context.Context, host string) error {
	if c.robots == nil {
		return nil
	}
	delay := c.robots.CrawlDelay(host)
	if delay <= 0 {
		return nil
	}

	c.mu.Lock()
	lim, ok := c.polite[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(delay), 1)
		c.polite[host] = lim
	}
	c.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("crawl-delay wait for %s: %w", host, err)
	}
	return nil
}

// Close releases idle connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
