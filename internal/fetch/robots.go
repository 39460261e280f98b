package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	maxRobotsBodyBytes = 512 << 10

	// DefaultRobotsTTL bounds how long a host's robots.txt is trusted before
	// it is fetched again.
	DefaultRobotsTTL = 24 * time.Hour
)

// RobotsChecker fetches robots.txt per host, at most once per TTL, and
// answers path queries. A missing, failing or unparsable robots.txt allows
// everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	allowAll  bool
	fetchedAt time.Time
}

// NewRobotsChecker creates a checker that fetches robots.txt through client.
// A non-positive ttl uses DefaultRobotsTTL.
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = DefaultRobotsTTL
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		now:       time.Now,
		hosts:     make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the user agent may fetch u.
func (r *RobotsChecker) Allowed(ctx context.Context, u *url.URL) bool {
	entry := r.entry(ctx, u)
	if entry.allowAll {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return entry.data.TestAgent(path, r.userAgent)
}

// CrawlDelay returns the crawl-delay robots.txt declares for host, or zero.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.hosts[strings.ToLower(host)]
	if !ok || entry.allowAll {
		return 0
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, u *url.URL) *robotsEntry {
	host := strings.ToLower(u.Host)

	r.mu.RLock()
	entry, ok := r.hosts[host]
	r.mu.RUnlock()
	if ok && r.fresh(entry) {
		return entry
	}

	entry = r.fetch(ctx, u.Scheme, host)

	r.mu.Lock()
	if existing, ok := r.hosts[host]; ok && r.fresh(existing) {
		entry = existing
	} else {
		r.hosts[host] = entry
	}
	r.mu.Unlock()
	return entry
}

func (r *RobotsChecker) fresh(entry *robotsEntry) bool {
	return r.now().Sub(entry.fetchedAt) < r.ttl
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) *robotsEntry {
	fetchedAt := r.now()
	body, status, err := r.get(ctx, scheme+"://"+host+"/robots.txt")
	if err != nil || status < 200 || status >= 300 {
		return &robotsEntry{allowAll: true, fetchedAt: fetchedAt}
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return &robotsEntry{allowAll: true, fetchedAt: fetchedAt}
	}
	return &robotsEntry{data: data, fetchedAt: fetchedAt}
}

func (r *RobotsChecker) get(ctx context.Context, robotsURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
