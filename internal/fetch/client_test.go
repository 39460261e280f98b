package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobscout/internal/model"
)

// roundTripFunc adapts a function into an http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// rewriteTo sends every request to srv regardless of the requested host.
func rewriteTo(srv *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server, opts Options) *Client {
	opts.Transport = rewriteTo(srv)
	opts.Logger = discardLogger()
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 600
	}
	return NewClient(opts)
}

func TestCheck_RejectsPlainHTTP(t *testing.T) {
	c := NewClient(Options{AllowedHosts: []string{"boards.example.com"}, Logger: discardLogger()})

	_, err := c.Check(context.Background(), "http://boards.example.com/acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrHostNotAllowed)
	assert.ErrorIs(t, err, model.ErrDiscovery)
}

func TestCheck_RejectsHostOutsideAllowList(t *testing.T) {
	c := NewClient(Options{AllowedHosts: []string{"boards.example.com"}, Logger: discardLogger()})

	_, err := c.Check(context.Background(), "https://evil.example.net/acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrHostNotAllowed)
	assert.NotErrorIs(t, err, model.ErrRobotsDisallowed)

	u, err := c.Check(context.Background(), "https://BOARDS.example.com/acme")
	require.NoError(t, err)
	assert.Equal(t, "/acme", u.Path)
}

func TestGet_RobotsDisallowedPath(t *testing.T) {
	var privateHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			io.WriteString(w, "User-agent: *\nDisallow: /private\n")
		case "/private/page":
			privateHits++
			io.WriteString(w, "secret")
		default:
			io.WriteString(w, "ok")
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{AllowedHosts: []string{"boards.example.com"}, RespectRobots: true})

	_, err := c.Get(context.Background(), "https://boards.example.com/private/page")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRobotsDisallowed)
	assert.ErrorIs(t, err, model.ErrDiscovery)
	assert.Zero(t, privateHits)

	body, err := c.Get(context.Background(), "https://boards.example.com/public")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestGet_RobotsFailureAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "board")
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{RespectRobots: true})

	body, err := c.Get(context.Background(), "https://boards.example.com/acme")
	require.NoError(t, err)
	assert.Equal(t, "board", string(body))
}

func TestGet_NonSuccessReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{})

	_, err := c.Get(context.Background(), "https://feeds.example.com/listings.json")
	require.Error(t, err)
	var httpErr *model.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Zero(t, StatusCode(errors.New("plain")))
}

func TestGet_SendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{UserAgent: "TestBot/1.0"})
	_, err := c.Get(context.Background(), "https://feeds.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "TestBot/1.0", ua)
}

func TestGet_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	c := newTestClient(srv, Options{MaxBodyBytes: 16})
	_, err := c.Get(context.Background(), "https://feeds.example.com/big.json")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestRobotsChecker_CrawlDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nCrawl-delay: 2\nDisallow: /admin\n")
	}))
	defer srv.Close()

	checker := NewRobotsChecker(&http.Client{Transport: rewriteTo(srv)}, "TestBot/1.0", 0)
	u, _ := url.Parse("https://boards.example.com/acme")

	assert.True(t, checker.Allowed(context.Background(), u))
	assert.Equal(t, 2*time.Second, checker.CrawlDelay("boards.example.com"))
	assert.Zero(t, checker.CrawlDelay("unknown.example.com"))

	admin, _ := url.Parse("https://boards.example.com/admin/users")
	assert.False(t, checker.Allowed(context.Background(), admin))
}

func TestRobotsChecker_RefetchesAfterTTL(t *testing.T) {
	policy := "User-agent: *\nDisallow: /\n"
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		io.WriteString(w, policy)
	}))
	defer srv.Close()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	checker := NewRobotsChecker(&http.Client{Transport: rewriteTo(srv)}, "TestBot/1.0", time.Hour)
	checker.now = func() time.Time { return clock }
	u, _ := url.Parse("https://boards.example.com/acme")

	assert.False(t, checker.Allowed(context.Background(), u))
	policy = "User-agent: *\nAllow: /\n"

	clock = clock.Add(30 * time.Minute)
	assert.False(t, checker.Allowed(context.Background(), u), "cached policy still applies within the TTL")
	assert.Equal(t, 1, fetches)

	clock = clock.Add(time.Hour)
	assert.True(t, checker.Allowed(context.Background(), u), "expired policy is fetched again")
	assert.Equal(t, 2, fetches)
}

func TestClose_Idempotent(t *testing.T) {
	c := NewClient(Options{Logger: discardLogger()})
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
