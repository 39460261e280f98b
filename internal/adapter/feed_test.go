package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/normalize"
)

var feedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFeed(t *testing.T, mux *http.ServeMux, urls ...string) *FeedAdapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := NewFeedAdapter(FeedConfig{
		Name:   "simplify",
		Slug:   "simplify",
		URLs:   urls,
		MaxAge: 30 * 24 * time.Hour,
		HTTP:   testHTTPOptions(srv),
		Logger: discardLogger(),
		Now:    func() time.Time { return feedNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFeedListJobs_FallsBackToNextURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing.json", http.NotFound)
	mux.HandleFunc("/listings.json", serve(`{"listings": [
		{"id": "abc-1", "company_name": "Acme", "title": "New Grad SWE",
		 "url": "https://boards.greenhouse.io/acme/jobs/1", "locations": ["Remote"],
		 "date_posted": 1772280000}
	]}`, "application/json"))

	a := newTestFeed(t, mux,
		"https://raw.example.com/missing.json",
		"https://raw.example.com/listings.json")

	refs, err := a.ListJobs(context.Background(), "simplify")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	ref := refs[0]
	assert.Equal(t, "abc-1", ref.JobID)
	assert.Equal(t, "New Grad SWE", ref.Title)
	assert.Equal(t, "Remote", ref.Location)
	assert.Equal(t, "simplify", ref.Source)
	assert.Equal(t, "Acme", ref.Metadata["company"])
	assert.Equal(t, "SIMPLIFY:abc-1", a.CanonicalID(ref))
}

func TestFeedListJobs_AllURLsFailingIsDiscoveryError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.json", http.NotFound)
	mux.HandleFunc("/b.json", serve("this is not json at all", "text/plain"))

	a := newTestFeed(t, mux, "https://raw.example.com/a.json", "https://raw.example.com/b.json")

	_, err := a.ListJobs(context.Background(), "simplify")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDiscovery)
	assert.ErrorContains(t, err, "b.json")
}

func TestFeedListJobs_ExcludesOldAndUndatedItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.json", serve(`[
		{"title": "Old", "url": "https://jobs.lever.co/acme/1", "date_posted": "2025-01-02"},
		{"title": "Undated", "url": "https://jobs.lever.co/acme/2"},
		{"title": "No link", "date_posted": "2026-02-27"}
	]`, "application/json"))

	a := newTestFeed(t, mux, "https://raw.example.com/feed.json")

	refs, err := a.ListJobs(context.Background(), "simplify")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestFeedListJobs_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTitle []string
	}{
		{
			name:      "bare list",
			body:      `[{"title": "A", "url": "https://x.io/a", "date": "2026-02-20"}]`,
			wantTitle: []string{"A"},
		},
		{
			name:      "positions",
			body:      `{"positions": [{"position": "B", "link": "https://x.io/b", "posted": "02/20/2026"}]}`,
			wantTitle: []string{"B"},
		},
		{
			name: "companies with roles",
			body: `{"companies": [
				{"company": "Acme", "roles": [{"role": "C", "apply_url": "https://x.io/c", "created_at": "2026-02-20T10:00:00"}]},
				{"name": "Globex", "positions": [{"title": "D", "url": "https://x.io/d", "added_at": "2026/02/21"}]}
			]}`,
			wantTitle: []string{"C", "D"},
		},
		{
			name: "first list field in document order",
			body: `{"meta": {"count": 2}, "zeta": [{"title": "E", "url": "https://x.io/e", "timestamp": 1772280000000}],
				"alpha": [{"title": "F", "url": "https://x.io/f", "timestamp": 1772280000}]}`,
			wantTitle: []string{"E"},
		},
		{
			name:      "json5 fallback",
			body:      "// hand edited\n[{title: 'G', url: 'https://x.io/g', date_posted: '2026-02-25',},]",
			wantTitle: []string{"G"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/feed.json", serve(tt.body, "application/json"))
			a := newTestFeed(t, mux, "https://raw.example.com/feed.json")

			refs, err := a.ListJobs(context.Background(), "simplify")
			require.NoError(t, err)

			var titles []string
			for _, r := range refs {
				titles = append(titles, r.Title)
			}
			assert.Equal(t, tt.wantTitle, titles)
		})
	}
}

func TestFeedCompanyMergedFromCompanyEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.json", serve(`{"companies": [
		{"company": "Acme", "roles": [
			{"role": "Engineer", "url": "https://x.io/1", "date": "2026-02-20"},
			{"role": "Analyst", "company": "Acme Labs", "url": "https://x.io/2", "date": "2026-02-20"}
		]}
	]}`, "application/json"))
	a := newTestFeed(t, mux, "https://raw.example.com/feed.json")

	refs, err := a.ListJobs(context.Background(), "simplify")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "Acme", refs[0].Metadata["company"])
	assert.Equal(t, "Acme Labs", refs[1].Metadata["company"], "role fields win over the company entry")
}

func TestFeedItemID(t *testing.T) {
	link := "https://jobs.lever.co/acme/123?utm_source=feed"

	assert.Equal(t, "42", feedItemID(map[string]any{"id": float64(42)}, link))
	assert.Equal(t, "x-1", feedItemID(map[string]any{"id": "x-1", "slug": "ignored"}, link))
	assert.Equal(t, "acme-swe", feedItemID(map[string]any{"slug": "acme-swe"}, link))

	hashed := feedItemID(map[string]any{}, link)
	assert.Len(t, hashed, 40)
	assert.Equal(t, hashed, feedItemID(map[string]any{}, "https://JOBS.lever.co/acme/123"),
		"tracking params and host case do not change the derived id")
}

func TestCompanyFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://boards.greenhouse.io/acme-robotics/jobs/1", "Acme Robotics"},
		{"https://boards.greenhouse.io/embed/job_app?for=globex&token=1", "Globex"},
		{"https://jobs.lever.co/initech/abc", "Initech"},
		{"https://jobs.ashbyhq.com/hooli", "Hooli"},
		{"https://apply.workable.com/piedpiper/j/1", "Piedpiper"},
		{"https://umbrella.wd5.myworkdayjobs.com/en-US/careers/job/1", "Umbrella"},
		{"https://wayne.bamboohr.com/careers/12", "Wayne"},
		{"https://careers.stark-industries.com/jobs/9", "Stark Industries"},
		{"https://www.linkedin.com/jobs/view/1", ""},
		{"https://simplify.jobs/p/1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, companyFromURL(tt.url))
		})
	}
}

func TestFeedCompany_Resolution(t *testing.T) {
	assert.Equal(t, "Acme", feedCompany(map[string]any{"company_name": "Acme"}, "https://x.io"))
	assert.Equal(t, "Globex", feedCompany(map[string]any{"company_url": "https://www.globex.com"}, "https://www.linkedin.com/jobs/1"))
	assert.Equal(t, "Initech", feedCompany(map[string]any{}, "https://jobs.lever.co/initech/1"))
	assert.Equal(t, "Unknown Company", feedCompany(map[string]any{}, "https://www.indeed.com/viewjob?jk=1"))
}

func TestFeedFetchJobDetail_SynthesizesEscapedHTML(t *testing.T) {
	a, err := NewFeedAdapter(FeedConfig{Name: "newgrad2026", URLs: []string{"https://raw.example.com/f.json"}, Logger: discardLogger()})
	require.NoError(t, err)
	defer a.Close()

	item := map[string]any{
		"title":            "Engineer <script>alert(1)</script>",
		"description":      "<p>Build &amp; ship</p>",
		"qualifications":   []any{"Go experience", "<b>Team</b> player"},
		"responsibilities": "Own services",
		"sponsorship":      "Offers Sponsorship",
		"active":           true,
	}
	ref := model.JobRef{
		Source: "newgrad2026", JobID: "1", Title: "Engineer <script>alert(1)</script>",
		Location: "Remote", DetailURL: "https://jobs.lever.co/acme/1",
		Metadata: map[string]any{"item": item, "company": "Acme"},
	}

	detail, err := a.FetchJobDetail(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, "Acme", detail.CompanyName)
	assert.NotContains(t, detail.HTML, "<script>")
	assert.Contains(t, detail.HTML, "<li>Go experience</li>")
	assert.Contains(t, detail.HTML, "Additional details")
	assert.Contains(t, detail.HTML, "<li>active: yes</li><li>sponsorship: Offers Sponsorship</li></ul>")
	assert.Equal(t, item, detail.Metadata["source_item"])

	text := normalize.HTMLToText(detail.HTML)
	assert.True(t, strings.HasPrefix(text, "Engineer\n"), "got %q", text)
	assert.NotContains(t, text, "alert")
	assert.Contains(t, text, "Build & ship")
	assert.True(t, strings.HasSuffix(text, "Additional details\nactive: yes\nsponsorship: Offers Sponsorship"), "got %q", text)

	reqs := normalize.ExtractRequirements(detail.HTML)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Team player", reqs[1].Value)
}

func TestFeedAdapter_Contract(t *testing.T) {
	_, err := NewFeedAdapter(FeedConfig{Name: "empty"})
	require.Error(t, err)

	a, err := NewFeedAdapter(FeedConfig{Name: "simplify", URLs: []string{"https://raw.example.com/f.json"}, Logger: discardLogger()})
	require.NoError(t, err)
	defer a.Close()

	slugs, err := a.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"simplify"}, slugs)
	assert.False(t, a.UsesFrontier())
	assert.Equal(t, model.SourceCompany, a.JobSourceType())
	assert.Equal(t, model.SubmissionDeeplink, a.SubmissionMode())
}

func TestFeedFetchJobDetail_MakesNoRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	a, err := NewFeedAdapter(FeedConfig{Name: "simplify", URLs: []string{"https://raw.example.com/f.json"},
		HTTP: testHTTPOptions(srv), Logger: discardLogger()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.FetchJobDetail(context.Background(), model.JobRef{Title: "x", DetailURL: "https://x.io/1"})
	require.NoError(t, err)
}
