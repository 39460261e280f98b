package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/jobscout/internal/fetch"
	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/normalize"
)

const (
	greenhouseSource  = "greenhouse"
	greenhouseBaseURL = "https://boards.greenhouse.io"
)

// GreenhouseConfig configures the sitemap-driven Greenhouse adapter.
type GreenhouseConfig struct {
	BaseURL      string
	SitemapURL   string
	AllowedHosts []string // defaults to the hosts of BaseURL and SitemapURL
	HTTP         HTTPOptions
	Logger       *slog.Logger
}

// GreenhouseAdapter discovers boards from the public sitemap and lists their
// postings through the embed JSON feed, falling back to the HTML board.
type GreenhouseAdapter struct {
	baseURL    string
	sitemapURL string
	allowed    map[string]struct{}
	client     *fetch.Client
	logger     *slog.Logger

	mu        sync.Mutex
	boardMeta map[string]map[string]any
}

// NewGreenhouseAdapter creates a Greenhouse adapter. Every request it makes is
// confined to the allow-listed hosts and checked against robots.txt.
func NewGreenhouseAdapter(cfg GreenhouseConfig) *GreenhouseAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = greenhouseBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SitemapURL == "" {
		cfg.SitemapURL = cfg.BaseURL + "/sitemap.xml"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 {
		hosts = hostsOf(cfg.BaseURL, cfg.SitemapURL)
	}

	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	opts := cfg.HTTP.fetchOptions(hosts, true, cfg.HTTP.RequestsPerMinute)
	opts.Logger = cfg.Logger

	return &GreenhouseAdapter{
		baseURL:    cfg.BaseURL,
		sitemapURL: cfg.SitemapURL,
		allowed:    allowed,
		client:     fetch.NewClient(opts),
		logger:     cfg.Logger.With("source", greenhouseSource),
		boardMeta:  make(map[string]map[string]any),
	}
}

// Compile-time check that GreenhouseAdapter implements model.SourceAdapter.
var _ model.SourceAdapter = (*GreenhouseAdapter)(nil)

func (a *GreenhouseAdapter) SourceName() string                   { return greenhouseSource }
func (a *GreenhouseAdapter) JobSourceType() model.JobSourceType   { return model.SourceGreenhouse }
func (a *GreenhouseAdapter) SubmissionMode() model.SubmissionMode { return model.SubmissionATS }
func (a *GreenhouseAdapter) UsesFrontier() bool                   { return true }

// CanonicalID namespaces the board's job id with the source name.
func (a *GreenhouseAdapter) CanonicalID(ref model.JobRef) string {
	return strings.ToUpper(greenhouseSource) + ":" + ref.JobID
}

// Close releases idle connections.
func (a *GreenhouseAdapter) Close() error {
	return a.client.Close()
}

type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// Discover returns the sorted, unique board slugs listed in the sitemap.
func (a *GreenhouseAdapter) Discover(ctx context.Context) ([]string, error) {
	doc, err := a.fetchSitemap(ctx, a.sitemapURL)
	if err != nil {
		return nil, err
	}

	locs := locsOf(doc.URLs)
	// A sitemap index is followed one level deep.
	for _, child := range locsOf(doc.Sitemaps) {
		childDoc, err := a.fetchSitemap(ctx, child)
		if err != nil {
			return nil, err
		}
		locs = append(locs, locsOf(childDoc.URLs)...)
	}

	seen := make(map[string]struct{})
	slugs := make([]string, 0, len(locs))
	for _, loc := range locs {
		slug := a.slugFromBoardURL(loc)
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	a.logger.Info("sitemap discovered boards", "sitemap", a.sitemapURL, "boards", len(slugs))
	return slugs, nil
}

func (a *GreenhouseAdapter) fetchSitemap(ctx context.Context, sitemapURL string) (*sitemapDoc, error) {
	body, err := a.client.Get(ctx, sitemapURL)
	if err != nil {
		return nil, model.Discoveryf(err, "greenhouse sitemap %s", sitemapURL)
	}
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, model.Discoveryf(err, "greenhouse sitemap %s: parse", sitemapURL)
	}
	return &doc, nil
}

func locsOf(entries []sitemapLoc) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// slugFromBoardURL returns the first path segment of an allow-listed board URL.
func (a *GreenhouseAdapter) slugFromBoardURL(loc string) string {
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if _, ok := a.allowed[strings.ToLower(u.Hostname())]; !ok {
		return ""
	}
	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if segment == "" || segment == "embed" || strings.HasPrefix(segment, "sitemap") {
		return ""
	}
	if s, err := url.PathUnescape(segment); err == nil {
		segment = s
	}
	return segment
}

type boardDepartment struct {
	Name string           `json:"name"`
	Jobs []map[string]any `json:"jobs"`
}

type boardPayload struct {
	Meta        map[string]any    `json:"meta"`
	Departments []boardDepartment `json:"departments"`
	Jobs        []map[string]any  `json:"jobs"`
}

var errMalformedBoard = errors.New("malformed board payload")

// ListJobs lists postings on one board.
func (a *GreenhouseAdapter) ListJobs(ctx context.Context, orgSlug string) ([]model.JobRef, error) {
	refs, err := a.listFromJSON(ctx, orgSlug)
	if err == nil {
		return refs, nil
	}
	if isPolicyRefusal(err) {
		return nil, err
	}
	if !boardFallbackAllowed(err) {
		return nil, model.Discoveryf(err, "greenhouse fetch for %s", orgSlug)
	}

	a.logger.Debug("board json unavailable, using html board", "org", orgSlug, "error", err)
	refs, err = a.listFromHTML(ctx, orgSlug)
	if err != nil {
		if isPolicyRefusal(err) {
			return nil, err
		}
		return nil, model.Discoveryf(err, "greenhouse fetch for %s", orgSlug)
	}
	return refs, nil
}

func isPolicyRefusal(err error) bool {
	return errors.Is(err, model.ErrRobotsDisallowed) || errors.Is(err, model.ErrHostNotAllowed)
}

func boardFallbackAllowed(err error) bool {
	if errors.Is(err, errMalformedBoard) {
		return true
	}
	switch fetch.StatusCode(err) {
	case http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError:
		return true
	}
	return false
}

func (a *GreenhouseAdapter) listFromJSON(ctx context.Context, slug string) ([]model.JobRef, error) {
	feedURL := fmt.Sprintf("%s/%s/embed/job_board/json", a.baseURL, url.PathEscape(slug))
	body, err := a.client.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload boardPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedBoard, err)
	}

	if payload.Meta != nil {
		a.setBoardMeta(slug, payload.Meta)
	}

	var refs []model.JobRef
	seen := make(map[string]struct{})
	add := func(department string, job map[string]any) {
		ref, ok := greenhouseRefFromJSON(slug, department, job)
		if !ok {
			return
		}
		if _, dup := seen[ref.JobID]; dup {
			return
		}
		seen[ref.JobID] = struct{}{}
		refs = append(refs, ref)
	}
	for _, dept := range payload.Departments {
		for _, job := range dept.Jobs {
			add(dept.Name, job)
		}
	}
	for _, job := range payload.Jobs {
		add("", job)
	}
	return refs, nil
}

func greenhouseRefFromJSON(slug, department string, job map[string]any) (model.JobRef, bool) {
	link := stringValue(job["absolute_url"])
	if link == "" {
		return model.JobRef{}, false
	}
	id := stringValue(job["id"], job["internal_job_id"])
	if id == "" {
		id = jobIDFromURL(link)
	}
	if id == "" {
		return model.JobRef{}, false
	}

	meta := map[string]any{"job": job}
	if department != "" {
		meta["department"] = department
	}
	return model.JobRef{
		Source:    greenhouseSource,
		OrgSlug:   slug,
		JobID:     id,
		Title:     firstNonEmpty("Untitled role", job["title"]),
		Location:  firstNonEmpty("Unknown", job["location"]),
		DetailURL: link,
		Metadata:  meta,
	}, true
}

func (a *GreenhouseAdapter) listFromHTML(ctx context.Context, slug string) ([]model.JobRef, error) {
	boardURL := fmt.Sprintf("%s/%s", a.baseURL, url.PathEscape(slug))
	body, err := a.client.Get(ctx, boardURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse board html %s: %w", boardURL, err)
	}

	if title := normalize.CollapseSpace(doc.Find("title").First().Text()); title != "" {
		a.setBoardMeta(slug, map[string]any{"title": title})
	}

	var refs []model.JobRef
	seen := make(map[string]struct{})
	doc.Find("div.opening").Each(func(_ int, s *goquery.Selection) {
		anchor := s.Find("a[href]").First()
		href, _ := anchor.Attr("href")
		link := absoluteURL(boardURL, href)
		if link == "" {
			return
		}
		id := jobIDFromURL(link)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		refs = append(refs, model.JobRef{
			Source:    greenhouseSource,
			OrgSlug:   slug,
			JobID:     id,
			Title:     firstNonEmpty("Untitled role", normalize.CollapseSpace(anchor.Text())),
			Location:  firstNonEmpty("Unknown", normalize.CollapseSpace(s.Find("span.location").First().Text())),
			DetailURL: link,
			Metadata:  map[string]any{"origin": "html_board"},
		})
	})
	return refs, nil
}

func (a *GreenhouseAdapter) setBoardMeta(slug string, meta map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.boardMeta[slug] = meta
}

func (a *GreenhouseAdapter) boardCompany(slug string) string {
	a.mu.Lock()
	meta := a.boardMeta[slug]
	a.mu.Unlock()

	title := stringValue(meta["title"])
	for _, fragment := range strings.Split(title, "-") {
		if f := strings.TrimSpace(fragment); f != "" {
			return f
		}
	}
	return ""
}

// FetchJobDetail downloads the posting page and resolves the company name.
func (a *GreenhouseAdapter) FetchJobDetail(ctx context.Context, ref model.JobRef) (model.JobDetail, error) {
	detailURL := ref.DetailURL
	// Boards may link postings on a custom careers domain; read the hosted copy instead.
	if _, err := a.client.Check(ctx, detailURL); errors.Is(err, model.ErrHostNotAllowed) {
		detailURL = fmt.Sprintf("%s/%s/jobs/%s", a.baseURL, url.PathEscape(ref.OrgSlug), url.PathEscape(ref.JobID))
	}

	body, err := a.client.Get(ctx, detailURL)
	if err != nil {
		if isPolicyRefusal(err) {
			return model.JobDetail{}, err
		}
		return model.JobDetail{}, model.Discoveryf(err, "greenhouse detail for %s/%s", ref.OrgSlug, ref.JobID)
	}

	company := a.companyFromRef(ref)
	meta := map[string]any{}
	if posting := jobPostingLD(body); posting != nil {
		meta["ld_json"] = posting
		if name := stringValue(posting["hiringOrganization"]); name != "" {
			company = name
		}
	}
	if company == "" {
		company = humanize(ref.OrgSlug)
	}

	return model.JobDetail{
		Ref:         ref,
		HTML:        string(body),
		CompanyName: company,
		Metadata:    meta,
	}, nil
}

func (a *GreenhouseAdapter) companyFromRef(ref model.JobRef) string {
	if job, ok := ref.Metadata["job"].(map[string]any); ok {
		if s, ok := job["company"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return a.boardCompany(ref.OrgSlug)
}

// jobPostingLD returns the first schema.org JobPosting embedded in page.
func jobPostingLD(page []byte) map[string]any {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	var found map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &raw); err != nil {
			return true
		}
		found = findJobPosting(raw)
		return found == nil
	})
	return found
}

func findJobPosting(v any) map[string]any {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if p := findJobPosting(item); p != nil {
				return p
			}
		}
	case map[string]any:
		if isJobPostingType(node["@type"]) {
			return node
		}
		for _, key := range []string{"@graph", "itemListElement", "item"} {
			if p := findJobPosting(node[key]); p != nil {
				return p
			}
		}
	}
	return nil
}

func isJobPostingType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "JobPosting")
	case []any:
		for _, item := range v {
			if isJobPostingType(item) {
				return true
			}
		}
	}
	return false
}

func hostsOf(urls ...string) []string {
	var hosts []string
	seen := make(map[string]struct{})
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		h := strings.ToLower(u.Hostname())
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	return hosts
}
