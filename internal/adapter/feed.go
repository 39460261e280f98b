package adapter

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/amishk599/jobscout/internal/fetch"
	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/normalize"
)

const minFeedRequestsPerMinute = 10

// FeedConfig parametrizes one community-maintained JSON postings feed.
type FeedConfig struct {
	Name       string   // source name, also the canonical id namespace
	Slug       string   // the single org slug Discover reports
	URLs       []string // candidate data URLs, tried in order
	MaxAge     time.Duration
	SourceType model.JobSourceType // defaults to model.SourceCompany
	HTTP       HTTPOptions
	Logger     *slog.Logger
	Now        func() time.Time
}

// FeedAdapter lists postings from a JSON document of positions. Detail pages
// are synthesized from the feed item, so FetchJobDetail makes no request.
type FeedAdapter struct {
	name       string
	slug       string
	urls       []string
	maxAge     time.Duration
	sourceType model.JobSourceType
	client     *fetch.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewFeedAdapter creates a feed adapter. The allow-list is the set of hosts
// named by cfg.URLs.
func NewFeedAdapter(cfg FeedConfig) (*FeedAdapter, error) {
	if cfg.Name == "" {
		return nil, errors.New("feed adapter: name is required")
	}
	var urls []string
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("feed adapter %s: at least one data url is required", cfg.Name)
	}
	if cfg.Slug == "" {
		cfg.Slug = cfg.Name
	}
	if cfg.SourceType == "" {
		cfg.SourceType = model.SourceCompany
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := cfg.HTTP.fetchOptions(hostsOf(urls...), false,
		max(cfg.HTTP.RequestsPerMinute/2, minFeedRequestsPerMinute))
	opts.Logger = cfg.Logger

	return &FeedAdapter{
		name:       cfg.Name,
		slug:       cfg.Slug,
		urls:       urls,
		maxAge:     cfg.MaxAge,
		sourceType: cfg.SourceType,
		client:     fetch.NewClient(opts),
		logger:     cfg.Logger.With("source", cfg.Name),
		now:        cfg.Now,
	}, nil
}

// Compile-time check that FeedAdapter implements model.SourceAdapter.
var _ model.SourceAdapter = (*FeedAdapter)(nil)

func (a *FeedAdapter) SourceName() string                   { return a.name }
func (a *FeedAdapter) JobSourceType() model.JobSourceType   { return a.sourceType }
func (a *FeedAdapter) SubmissionMode() model.SubmissionMode { return model.SubmissionDeeplink }
func (a *FeedAdapter) UsesFrontier() bool                   { return false }

// Discover reports the feed's single slug.
func (a *FeedAdapter) Discover(_ context.Context) ([]string, error) {
	return []string{a.slug}, nil
}

// CanonicalID namespaces the item id with the source name.
func (a *FeedAdapter) CanonicalID(ref model.JobRef) string {
	return strings.ToUpper(a.name) + ":" + ref.JobID
}

// Close releases idle connections.
func (a *FeedAdapter) Close() error {
	return a.client.Close()
}

// ListJobs downloads the feed and returns one JobRef per recent item.
func (a *FeedAdapter) ListJobs(ctx context.Context, orgSlug string) ([]model.JobRef, error) {
	payload, err := a.fetchPayload(ctx)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	var refs []model.JobRef
	skipped := 0
	for _, item := range flattenFeed(payload) {
		posted, ok := postedAt(item)
		if !ok {
			skipped++
			continue
		}
		if a.maxAge > 0 && posted.Before(now.Add(-a.maxAge)) {
			skipped++
			continue
		}
		link := stringValue(item["url"], item["application_link"], item["apply_url"], item["link"])
		if link == "" {
			skipped++
			continue
		}

		refs = append(refs, model.JobRef{
			Source:    a.name,
			OrgSlug:   orgSlug,
			JobID:     feedItemID(item, link),
			Title:     firstNonEmpty("Untitled Role", item["title"], item["position"], item["role"]),
			Location:  firstNonEmpty("Unknown", item["location"], item["locations"], item["city"]),
			DetailURL: link,
			Metadata: map[string]any{
				"item":      item,
				"company":   feedCompany(item, link),
				"posted_at": posted.Format(time.RFC3339),
			},
		})
	}

	a.logger.Debug("feed listed", "org", orgSlug, "jobs", len(refs), "skipped", skipped)
	return refs, nil
}

// FetchJobDetail renders the feed item as escaped HTML.
func (a *FeedAdapter) FetchJobDetail(_ context.Context, ref model.JobRef) (model.JobDetail, error) {
	item, _ := ref.Metadata["item"].(map[string]any)
	company, _ := ref.Metadata["company"].(string)
	if company == "" {
		company = feedCompany(item, ref.DetailURL)
	}
	return model.JobDetail{
		Ref:         ref,
		HTML:        feedDetailHTML(ref, item, company),
		CompanyName: company,
		Metadata:    map[string]any{"source_item": item},
	}, nil
}

type feedPayload struct {
	value any
	keys  []string // top-level object keys in document order
}

func (a *FeedAdapter) fetchPayload(ctx context.Context) (feedPayload, error) {
	var lastErr error
	for _, u := range a.urls {
		body, err := a.client.Get(ctx, u)
		if err != nil {
			a.logger.Warn("feed url failed", "url", u, "error", err)
			lastErr = err
			continue
		}
		payload, err := decodeFeed(body)
		if err != nil {
			a.logger.Warn("feed url returned undecodable payload", "url", u, "error", err)
			lastErr = fmt.Errorf("decode %s: %w", u, err)
			continue
		}
		return payload, nil
	}
	return feedPayload{}, model.Discoveryf(lastErr, "%s feed fetch", a.name)
}

// decodeFeed parses strict JSON, falling back to JSON5 for hand-edited feeds.
func decodeFeed(body []byte) (feedPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	strictErr := dec.Decode(&v)
	if strictErr == nil {
		return feedPayload{value: v, keys: objectKeys(body)}, nil
	}

	v = nil
	if err := json5.Unmarshal(body, &v); err != nil {
		return feedPayload{}, fmt.Errorf("%w (json5: %v)", strictErr, err)
	}
	var keys []string
	if obj, ok := v.(map[string]any); ok {
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return feedPayload{value: v, keys: keys}, nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(body []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

// flattenFeed extracts the posting objects from the known feed shapes.
func flattenFeed(p feedPayload) []map[string]any {
	switch v := p.value.(type) {
	case []any:
		return objects(v)
	case map[string]any:
		for _, key := range []string{"positions", "listings"} {
			if list, ok := v[key].([]any); ok {
				return objects(list)
			}
		}
		if companies, ok := v["companies"].([]any); ok {
			var out []map[string]any
			for _, entry := range objects(companies) {
				company := stringValue(entry["company"], entry["name"])
				roles, ok := entry["roles"].([]any)
				if !ok {
					roles, _ = entry["positions"].([]any)
				}
				for _, role := range objects(roles) {
					merged := map[string]any{"company": company}
					for k, val := range role {
						merged[k] = val
					}
					out = append(out, merged)
				}
			}
			return out
		}
		for _, key := range p.keys {
			if list, ok := v[key].([]any); ok {
				return objects(list)
			}
		}
	}
	return nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

var feedDateKeys = []string{
	"date_posted", "posted", "date", "listed_at",
	"created_at", "updated_at", "timestamp", "added_at",
}

var feedDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// postedAt returns the first parseable posting timestamp of item.
func postedAt(item map[string]any) (time.Time, bool) {
	for _, key := range feedDateKeys {
		value, ok := item[key]
		if !ok {
			continue
		}
		if t, ok := parseFeedDate(value); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFeedDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return unixTime(f)
	case float64:
		return unixTime(v)
	case int64:
		return unixTime(float64(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range feedDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// unixTime reads seconds, or milliseconds for values past 1e12.
func unixTime(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// feedItemID prefers the item's own id, then its slug, then a digest of the link.
func feedItemID(item map[string]any, link string) string {
	switch id := item["id"].(type) {
	case string:
		if s := strings.TrimSpace(id); s != "" {
			return s
		}
	case json.Number, float64:
		return stringValue(id)
	}
	if slug, ok := item["slug"].(string); ok && strings.TrimSpace(slug) != "" {
		return strings.TrimSpace(slug)
	}
	sum := sha1.Sum([]byte(strings.ToLower(normalize.CanonicalURL(link))))
	return hex.EncodeToString(sum[:])
}

// feedCompany resolves the employer: explicit field, then hostname
// inference from the company url and the posting link.
func feedCompany(item map[string]any, link string) string {
	if name := stringValue(item["company"], item["company_name"], item["org"], item["organization"]); name != "" {
		return name
	}
	for _, candidate := range []string{stringValue(item["company_url"]), link} {
		if name := companyFromURL(candidate); name != "" {
			return name
		}
	}
	return "Unknown Company"
}

// pathSlugHosts carry the employer slug as the first path segment.
var pathSlugHosts = []string{
	"greenhouse.io", "lever.co", "ashbyhq.com", "workable.com",
	"smartrecruiters.com", "jobvite.com",
}

// subdomainHosts carry the employer slug as the leftmost label.
var subdomainHosts = []string{
	"myworkdayjobs.com", "bamboohr.com", "breezy.hr", "recruitee.com",
}

// aggregatorHosts never identify the employer.
var aggregatorHosts = []string{
	"linkedin.com", "indeed.com", "glassdoor.com", "simplify.jobs",
	"github.com", "githubusercontent.com", "google.com", "ziprecruiter.com",
}

func companyFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	root := normalize.DomainRoot(raw)
	if hostMatches(root, aggregatorHosts) {
		return ""
	}

	if hostMatches(root, pathSlugHosts) {
		if root == "greenhouse.io" {
			if slug := u.Query().Get("for"); slug != "" {
				return humanize(slug)
			}
		}
		segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if segment == "" || segment == "embed" || segment == "jobs" {
			return ""
		}
		return humanize(segment)
	}

	if hostMatches(root, subdomainHosts) {
		label, _, _ := strings.Cut(host, ".")
		if label == "" || host == root || label == "www" {
			return ""
		}
		return humanize(label)
	}

	label, _, _ := strings.Cut(root, ".")
	if label == "" {
		return ""
	}
	return humanize(label)
}

func hostMatches(root string, hosts []string) bool {
	for _, h := range hosts {
		if root == h {
			return true
		}
	}
	return false
}

var feedDescriptionKeys = []string{"description", "notes", "about", "summary"}
var feedRequirementKeys = []string{"qualifications", "requirements"}
var feedResponsibilityKeys = []string{"responsibilities", "duties"}
var feedPerkKeys = []string{"perks", "benefits"}

// feedDetailHTML synthesizes a detail page. Every value is reduced to plain
// text and escaped before it is placed in markup.
func feedDetailHTML(ref model.JobRef, item map[string]any, company string) string {
	var b strings.Builder
	esc := func(v any) string { return html.EscapeString(plainText(v)) }

	location := item["location"]
	if stringValue(location) == "" {
		location = item["locations"]
	}
	if stringValue(location) == "" {
		location = ref.Location
	}

	fmt.Fprintf(&b, "<h1>%s</h1>\n", esc(ref.Title))
	fmt.Fprintf(&b, "<p><strong>Company:</strong> %s</p>\n", esc(company))
	fmt.Fprintf(&b, "<p><strong>Location:</strong> %s</p>\n", esc(location))
	fmt.Fprintf(&b, "<p><strong>Source URL:</strong> %s</p>\n", html.EscapeString(ref.DetailURL))

	used := map[string]bool{}
	pick := func(keys []string) any {
		for _, k := range keys {
			used[k] = true
		}
		for _, k := range keys {
			if v, ok := item[k]; ok && plainText(v) != "" {
				return v
			}
		}
		return nil
	}

	if desc := pick(feedDescriptionKeys); desc != nil {
		fmt.Fprintf(&b, "<div><p>%s</p></div>\n", esc(desc))
	}

	if reqs := pick(feedRequirementKeys); reqs != nil {
		b.WriteString("<h2>Requirements</h2>\n")
		if list, ok := reqs.([]any); ok {
			b.WriteString("<ul>")
			for _, entry := range list {
				if s := plainText(entry); s != "" {
					fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(s))
				}
			}
			b.WriteString("</ul>\n")
		} else {
			fmt.Fprintf(&b, "<p>%s</p>\n", esc(reqs))
		}
	}

	if resp := pick(feedResponsibilityKeys); resp != nil {
		fmt.Fprintf(&b, "<h2>Responsibilities</h2>\n<p>%s</p>\n", esc(resp))
	}
	if perks := pick(feedPerkKeys); perks != nil {
		fmt.Fprintf(&b, "<h2>Perks</h2>\n<p>%s</p>\n", esc(perks))
	}

	for _, k := range []string{
		"title", "position", "role", "company", "company_name", "org", "organization",
		"location", "locations", "city", "url", "application_link", "apply_url", "link",
	} {
		used[k] = true
	}
	var extra []string
	for k, v := range item {
		if used[k] {
			continue
		}
		switch v.(type) {
		case string, json.Number, float64, bool:
			if scalarText(v) != "" {
				extra = append(extra, k)
			}
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		b.WriteString("<h2>Additional details</h2>\n<ul data-section=\"details\">")
		for _, k := range extra {
			fmt.Fprintf(&b, "<li>%s: %s</li>", html.EscapeString(k), html.EscapeString(scalarText(item[k])))
		}
		b.WriteString("</ul>\n")
	}
	return b.String()
}

func scalarText(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "yes"
		}
		return "no"
	}
	return plainText(v)
}
