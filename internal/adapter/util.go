package adapter

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/jobscout/internal/fetch"
	"github.com/amishk599/jobscout/internal/normalize"
)

// HTTPOptions are the transport settings shared by every adapter.
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	Transport         http.RoundTripper // tests point this at an httptest server
}

func (o HTTPOptions) fetchOptions(allowed []string, robots bool, rpm int) fetch.Options {
	return fetch.Options{
		UserAgent:         o.UserAgent,
		AllowedHosts:      allowed,
		RespectRobots:     robots,
		Timeout:           o.Timeout,
		RequestsPerMinute: rpm,
		MaxRetries:        o.MaxRetries,
		RetryBaseDelay:    o.RetryBaseDelay,
		Transport:         o.Transport,
	}
}

// stringValue returns the first non-empty scalar among values, rendered as a
// trimmed string. Maps contribute their "name" field.
func stringValue(values ...any) string {
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		case map[string]any:
			if name := stringValue(v["name"]); name != "" {
				return name
			}
		}
	}
	return ""
}

// firstNonEmpty is stringValue with a fallback.
func firstNonEmpty(fallback string, values ...any) string {
	if s := stringValue(values...); s != "" {
		return s
	}
	return fallback
}

// humanize turns a slug like "acme-robotics" into "Acme Robotics".
func humanize(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' ' || r == '+'
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

// absoluteURL resolves href against base.
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// jobIDFromURL returns the segment after /jobs/ or a numeric last segment.
func jobIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("gh_jid"); id != "" {
		return id
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) >= 2 && parts[len(parts)-2] == "jobs" {
		return parts[len(parts)-1]
	}
	last := parts[len(parts)-1]
	if _, err := strconv.ParseUint(last, 10, 64); err == nil {
		return last
	}
	return ""
}

// plainText renders an arbitrary feed value as markup-free text.
func plainText(value any) string {
	switch v := value.(type) {
	case string:
		return normalize.HTMLToText(v)
	case []any:
		var parts []string
		for _, item := range v {
			if s := plainText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return stringValue(v)
	default:
		return stringValue(v)
	}
}
