package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ComputeHash fingerprints the ordered components: each is trimmed and
// lower-cased, joined with "|" and digested with SHA-256.
func ComputeHash(components ...string) string {
	parts := make([]string, len(components))
	for i, c := range components {
		parts[i] = strings.ToLower(strings.TrimSpace(c))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CanonicalURL lower-cases scheme and host, drops the fragment and common
// tracking parameters, and sorts the query.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") ||
			lk == "gclid" || lk == "fbclid" || lk == "msclkid" ||
			lk == "mc_cid" || lk == "mc_eid" || lk == "mkt_tok" || lk == "ref" {
			q.Del(k)
		}
	}
	for k := range q {
		sort.Strings(q[k])
	}
	u.RawQuery = q.Encode() // Encode sorts by key
	return u.String()
}

// DomainRoot returns the registrable domain of rawURL (eTLD+1), falling
// back to the lower-cased hostname for IPs, single labels and unknown suffixes.
func DomainRoot(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}
