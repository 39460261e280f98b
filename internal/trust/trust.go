// Package trust scores the domain hosting a posting.
package trust

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/amishk599/jobscout/internal/model"
)

// Result is the outcome of one evaluation.
type Result struct {
	Score   int
	Verdict model.TrustVerdict
	Signals []model.Signal
}

// Evaluator scores a domain. Implementations must be free of side effects;
// the caller decides how results are cached and persisted.
type Evaluator interface {
	Evaluate(ctx context.Context, rawURL, domainRoot string) (Result, error)
}

// DefaultSafeDomains are ATS hosts trusted without review.
var DefaultSafeDomains = []string{
	"greenhouse.io",
	"lever.co",
	"ashbyhq.com",
	"workable.com",
	"smartrecruiters.com",
	"myworkdayjobs.com",
	"jobvite.com",
	"bamboohr.com",
	"breezy.hr",
	"recruitee.com",
}

const (
	knownHostScore   = 85
	unknownHostScore = 40
)

// HostRule trusts a fixed set of known hosts and sends everything else to review.
type HostRule struct {
	safe map[string]struct{}
}

var _ Evaluator = (*HostRule)(nil)

// NewHostRule builds the rule from safeDomains, or DefaultSafeDomains when empty.
func NewHostRule(safeDomains []string) *HostRule {
	if len(safeDomains) == 0 {
		safeDomains = DefaultSafeDomains
	}
	safe := make(map[string]struct{}, len(safeDomains))
	for _, d := range safeDomains {
		safe[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &HostRule{safe: safe}
}

// Evaluate scores domainRoot. Non-https URLs are rejected outright.
func (r *HostRule) Evaluate(_ context.Context, rawURL, domainRoot string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %s: %w", rawURL, err)
	}
	host := model.Signal{Signal: "host", Value: domainRoot}

	if u.Scheme != "https" {
		return Result{
			Score:   0,
			Verdict: model.VerdictReject,
			Signals: []model.Signal{host, {Signal: "scheme", Value: u.Scheme}},
		}, nil
	}

	if _, ok := r.safe[strings.ToLower(domainRoot)]; ok {
		return Result{
			Score:   knownHostScore,
			Verdict: model.VerdictAutoSafe,
			Signals: []model.Signal{host, {Signal: "provenance", Value: "known-ats"}},
		}, nil
	}

	return Result{
		Score:   unknownHostScore,
		Verdict: model.VerdictNeedsHuman,
		Signals: []model.Signal{host, {Signal: "provenance", Value: "unknown"}},
	}, nil
}

// WhitelistLookup returns the approval for domainRoot, or nil when absent.
type WhitelistLookup interface {
	LookupWhitelist(ctx context.Context, domainRoot string) (*model.Whitelist, error)
}

// WhitelistEvaluator short-circuits reviewer-approved domains and delegates
// everything else to the wrapped evaluator.
type WhitelistEvaluator struct {
	inner  Evaluator
	lookup WhitelistLookup
}

var _ Evaluator = (*WhitelistEvaluator)(nil)

// NewWhitelistEvaluator decorates inner with whitelist lookups.
func NewWhitelistEvaluator(inner Evaluator, lookup WhitelistLookup) *WhitelistEvaluator {
	return &WhitelistEvaluator{inner: inner, lookup: lookup}
}

// Evaluate returns a full-trust result for whitelisted domains.
func (e *WhitelistEvaluator) Evaluate(ctx context.Context, rawURL, domainRoot string) (Result, error) {
	wl, err := e.lookup.LookupWhitelist(ctx, domainRoot)
	if err != nil {
		return Result{}, fmt.Errorf("whitelist lookup for %s: %w", domainRoot, err)
	}
	if wl == nil {
		return e.inner.Evaluate(ctx, rawURL, domainRoot)
	}
	return Result{
		Score:   100,
		Verdict: model.VerdictAutoSafe,
		Signals: []model.Signal{
			{Signal: "host", Value: domainRoot},
			{Signal: "provenance", Value: "whitelist"},
			{Signal: "approved_by", Value: wl.ApprovedBy},
		},
	}, nil
}
