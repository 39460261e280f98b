package model

import (
	"context"
	"time"
)

// JobSourceType classifies where a posting is hosted.
type JobSourceType string

const (
	SourceGreenhouse JobSourceType = "greenhouse" // sitemap-driven ATS host
	SourceFeed       JobSourceType = "feed"       // community feed host
	SourceCompany    JobSourceType = "company"    // generic company site
)

// SubmissionMode tells downstream consumers how an application is submitted.
type SubmissionMode string

const (
	SubmissionATS      SubmissionMode = "ats"
	SubmissionDeeplink SubmissionMode = "deeplink"
)

// TrustVerdict is the outcome of evaluating a hosting domain.
type TrustVerdict string

const (
	VerdictAutoSafe   TrustVerdict = "auto-safe"
	VerdictNeedsHuman TrustVerdict = "needs-human-approval"
	VerdictReject     TrustVerdict = "reject"
)

// JobRef is a lightweight pointer to a posting, produced by ListJobs and
// consumed within the same run.
type JobRef struct {
	Source    string         `json:"source"`
	OrgSlug   string         `json:"org_slug"`
	JobID     string         `json:"job_id"`
	Title     string         `json:"title"`
	Location  string         `json:"location"`
	DetailURL string         `json:"detail_url"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JobDetail elaborates a JobRef with markup and a resolved company name.
type JobDetail struct {
	Ref         JobRef         `json:"ref"`
	HTML        string         `json:"-"`
	CompanyName string         `json:"company_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Requirement is one structured requirement bullet.
type Requirement struct {
	Type  string `json:"type"` // "bullet" or "text"
	Value string `json:"value"`
}

// Job is the canonical, immutable record of an ingested posting.
type Job struct {
	ID             string
	Title          string
	CompanyName    string
	Location       string
	URL            string
	SourceType     JobSourceType
	DomainRoot     string
	SubmissionMode SubmissionMode
	JDText         string
	Requirements   []Requirement
	CanonicalID    string
	Hash           string
	ScrapedAt      time.Time
}

// JobSource is the raw-ingestion audit record paired one-to-one with a Job.
type JobSource struct {
	ID           string
	SourceType   JobSourceType
	SourceURL    string
	CompanyName  string
	DomainRoot   string
	RawPayload   []byte // JSON: ref + detail metadata
	Hash         string
	DiscoveredAt time.Time
}

// FrontierOrg is one organization in a source's crawl queue.
type FrontierOrg struct {
	ID            string     `db:"id"`
	Source        string     `db:"source"`
	OrgSlug       string     `db:"org_slug"`
	Priority      int        `db:"priority"` // lower is sooner
	DiscoveredAt  time.Time  `db:"discovered_at"`
	LastCrawledAt *time.Time `db:"last_crawled_at"`
	MutedUntil    *time.Time `db:"muted_until"`
}

// Signal is one piece of evidence behind a trust verdict.
type Signal struct {
	Signal string `json:"signal"`
	Value  string `json:"value"`
}

// TrustEvent records the trust evaluation attached to an admitted posting.
type TrustEvent struct {
	ID         string
	DomainRoot string
	URL        string
	Score      int
	Signals    []Signal
	Verdict    TrustVerdict
	CreatedAt  time.Time
}

// Whitelist marks a domain as approved by a reviewer.
type Whitelist struct {
	DomainRoot  string    `db:"domain_root"`
	CompanyName string    `db:"company_name"`
	ATSType     string    `db:"ats_type"`
	ApprovedBy  string    `db:"approved_by"`
	ApprovedAt  time.Time `db:"approved_at"`
}

// Summary aggregates the counters of one discovery run.
type Summary struct {
	OrgsCrawled   int `json:"orgs_crawled"`
	JobsSeen      int `json:"jobs_seen"`
	JobsInserted  int `json:"jobs_inserted"`
	DomainsScored int `json:"domains_scored"`
}

// SourceAdapter discovers organizations and postings from one source family.
type SourceAdapter interface {
	SourceName() string
	JobSourceType() JobSourceType
	SubmissionMode() SubmissionMode
	// UsesFrontier reports whether discovered slugs go through the persisted frontier.
	UsesFrontier() bool
	Discover(ctx context.Context) ([]string, error)
	ListJobs(ctx context.Context, orgSlug string) ([]JobRef, error)
	FetchJobDetail(ctx context.Context, ref JobRef) (JobDetail, error)
	CanonicalID(ref JobRef) string
	// Close releases network resources. Safe to call more than once.
	Close() error
}

// JobFilter decides whether a posting is worth ingesting.
type JobFilter interface {
	Match(ref JobRef) bool
}
