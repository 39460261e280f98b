// Package discovery runs source adapters end to end: frontier seeding and
// selection, listing, dedup, normalization, trust evaluation and persistence.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/normalize"
	"github.com/amishk599/jobscout/internal/store"
	"github.com/amishk599/jobscout/internal/trust"
)

const (
	DefaultMaxOrgsPerRun = 25
	DefaultRecencyWindow = 30 * 24 * time.Hour
)

// Skip reasons reported to the Recorder.
const (
	SkipFiltered    = "filtered"
	SkipCanonicalID = "canonical_id"
	SkipHash        = "hash"
	SkipConflict    = "conflict"
)

// Recorder receives run counters. Implementations must be safe to call from
// the run goroutine.
type Recorder interface {
	OrgCrawled(source string)
	JobsSeen(source string, n int)
	JobInserted(source string)
	JobSkipped(source, reason string)
	AdapterFailed(source, kind string)
	RunCompleted(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) OrgCrawled(string)            {}
func (nopRecorder) JobsSeen(string, int)         {}
func (nopRecorder) JobInserted(string)           {}
func (nopRecorder) JobSkipped(string, string)    {}
func (nopRecorder) AdapterFailed(string, string) {}
func (nopRecorder) RunCompleted(time.Duration)   {}

// Options tunes an Orchestrator. Zero values take the documented defaults.
type Options struct {
	MaxOrgsPerRun int
	RecencyWindow time.Duration
	EmptyBackoff  time.Duration   // mute frontier orgs that listed nothing; 0 disables
	Filter        model.JobFilter // nil admits every posting
	Trust         trust.Evaluator // defaults to the host rule behind the store's whitelist
	Recorder      Recorder
	DryRun        bool // roll back every adapter's writes instead of committing
	Logger        *slog.Logger
	Now           func() time.Time
}

// Orchestrator ingests postings from adapters into the store.
type Orchestrator struct {
	store *store.Store
	opts  Options
}

// New creates an orchestrator writing to st.
func New(st *store.Store, opts Options) *Orchestrator {
	if opts.MaxOrgsPerRun <= 0 {
		opts.MaxOrgsPerRun = DefaultMaxOrgsPerRun
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.Trust == nil {
		opts.Trust = trust.NewWhitelistEvaluator(trust.NewHostRule(trust.DefaultSafeDomains), st)
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{store: st, opts: opts}
}

// adapterResult is one adapter's contribution, merged into the run summary
// only once its transaction has committed.
type adapterResult struct {
	summary   model.Summary
	domains   map[string]struct{}
	committed bool
}

// Run processes adapters in order and returns the aggregated summary.
//
// A discovery failure skips the failing adapter and the run continues. Any
// other error stops the run and is returned with the summary of the adapters
// committed so far. Cancellation is honoured between organizations: work
// already done for the current adapter is committed before ctx.Err() is
// returned.
func (o *Orchestrator) Run(ctx context.Context, adapters []model.SourceAdapter) (model.Summary, error) {
	started := time.Now()
	defer func() { o.opts.Recorder.RunCompleted(time.Since(started)) }()

	var summary model.Summary
	domains := make(map[string]struct{})
	cache := make(map[string]trust.Result)

	merge := func(res adapterResult) {
		if !res.committed {
			return
		}
		summary.OrgsCrawled += res.summary.OrgsCrawled
		summary.JobsSeen += res.summary.JobsSeen
		summary.JobsInserted += res.summary.JobsInserted
		for d := range res.domains {
			domains[d] = struct{}{}
		}
		summary.DomainsScored = len(domains)
	}

	for _, a := range adapters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		source := a.SourceName()
		res, err := o.runAdapter(ctx, a, cache)
		merge(res)

		switch {
		case err == nil:
			o.opts.Logger.Info("adapter completed",
				"source", source,
				"orgs", res.summary.OrgsCrawled,
				"seen", res.summary.JobsSeen,
				"inserted", res.summary.JobsInserted,
				"dry_run", o.opts.DryRun,
			)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			o.opts.Logger.Warn("run cancelled", "source", source, "committed", res.committed)
			return summary, err
		case errors.Is(err, model.ErrRobotsDisallowed):
			o.opts.Recorder.AdapterFailed(source, "robots")
			o.opts.Logger.Error("adapter refused by robots.txt, skipping", "source", source, "error", err)
		case errors.Is(err, model.ErrHostNotAllowed):
			o.opts.Recorder.AdapterFailed(source, "host")
			o.opts.Logger.Error("adapter request outside allow-list, skipping", "source", source, "error", err)
		case errors.Is(err, model.ErrDiscovery):
			o.opts.Recorder.AdapterFailed(source, "discovery")
			o.opts.Logger.Error("adapter failed, skipping", "source", source, "error", err)
		default:
			o.opts.Recorder.AdapterFailed(source, "fatal")
			return summary, fmt.Errorf("running %s: %w", source, err)
		}
	}

	o.opts.Logger.Info("discovery run finished",
		"orgs_crawled", summary.OrgsCrawled,
		"jobs_seen", summary.JobsSeen,
		"jobs_inserted", summary.JobsInserted,
		"domains_scored", summary.DomainsScored,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return summary, nil
}

// crawlTarget is one organization to list; frontierID is empty for adapters
// that bypass the frontier.
type crawlTarget struct {
	slug       string
	frontierID string
}

func (o *Orchestrator) runAdapter(ctx context.Context, a model.SourceAdapter, cache map[string]trust.Result) (adapterResult, error) {
	res := adapterResult{domains: make(map[string]struct{})}
	source := a.SourceName()
	logger := o.opts.Logger.With("source", source)

	// Postings are never abandoned half-ingested; ctx is only consulted
	// between organizations.
	work := context.WithoutCancel(ctx)

	slugs, err := a.Discover(work)
	if err != nil {
		return res, err
	}

	tx, err := o.store.Begin(work)
	if err != nil {
		return res, err
	}
	defer func() { tx.Rollback() }()

	targets := make([]crawlTarget, 0, len(slugs))
	if a.UsesFrontier() {
		now := o.opts.Now()
		added, err := tx.SeedFrontier(work, source, slugs, now)
		if err != nil {
			return res, err
		}
		if !o.opts.DryRun {
			if err := tx.Commit(); err != nil {
				return res, err
			}
			if tx, err = o.store.Begin(work); err != nil {
				return res, err
			}
		}

		orgs, err := tx.SelectFrontier(work, source, o.opts.MaxOrgsPerRun, now)
		if err != nil {
			return res, err
		}
		logger.Info("frontier ready", "discovered", len(slugs), "seeded", added, "selected", len(orgs))
		for _, org := range orgs {
			targets = append(targets, crawlTarget{slug: org.OrgSlug, frontierID: org.ID})
		}
	} else {
		for _, slug := range slugs {
			targets = append(targets, crawlTarget{slug: slug})
		}
	}

	finish := func() error {
		if o.opts.DryRun {
			if err := tx.Rollback(); err != nil {
				return err
			}
		} else if err := tx.Commit(); err != nil {
			return err
		}
		res.committed = true
		return nil
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			if ferr := finish(); ferr != nil {
				return res, ferr
			}
			return res, err
		}
		if err := o.crawlOrg(work, tx, a, target, cache, &res, logger); err != nil {
			return res, err
		}
	}

	if err := finish(); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) crawlOrg(
	ctx context.Context,
	tx *store.Tx,
	a model.SourceAdapter,
	target crawlTarget,
	cache map[string]trust.Result,
	res *adapterResult,
	logger *slog.Logger,
) error {
	source := a.SourceName()
	refs, err := a.ListJobs(ctx, target.slug)
	if err != nil {
		if target.frontierID == "" || !orgScoped(err) {
			return err
		}
		o.opts.Recorder.AdapterFailed(source, "org")
		logger.Warn("org listing failed, backing off", "org", target.slug, "error", err)
		return o.settleFrontier(ctx, tx, target, false, logger)
	}
	res.summary.OrgsCrawled++
	res.summary.JobsSeen += len(refs)
	o.opts.Recorder.OrgCrawled(source)
	o.opts.Recorder.JobsSeen(source, len(refs))

	inserted := 0
	for _, ref := range refs {
		ok, err := o.ingest(ctx, tx, a, ref, cache, res)
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	res.summary.JobsInserted += inserted

	if err := o.settleFrontier(ctx, tx, target, len(refs) > 0, logger); err != nil {
		return err
	}

	logger.Info("crawled org", "org", target.slug, "jobs", len(refs), "inserted", inserted)
	return nil
}

// orgScoped reports whether a listing error belongs to the organization
// alone. Robots and allow-list refusals are adapter policy and still skip
// the whole adapter.
func orgScoped(err error) bool {
	return errors.Is(err, model.ErrDiscovery) &&
		!errors.Is(err, model.ErrRobotsDisallowed) &&
		!errors.Is(err, model.ErrHostNotAllowed)
}

// settleFrontier stamps a frontier attempt and mutes orgs that yielded
// nothing, whether they listed empty or failed.
func (o *Orchestrator) settleFrontier(ctx context.Context, tx *store.Tx, target crawlTarget, yielded bool, logger *slog.Logger) error {
	if target.frontierID == "" {
		return nil
	}
	now := o.opts.Now()
	if err := tx.MarkCrawled(ctx, target.frontierID, now); err != nil {
		return err
	}
	if !yielded && o.opts.EmptyBackoff > 0 {
		until := now.Add(o.opts.EmptyBackoff)
		if err := tx.MuteOrg(ctx, target.frontierID, until); err != nil {
			return err
		}
		logger.Debug("muted org", "org", target.slug, "until", until)
	}
	return nil
}

// ingest admits one posting. It returns false when the posting was filtered
// out or already known within the recency window.
func (o *Orchestrator) ingest(
	ctx context.Context,
	tx *store.Tx,
	a model.SourceAdapter,
	ref model.JobRef,
	cache map[string]trust.Result,
	res *adapterResult,
) (bool, error) {
	source := a.SourceName()
	if o.opts.Filter != nil && !o.opts.Filter.Match(ref) {
		o.opts.Recorder.JobSkipped(source, SkipFiltered)
		return false, nil
	}

	now := o.opts.Now()
	cutoff := now.Add(-o.opts.RecencyWindow)

	canonicalID := a.CanonicalID(ref)
	seen, err := tx.JobSeenSince(ctx, canonicalID, cutoff)
	if err != nil {
		return false, err
	}
	if seen {
		o.opts.Recorder.JobSkipped(source, SkipCanonicalID)
		return false, nil
	}

	detail, err := a.FetchJobDetail(ctx, ref)
	if err != nil {
		return false, err
	}
	company := strings.TrimSpace(detail.CompanyName)
	if company == "" {
		company = slugToCompany(ref.OrgSlug)
	}
	text := normalize.HTMLToText(detail.HTML)
	requirements := normalize.ExtractRequirements(detail.HTML)
	hash := normalize.ComputeHash(ref.Title, company, text)

	seen, err = tx.HashSeenSince(ctx, hash, cutoff)
	if err != nil {
		return false, err
	}
	if seen {
		o.opts.Recorder.JobSkipped(source, SkipHash)
		return false, nil
	}

	domainRoot := normalize.DomainRoot(ref.DetailURL)
	verdict, err := o.evaluate(ctx, ref.DetailURL, domainRoot, cache)
	if err != nil {
		return false, err
	}
	res.domains[domainRoot] = struct{}{}

	payload, err := json.Marshal(map[string]any{"job_ref": ref, "detail": detail.Metadata})
	if err != nil {
		return false, fmt.Errorf("encoding raw payload for %s: %w", canonicalID, err)
	}

	job := &model.Job{
		Title:          ref.Title,
		CompanyName:    company,
		Location:       ref.Location,
		URL:            ref.DetailURL,
		SourceType:     a.JobSourceType(),
		DomainRoot:     domainRoot,
		SubmissionMode: a.SubmissionMode(),
		JDText:         text,
		Requirements:   requirements,
		CanonicalID:    canonicalID,
		Hash:           hash,
		ScrapedAt:      now,
	}
	inserted, err := tx.InsertJob(ctx, job)
	if err != nil {
		return false, err
	}
	if !inserted {
		// A row kept past the recency window still owns the unique keys.
		o.opts.Recorder.JobSkipped(source, SkipConflict)
		return false, nil
	}

	if err := tx.InsertJobSource(ctx, &model.JobSource{
		SourceType:   job.SourceType,
		SourceURL:    ref.DetailURL,
		CompanyName:  company,
		DomainRoot:   domainRoot,
		RawPayload:   payload,
		Hash:         hash,
		DiscoveredAt: now,
	}); err != nil {
		return false, err
	}
	if err := tx.InsertTrustEvent(ctx, &model.TrustEvent{
		DomainRoot: domainRoot,
		URL:        ref.DetailURL,
		Score:      verdict.Score,
		Signals:    verdict.Signals,
		Verdict:    verdict.Verdict,
		CreatedAt:  now,
	}); err != nil {
		return false, err
	}

	o.opts.Recorder.JobInserted(source)
	return true, nil
}

// evaluate memoizes trust results per domain root for the lifetime of a run.
func (o *Orchestrator) evaluate(ctx context.Context, rawURL, domainRoot string, cache map[string]trust.Result) (trust.Result, error) {
	if r, ok := cache[domainRoot]; ok {
		return r, nil
	}
	r, err := o.opts.Trust.Evaluate(ctx, rawURL, domainRoot)
	if err != nil {
		return trust.Result{}, fmt.Errorf("evaluating trust for %s: %w", domainRoot, err)
	}
	cache[domainRoot] = r
	return r, nil
}

func slugToCompany(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}
