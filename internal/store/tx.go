package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/amishk599/jobscout/internal/model"
)

// DefaultPriority is assigned to newly discovered frontier organizations.
const DefaultPriority = 100

// Tx groups the writes of one adapter's contribution to a run. Reads made
// through a Tx see its own uncommitted inserts.
type Tx struct {
	tx *sqlx.Tx
}

// Commit makes the unit of work visible.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards the unit of work. Rolling back a finished Tx is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

func (t *Tx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := t.tx.QueryRowxContext(ctx, t.tx.Rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// JobSeenSince reports whether a job with canonicalID was ingested at or after since.
func (t *Tx) JobSeenSince(ctx context.Context, canonicalID string, since time.Time) (bool, error) {
	seen, err := t.exists(ctx,
		`SELECT 1 FROM jobs WHERE job_id_canonical = ? AND scraped_at >= ? LIMIT 1`,
		canonicalID, since.UTC())
	if err != nil {
		return false, fmt.Errorf("checking canonical id %s: %w", canonicalID, err)
	}
	return seen, nil
}

// HashSeenSince reports whether a job with hash was ingested at or after since.
func (t *Tx) HashSeenSince(ctx context.Context, hash string, since time.Time) (bool, error) {
	seen, err := t.exists(ctx,
		`SELECT 1 FROM jobs WHERE hash = ? AND scraped_at >= ? LIMIT 1`,
		hash, since.UTC())
	if err != nil {
		return false, fmt.Errorf("checking hash %s: %w", hash, err)
	}
	return seen, nil
}

// InsertJob stores job, assigning an id when empty. It returns false without
// error when a row with the same canonical id or hash already exists.
func (t *Tx) InsertJob(ctx context.Context, job *model.Job) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	reqs, err := json.Marshal(job.Requirements)
	if err != nil {
		return false, fmt.Errorf("encoding requirements for %s: %w", job.CanonicalID, err)
	}

	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(
		`INSERT INTO jobs (id, title, company_name, location, url, source_type, domain_root,
			submission_mode, jd_text, requirements, job_id_canonical, hash, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`),
		job.ID, job.Title, job.CompanyName, job.Location, job.URL, string(job.SourceType),
		job.DomainRoot, string(job.SubmissionMode), job.JDText, string(reqs),
		job.CanonicalID, job.Hash, job.ScrapedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("inserting job %s: %w", job.CanonicalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting job %s: %w", job.CanonicalID, err)
	}
	return n > 0, nil
}

// InsertJobSource stores the raw audit record paired with a job.
func (t *Tx) InsertJobSource(ctx context.Context, src *model.JobSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(
		`INSERT INTO job_sources (id, source_type, source_url, company_name, domain_root,
			raw_payload, hash, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		src.ID, string(src.SourceType), src.SourceURL, src.CompanyName, src.DomainRoot,
		string(src.RawPayload), src.Hash, src.DiscoveredAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting job source %s: %w", src.SourceURL, err)
	}
	return nil
}

// InsertTrustEvent stores one trust evaluation outcome.
func (t *Tx) InsertTrustEvent(ctx context.Context, ev *model.TrustEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	signals, err := json.Marshal(ev.Signals)
	if err != nil {
		return fmt.Errorf("encoding signals for %s: %w", ev.DomainRoot, err)
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(
		`INSERT INTO trust_events (id, domain_root, url, score, signals, verdict, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.DomainRoot, ev.URL, ev.Score, string(signals), string(ev.Verdict), ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting trust event for %s: %w", ev.DomainRoot, err)
	}
	return nil
}

// SeedFrontier inserts rows for slugs not yet known for source and returns
// how many were added. Existing rows are left untouched.
func (t *Tx) SeedFrontier(ctx context.Context, source string, slugs []string, now time.Time) (int, error) {
	query := t.tx.Rebind(
		`INSERT INTO frontier_orgs (id, source, org_slug, priority, discovered_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source, org_slug) DO NOTHING`)

	added := 0
	for _, slug := range slugs {
		res, err := t.tx.ExecContext(ctx, query, uuid.NewString(), source, slug, DefaultPriority, now.UTC())
		if err != nil {
			return added, fmt.Errorf("seeding frontier %s/%s: %w", source, slug, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			added++
		}
	}
	return added, nil
}

// SelectFrontier returns up to limit unmuted rows for source, by ascending
// priority then least recently crawled, never-crawled first.
func (t *Tx) SelectFrontier(ctx context.Context, source string, limit int, now time.Time) ([]model.FrontierOrg, error) {
	var orgs []model.FrontierOrg
	err := t.tx.SelectContext(ctx, &orgs, t.tx.Rebind(
		`SELECT id, source, org_slug, priority, discovered_at, last_crawled_at, muted_until
		 FROM frontier_orgs
		 WHERE source = ? AND (muted_until IS NULL OR muted_until <= ?)
		 ORDER BY priority ASC, last_crawled_at ASC NULLS FIRST, org_slug ASC
		 LIMIT ?`),
		source, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting frontier for %s: %w", source, err)
	}
	return orgs, nil
}

// MarkCrawled stamps last_crawled_at on a frontier row.
func (t *Tx) MarkCrawled(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(
		`UPDATE frontier_orgs SET last_crawled_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("marking frontier row %s crawled: %w", id, err)
	}
	return nil
}

// MuteOrg hides a frontier row from selection until the given time.
func (t *Tx) MuteOrg(ctx context.Context, id string, until time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(
		`UPDATE frontier_orgs SET muted_until = ? WHERE id = ?`), until.UTC(), id)
	if err != nil {
		return fmt.Errorf("muting frontier row %s: %w", id, err)
	}
	return nil
}
