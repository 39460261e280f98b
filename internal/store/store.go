// Package store persists jobs, their audit records, trust events, the crawl
// frontier and the domain whitelist. SQLite is the default backend; Postgres
// is supported through the same queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/amishk599/jobscout/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultPingTimeout = 5 * time.Second
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		company_name     TEXT NOT NULL,
		location         TEXT NOT NULL DEFAULT '',
		url              TEXT NOT NULL,
		source_type      TEXT NOT NULL,
		domain_root      TEXT NOT NULL,
		submission_mode  TEXT NOT NULL,
		jd_text          TEXT NOT NULL,
		requirements     TEXT NOT NULL,
		job_id_canonical TEXT NOT NULL UNIQUE,
		hash             TEXT NOT NULL UNIQUE,
		scraped_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_domain_root ON jobs (domain_root)`,
	`CREATE TABLE IF NOT EXISTS job_sources (
		id            TEXT PRIMARY KEY,
		source_type   TEXT NOT NULL,
		source_url    TEXT NOT NULL,
		company_name  TEXT NOT NULL,
		domain_root   TEXT NOT NULL,
		raw_payload   TEXT NOT NULL,
		hash          TEXT NOT NULL UNIQUE,
		discovered_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS frontier_orgs (
		id              TEXT PRIMARY KEY,
		source          TEXT NOT NULL,
		org_slug        TEXT NOT NULL,
		priority        INTEGER NOT NULL DEFAULT 100,
		discovered_at   TIMESTAMP NOT NULL,
		last_crawled_at TIMESTAMP NULL,
		muted_until     TIMESTAMP NULL,
		UNIQUE (source, org_slug)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_frontier_select ON frontier_orgs (source, priority, last_crawled_at)`,
	`CREATE TABLE IF NOT EXISTS trust_events (
		id          TEXT PRIMARY KEY,
		domain_root TEXT NOT NULL,
		url         TEXT NOT NULL,
		score       INTEGER NOT NULL,
		signals     TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trust_events_domain ON trust_events (domain_root)`,
	`CREATE TABLE IF NOT EXISTS whitelist (
		domain_root  TEXT PRIMARY KEY,
		company_name TEXT NOT NULL DEFAULT '',
		ats_type     TEXT NOT NULL DEFAULT '',
		approved_by  TEXT NOT NULL,
		approved_at  TIMESTAMP NOT NULL
	)`,
}

// Store is the persistence capability the discovery run depends on.
type Store struct {
	db *sqlx.DB
}

// Open connects to driver/dsn and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = withSQLitePragmas(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s db: %w", driver, err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without running migrations.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// withSQLitePragmas enables WAL and a busy timeout so readers never block
// the run's open write transaction.
func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate creates tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// LookupWhitelist returns the approval for domainRoot, or nil if none.
func (s *Store) LookupWhitelist(ctx context.Context, domainRoot string) (*model.Whitelist, error) {
	var wl model.Whitelist
	err := s.db.GetContext(ctx, &wl, s.db.Rebind(
		`SELECT domain_root, company_name, ats_type, approved_by, approved_at
		 FROM whitelist WHERE domain_root = ?`), domainRoot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up whitelist for %s: %w", domainRoot, err)
	}
	return &wl, nil
}

// UpsertWhitelist records or refreshes an approval.
func (s *Store) UpsertWhitelist(ctx context.Context, wl model.Whitelist) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO whitelist (domain_root, company_name, ats_type, approved_by, approved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (domain_root) DO UPDATE SET
			company_name = excluded.company_name,
			ats_type     = excluded.ats_type,
			approved_by  = excluded.approved_by,
			approved_at  = excluded.approved_at`),
		strings.ToLower(wl.DomainRoot), wl.CompanyName, wl.ATSType, wl.ApprovedBy, wl.ApprovedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting whitelist %s: %w", wl.DomainRoot, err)
	}
	return nil
}

// ListFrontier returns every frontier row for source (all sources when
// empty) in crawl order.
func (s *Store) ListFrontier(ctx context.Context, source string) ([]model.FrontierOrg, error) {
	query := `SELECT id, source, org_slug, priority, discovered_at, last_crawled_at, muted_until
		FROM frontier_orgs`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY source, priority ASC, last_crawled_at ASC NULLS FIRST, org_slug ASC`

	var orgs []model.FrontierOrg
	if err := s.db.SelectContext(ctx, &orgs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing frontier: %w", err)
	}
	return orgs, nil
}

// CountJobs returns the number of ingested jobs.
func (s *Store) CountJobs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM jobs`); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}
