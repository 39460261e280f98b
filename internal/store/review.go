package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amishk599/jobscout/internal/model"
)

// PendingDomain is a domain whose postings await a reviewer's approval.
type PendingDomain struct {
	DomainRoot string `db:"domain_root"`
	Events     int    `db:"events"`
	Score      int    `db:"score"`
}

type trustEventRow struct {
	ID         string    `db:"id"`
	DomainRoot string    `db:"domain_root"`
	URL        string    `db:"url"`
	Score      int       `db:"score"`
	Signals    string    `db:"signals"`
	Verdict    string    `db:"verdict"`
	CreatedAt  time.Time `db:"created_at"`
}

// TrustEvents returns the evaluations recorded for domainRoot, oldest first.
func (s *Store) TrustEvents(ctx context.Context, domainRoot string) ([]model.TrustEvent, error) {
	var rows []trustEventRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, domain_root, url, score, signals, verdict, created_at
		 FROM trust_events WHERE domain_root = ?
		 ORDER BY created_at ASC, id ASC`), domainRoot)
	if err != nil {
		return nil, fmt.Errorf("listing trust events for %s: %w", domainRoot, err)
	}

	events := make([]model.TrustEvent, 0, len(rows))
	for _, r := range rows {
		ev := model.TrustEvent{
			ID:         r.ID,
			DomainRoot: r.DomainRoot,
			URL:        r.URL,
			Score:      r.Score,
			Verdict:    model.TrustVerdict(r.Verdict),
			CreatedAt:  r.CreatedAt,
		}
		if err := json.Unmarshal([]byte(r.Signals), &ev.Signals); err != nil {
			return nil, fmt.Errorf("decoding signals of trust event %s: %w", r.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// PendingDomains lists domains evaluated as needing human approval that are
// not yet whitelisted, busiest first.
func (s *Store) PendingDomains(ctx context.Context) ([]PendingDomain, error) {
	var pending []PendingDomain
	err := s.db.SelectContext(ctx, &pending, s.db.Rebind(
		`SELECT t.domain_root, COUNT(*) AS events, MAX(t.score) AS score
		 FROM trust_events t
		 LEFT JOIN whitelist w ON w.domain_root = t.domain_root
		 WHERE t.verdict = ? AND w.domain_root IS NULL
		 GROUP BY t.domain_root
		 ORDER BY events DESC, t.domain_root ASC`), string(model.VerdictNeedsHuman))
	if err != nil {
		return nil, fmt.Errorf("listing pending domains: %w", err)
	}
	return pending, nil
}
