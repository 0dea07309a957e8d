package store

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
)

// ClearScans erases all scan history and detection state: scans (groups and
// jobs cascade), the pairwise verdict cache, and every PR's cache fields.
// Tracked repos and PR snapshots survive; the next scan recomputes everything.
func (s *Store) ClearScans(ctx context.Context) error {
	return s.db.Tx(ctx, func(q database.Querier) error {
		if err := q.Exec(ctx, `DELETE FROM scans`); err != nil {
			return fmt.Errorf("clearing scans: %w", err)
		}
		if err := q.Exec(ctx, `DELETE FROM pairwise_cache`); err != nil {
			return fmt.Errorf("clearing pairwise cache: %w", err)
		}
		if err := q.Exec(ctx, `UPDATE prs SET embed_hash = NULL, intent_summary = NULL`); err != nil {
			return fmt.Errorf("resetting pr cache fields: %w", err)
		}
		return q.Exec(ctx, `UPDATE repos SET last_scan_at = NULL`)
	})
}

// ClearRepos removes every tracked repo; PRs, scans, groups, jobs, schedules
// and cache entries cascade.
func (s *Store) ClearRepos(ctx context.Context) error {
	return s.db.Exec(ctx, `DELETE FROM repos`)
}

// Stats is a coarse row-count summary used by doctor and the dashboard.
type Stats struct {
	Accounts    int `json:"accounts"`
	Repos       int `json:"repos"`
	OpenPRs     int `json:"open_prs"`
	Scans       int `json:"scans"`
	ActiveScans int `json:"active_scans"`
	DupeGroups  int `json:"dupe_groups"`
	QueuedJobs  int `json:"queued_jobs"`
	CachedPairs int `json:"cached_pairs"`
}

// GetStats counts the major tables.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		dest  *int
		query string
	}{
		{&st.Accounts, `SELECT COUNT(*) FROM accounts`},
		{&st.Repos, `SELECT COUNT(*) FROM repos`},
		{&st.OpenPRs, `SELECT COUNT(*) FROM prs WHERE state = 'open'`},
		{&st.Scans, `SELECT COUNT(*) FROM scans`},
		{&st.ActiveScans, `SELECT COUNT(*) FROM scans WHERE status NOT IN ('done', 'failed')`},
		{&st.DupeGroups, `SELECT COUNT(*) FROM dupe_groups`},
		{&st.QueuedJobs, `SELECT COUNT(*) FROM jobs WHERE status IN ('queued', 'running')`},
		{&st.CachedPairs, `SELECT COUNT(*) FROM pairwise_cache`},
	}
	for _, c := range counts {
		if err := s.db.Get(ctx, c.dest, c.query); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
