package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

const cacheCols = `id, repo_id, pra_number, prb_number, hash_a, hash_b,
	is_duplicate, confidence, relationship, rationale, created_at`

// PairKey canonicalises an unordered PR pair as "min-max".
func PairKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d-%d", a, b)
}

// GetPairwiseVerdicts loads the cached verdicts for a repo's PR pairs, keyed
// by PairKey. Rows are returned as stored; callers decide hit vs stale by
// comparing the stored hashes with the PRs' current embed hashes.
func (s *Store) GetPairwiseVerdicts(ctx context.Context, repoID int64, pairs [][2]int) (map[string]models.PairwiseCacheEntry, error) {
	out := make(map[string]models.PairwiseCacheEntry, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	conds := make([]string, 0, len(pairs))
	args := make([]any, 0, len(pairs)*2+1)
	args = append(args, repoID)
	for _, p := range pairs {
		a, b := p[0], p[1]
		if a > b {
			a, b = b, a
		}
		conds = append(conds, `(pra_number = ? AND prb_number = ?)`)
		args = append(args, a, b)
	}

	var rows []models.PairwiseCacheEntry
	err := s.db.Select(ctx, &rows,
		`SELECT `+cacheCols+` FROM pairwise_cache
		 WHERE repo_id = ? AND (`+strings.Join(conds, " OR ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("loading pairwise cache: %w", err)
	}
	for _, r := range rows {
		out[PairKey(r.PRANumber, r.PRBNumber)] = r
	}
	return out, nil
}

// PutPairwiseVerdicts stores fresh verdicts, replacing any prior entry for
// each pair. Pair numbers and hashes are canonicalised so the row always has
// PRANumber < PRBNumber with HashA belonging to the lower number. Verdicts
// with an error relationship are never written; errors must not poison the
// cache.
func (s *Store) PutPairwiseVerdicts(ctx context.Context, repoID int64, entries []models.PairwiseCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Tx(ctx, func(q database.Querier) error {
		for _, e := range entries {
			if e.Relationship == models.RelError || e.Relationship == models.RelParseError {
				continue
			}
			if e.PRANumber > e.PRBNumber {
				e.PRANumber, e.PRBNumber = e.PRBNumber, e.PRANumber
				e.HashA, e.HashB = e.HashB, e.HashA
			}
			e.RepoID = repoID
			e.ID = 0
			if e.CreatedAt == "" {
				e.CreatedAt = now()
			}
			if err := q.Upsert(ctx, "pairwise_cache", e,
				[]string{"repo_id", "pra_number", "prb_number"}); err != nil {
				return fmt.Errorf("caching verdict %d-%d: %w", e.PRANumber, e.PRBNumber, err)
			}
		}
		return nil
	})
}

// CountPairwiseCache reports how many verdicts are cached for a repo.
func (s *Store) CountPairwiseCache(ctx context.Context, repoID int64) (int, error) {
	var n int
	err := s.db.Get(ctx, &n, `SELECT COUNT(*) FROM pairwise_cache WHERE repo_id = ?`, repoID)
	return n, err
}
