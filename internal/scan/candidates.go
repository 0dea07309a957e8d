package scan

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/resolver"
	"github.com/CosmoTheDev/dupescan-agent/internal/vector"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// parsePointID extracts the PR number from a "repoID-prNumber-kind" point id.
func parsePointID(id string) (int, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// runCandidates prunes the O(N²) pair space with nearest-neighbor search.
// Each PR queries its top K neighbors in the intent collection (and the code
// collection at a stricter threshold); the union of above-threshold pairs is
// the candidate set handed to verification.
func (o *Orchestrator) runCandidates(ctx context.Context, svc *resolver.Services, prs []*models.PR) ([][2]int, error) {
	inSnapshot := make(map[int]bool, len(prs))
	for _, pr := range prs {
		inSnapshot[pr.Number] = true
	}

	seen := make(map[[2]int]bool)
	var pairs [][2]int
	addPair := func(a, b int) {
		if a == b || !inSnapshot[a] || !inSnapshot[b] {
			return
		}
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if !seen[key] {
			seen[key] = true
			pairs = append(pairs, key)
		}
	}

	searches := []struct {
		collection string
		kind       string
		threshold  float64
	}{
		{intentCollection, "intent", o.cfg.IntentThreshold},
		{codeCollection, "code", o.cfg.CodeThreshold},
	}

	for _, pr := range prs {
		filter := vector.Filter{"repo_id": pr.RepoID}
		for _, s := range searches {
			vec, err := svc.Vectors.GetVector(ctx, s.collection, pointID(pr.RepoID, pr.Number, s.kind))
			if err != nil {
				return nil, err
			}
			if vec == nil {
				slog.Warn("Missing vector during candidate search",
					"pr", pr.Number, "collection", s.collection)
				continue
			}
			// +1 because the query point matches itself at similarity 1.
			matches, err := svc.Vectors.Search(ctx, s.collection, vec, o.cfg.NeighborK+1, filter)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if m.Score < s.threshold {
					continue
				}
				neighbor, ok := parsePointID(m.ID)
				if !ok {
					continue
				}
				addPair(pr.Number, neighbor)
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	slog.Info("Candidate pairs selected", "pairs", len(pairs), "prs", len(prs))
	return pairs, nil
}
