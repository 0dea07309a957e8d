package scan

import (
	"sort"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

// groupSeed is one duplicate group before ranking: its members and the
// confidence and relationship of the seed edge it grew from.
type groupSeed struct {
	members      []int
	confidence   float64
	relationship string
}

type edge struct {
	a, b int
	conf float64
	rel  string
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// groupVerdicts partitions PRs into duplicate groups by greedy clique
// extraction. Every pair inside an emitted group is pairwise confirmed;
// duplication is never inferred transitively. Deterministic: edges are
// consumed by descending confidence with ties broken by ascending
// (min, max) PR number, and expansion admits the candidate with the
// strongest weakest link, ties broken by ascending PR number.
func groupVerdicts(verdicts []models.PairVerdict) []groupSeed {
	confirmed := make(map[[2]int]edge)
	for _, v := range verdicts {
		if !v.IsDuplicate {
			continue
		}
		key := edgeKey(v.PRA, v.PRB)
		confirmed[key] = edge{a: key[0], b: key[1], conf: v.Confidence, rel: v.Relationship}
	}
	if len(confirmed) == 0 {
		return nil
	}

	edges := make([]edge, 0, len(confirmed))
	for _, e := range confirmed {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].conf != edges[j].conf {
			return edges[i].conf > edges[j].conf
		}
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})

	// Candidate pool: every PR that appears in a confirmed edge.
	poolSet := make(map[int]bool)
	for _, e := range edges {
		poolSet[e.a] = true
		poolSet[e.b] = true
	}
	pool := make([]int, 0, len(poolSet))
	for n := range poolSet {
		pool = append(pool, n)
	}
	sort.Ints(pool)

	used := make(map[int]bool)
	var groups []groupSeed

	for _, seed := range edges {
		if used[seed.a] || used[seed.b] {
			continue
		}
		members := []int{seed.a, seed.b}
		used[seed.a], used[seed.b] = true, true

		// Expand: admit the unassigned PR with the highest minimum-confidence
		// edge to every current member, repeating until none qualifies.
		for {
			bestNum := -1
			bestConf := -1.0
			for _, c := range pool {
				if used[c] {
					continue
				}
				minConf := 2.0
				connected := true
				for _, m := range members {
					e, ok := confirmed[edgeKey(c, m)]
					if !ok {
						connected = false
						break
					}
					if e.conf < minConf {
						minConf = e.conf
					}
				}
				if !connected {
					continue
				}
				if minConf > bestConf || (minConf == bestConf && c < bestNum) {
					bestConf = minConf
					bestNum = c
				}
			}
			if bestNum < 0 {
				break
			}
			members = append(members, bestNum)
			used[bestNum] = true
		}

		sort.Ints(members)
		groups = append(groups, groupSeed{
			members:      members,
			confidence:   seed.conf,
			relationship: seed.rel,
		})
	}
	return groups
}
