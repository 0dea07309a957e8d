package scan

import (
	"reflect"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func dup(a, b int, conf float64) models.PairVerdict {
	return models.PairVerdict{
		PRA: a, PRB: b,
		IsDuplicate:  true,
		Confidence:   conf,
		Relationship: models.RelNearDuplicate,
	}
}

func memberSets(groups []groupSeed) [][]int {
	out := make([][]int, len(groups))
	for i, g := range groups {
		out[i] = g.members
	}
	return out
}

func TestGroupVerdictsNeverInfersTransitively(t *testing.T) {
	// A-B and B-C confirmed, A-C not: {A,B,C} must never be one group.
	verdicts := []models.PairVerdict{
		dup(1, 2, 0.9),
		dup(2, 3, 0.8),
		{PRA: 1, PRB: 3, IsDuplicate: false, Relationship: models.RelRelated},
	}
	groups := groupVerdicts(verdicts)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d: %+v", len(groups), groups)
	}
	if !reflect.DeepEqual(groups[0].members, []int{1, 2}) {
		t.Fatalf("expected {1,2} from the strongest edge, got %v", groups[0].members)
	}
	// PR 3's only remaining partner is taken, so it stays ungrouped.
}

func TestGroupVerdictsFullCliqueGroupsTogether(t *testing.T) {
	verdicts := []models.PairVerdict{
		dup(1, 2, 0.9),
		dup(2, 3, 0.85),
		dup(1, 3, 0.8),
	}
	groups := groupVerdicts(verdicts)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if !reflect.DeepEqual(groups[0].members, []int{1, 2, 3}) {
		t.Fatalf("expected {1,2,3}, got %v", groups[0].members)
	}
	if groups[0].confidence != 0.9 {
		t.Fatalf("seed confidence lost: %v", groups[0].confidence)
	}
	if groups[0].relationship != models.RelNearDuplicate {
		t.Fatalf("seed relationship lost: %v", groups[0].relationship)
	}
}

func TestGroupVerdictsDisjointPairs(t *testing.T) {
	verdicts := []models.PairVerdict{
		dup(5, 6, 0.7),
		dup(1, 2, 0.95),
	}
	groups := groupVerdicts(verdicts)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	// Seeds are consumed by descending confidence.
	want := [][]int{{1, 2}, {5, 6}}
	if !reflect.DeepEqual(memberSets(groups), want) {
		t.Fatalf("expected %v, got %v", want, memberSets(groups))
	}
}

func TestGroupVerdictsTieBreakIsDeterministic(t *testing.T) {
	// Two seed edges with identical confidence: the lower-numbered pair wins.
	verdicts := []models.PairVerdict{
		dup(7, 8, 0.8),
		dup(1, 2, 0.8),
	}
	for range 20 {
		groups := groupVerdicts(verdicts)
		if !reflect.DeepEqual(groups[0].members, []int{1, 2}) {
			t.Fatalf("tie break unstable: %v", memberSets(groups))
		}
	}
}

func TestGroupVerdictsExpansionPrefersStrongestWeakestLink(t *testing.T) {
	// Seed {1,2}. Both 3 and 4 connect to both members; 4's weakest edge is
	// stronger, so 4 is admitted first, then 3 if still fully connected.
	verdicts := []models.PairVerdict{
		dup(1, 2, 0.95),
		dup(1, 3, 0.9), dup(2, 3, 0.5),
		dup(1, 4, 0.8), dup(2, 4, 0.8),
	}
	groups := groupVerdicts(verdicts)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	// 3 lacks an edge to 4, so after 4 joins it no longer qualifies.
	if !reflect.DeepEqual(groups[0].members, []int{1, 2, 4}) {
		t.Fatalf("expected {1,2,4}, got %v", groups[0].members)
	}
}

func TestGroupVerdictsIgnoresNonDuplicates(t *testing.T) {
	verdicts := []models.PairVerdict{
		{PRA: 1, PRB: 2, IsDuplicate: false, Confidence: 0.99, Relationship: models.RelRelated},
		{PRA: 3, PRB: 4, Relationship: models.RelError},
	}
	if groups := groupVerdicts(verdicts); groups != nil {
		t.Fatalf("non-duplicate verdicts produced groups: %+v", groups)
	}
}
