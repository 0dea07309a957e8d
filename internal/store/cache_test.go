package store

import (
	"context"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func TestPairKeyCanonical(t *testing.T) {
	if PairKey(9, 4) != "4-9" || PairKey(4, 9) != "4-9" {
		t.Fatalf("PairKey not canonical: %s %s", PairKey(9, 4), PairKey(4, 9))
	}
}

func TestPairwiseCacheRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	entries := []models.PairwiseCacheEntry{
		{
			PRANumber: 12, PRBNumber: 5, // deliberately reversed
			HashA: "hash-12", HashB: "hash-5",
			IsDuplicate: true, Confidence: 0.91,
			Relationship: models.RelNearDuplicate,
			Rationale:    "same fix",
		},
	}
	if err := st.PutPairwiseVerdicts(ctx, repo.ID, entries); err != nil {
		t.Fatalf("PutPairwiseVerdicts: %v", err)
	}

	got, err := st.GetPairwiseVerdicts(ctx, repo.ID, [][2]int{{5, 12}})
	if err != nil {
		t.Fatalf("GetPairwiseVerdicts: %v", err)
	}
	entry, ok := got[PairKey(5, 12)]
	if !ok {
		t.Fatalf("verdict missing: %+v", got)
	}
	if entry.PRANumber != 5 || entry.PRBNumber != 12 {
		t.Fatalf("pair not canonicalised: %d-%d", entry.PRANumber, entry.PRBNumber)
	}
	// Hashes must follow their numbers through canonicalisation.
	if entry.HashA != "hash-5" || entry.HashB != "hash-12" {
		t.Fatalf("hashes not swapped with numbers: %q %q", entry.HashA, entry.HashB)
	}
	if !entry.IsDuplicate || entry.Confidence != 0.91 {
		t.Fatalf("verdict fields lost: %+v", entry)
	}
}

func TestPairwiseCacheReplacesOnRewrite(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	put := func(conf float64, hashA string) {
		t.Helper()
		err := st.PutPairwiseVerdicts(ctx, repo.ID, []models.PairwiseCacheEntry{{
			PRANumber: 1, PRBNumber: 2,
			HashA: hashA, HashB: "h2",
			IsDuplicate: true, Confidence: conf,
			Relationship: models.RelExactDuplicate,
		}})
		if err != nil {
			t.Fatalf("PutPairwiseVerdicts: %v", err)
		}
	}
	put(0.5, "h1-old")
	put(0.9, "h1-new")

	n, err := st.CountPairwiseCache(ctx, repo.ID)
	if err != nil {
		t.Fatalf("CountPairwiseCache: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cached row, got %d", n)
	}

	got, _ := st.GetPairwiseVerdicts(ctx, repo.ID, [][2]int{{1, 2}})
	entry := got[PairKey(1, 2)]
	if entry.Confidence != 0.9 || entry.HashA != "h1-new" {
		t.Fatalf("rewrite did not replace: %+v", entry)
	}
}

func TestPairwiseCacheSkipsErrorVerdicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	err := st.PutPairwiseVerdicts(ctx, repo.ID, []models.PairwiseCacheEntry{
		{PRANumber: 1, PRBNumber: 2, Relationship: models.RelError, Rationale: "timeout"},
		{PRANumber: 3, PRBNumber: 4, Relationship: models.RelParseError},
		{PRANumber: 5, PRBNumber: 6, HashA: "a", HashB: "b", Relationship: models.RelUnrelated},
	})
	if err != nil {
		t.Fatalf("PutPairwiseVerdicts: %v", err)
	}

	n, _ := st.CountPairwiseCache(ctx, repo.ID)
	if n != 1 {
		t.Fatalf("error verdicts cached: %d rows", n)
	}

	// Negative verdicts are cached like positives.
	got, _ := st.GetPairwiseVerdicts(ctx, repo.ID, [][2]int{{5, 6}})
	if entry, ok := got[PairKey(5, 6)]; !ok || entry.IsDuplicate {
		t.Fatalf("negative verdict missing or wrong: %+v", got)
	}
}

func TestReplaceDupeGroupsIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)
	scan, _ := st.CreateScan(ctx, repoID, accountID, true, "{}")

	groups := []GroupWithMembers{
		{
			Group: models.DupeGroup{Label: "retry logic", Confidence: 0.9, Relationship: models.RelNearDuplicate},
			Members: []models.DupeGroupMember{
				{PRNumber: 1, Rank: 1, Score: 0.9},
				{PRNumber: 2, Rank: 2, Score: 0.4},
			},
		},
	}
	if err := st.ReplaceDupeGroups(ctx, scan.ID, groups); err != nil {
		t.Fatalf("ReplaceDupeGroups: %v", err)
	}
	// Retry of the rank phase rewrites the same groups.
	if err := st.ReplaceDupeGroups(ctx, scan.ID, groups); err != nil {
		t.Fatalf("ReplaceDupeGroups retry: %v", err)
	}

	stored, err := st.ListDupeGroups(ctx, scan.ID)
	if err != nil {
		t.Fatalf("ListDupeGroups: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("retry doubled groups: %d", len(stored))
	}
	members, err := st.ListGroupMembers(ctx, stored[0].ID)
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	if len(members) != 2 || members[0].Rank != 1 || members[0].PRNumber != 1 {
		t.Fatalf("members wrong: %+v", members)
	}
	if stored[0].PRCount != 2 {
		t.Fatalf("pr_count wrong: %d", stored[0].PRCount)
	}

	// Replacing with nil clears everything.
	if err := st.ReplaceDupeGroups(ctx, scan.ID, nil); err != nil {
		t.Fatalf("ReplaceDupeGroups nil: %v", err)
	}
	stored, _ = st.ListDupeGroups(ctx, scan.ID)
	if len(stored) != 0 {
		t.Fatalf("groups survived nil replace: %d", len(stored))
	}
}
