package store

import (
	"context"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func TestClearScansKeepsReposAndPRs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	if _, err := st.UpsertPR(ctx, UpsertPRInput{
		RepoID: repoID, Number: 1, Title: "t", State: models.PRStateOpen, UpdatedAt: now(),
	}); err != nil {
		t.Fatalf("UpsertPR: %v", err)
	}
	pr, _ := st.GetPR(ctx, repoID, 1)
	_ = st.UpdatePREmbedHash(ctx, pr.ID, "h1")
	_ = st.UpdatePRIntentSummary(ctx, pr.ID, "summary")
	_ = st.SetRepoLastScanAt(ctx, repoID, now())

	scan, _ := st.CreateScan(ctx, repoID, accountID, true, "{}")
	_ = st.ReplaceDupeGroups(ctx, scan.ID, []GroupWithMembers{{
		Group:   models.DupeGroup{Label: "g"},
		Members: []models.DupeGroupMember{{PRNumber: 1, Rank: 1}},
	}})
	_ = st.PutPairwiseVerdicts(ctx, repoID, []models.PairwiseCacheEntry{{
		PRANumber: 1, PRBNumber: 2, HashA: "a", HashB: "b",
		Relationship: models.RelUnrelated,
	}})

	if err := st.ClearScans(ctx); err != nil {
		t.Fatalf("ClearScans: %v", err)
	}

	scans, _ := st.ListScans(ctx, repoID, 0)
	if len(scans) != 0 {
		t.Fatalf("scans survived: %d", len(scans))
	}
	if n, _ := st.CountPairwiseCache(ctx, repoID); n != 0 {
		t.Fatalf("cache survived: %d", n)
	}

	// PR snapshots survive but their cache fields are reset.
	pr, err := st.GetPR(ctx, repoID, 1)
	if err != nil {
		t.Fatalf("PR deleted by ClearScans: %v", err)
	}
	if pr.EmbedHash != nil || pr.IntentSummary != nil {
		t.Fatalf("pr cache fields survived: %+v", pr)
	}
	repo, _ := st.GetRepo(ctx, repoID)
	if repo.LastScanAt != nil {
		t.Fatal("watermark survived ClearScans")
	}
}

func TestGetStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	_, _ = st.UpsertPR(ctx, UpsertPRInput{
		RepoID: repoID, Number: 1, Title: "t", State: models.PRStateOpen, UpdatedAt: now(),
	})
	_, _ = st.CreateScan(ctx, repoID, accountID, true, "{}")

	stats, err := st.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Accounts != 1 || stats.Repos != 1 || stats.OpenPRs != 1 {
		t.Fatalf("counts wrong: %+v", stats)
	}
	if stats.Scans != 1 || stats.ActiveScans != 1 {
		t.Fatalf("scan counts wrong: %+v", stats)
	}
}
