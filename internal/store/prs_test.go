package store

import (
	"context"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func seedRepo(t *testing.T, st *Store) *models.Repo {
	t.Helper()
	repo, err := st.TrackRepo(context.Background(), "github", "acme", "widgets")
	if err != nil {
		t.Fatalf("TrackRepo: %v", err)
	}
	return repo
}

func strPtr(s string) *string { return &s }

func TestUpsertPRInvalidatesCacheOnContentChange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	in := UpsertPRInput{
		RepoID:    repo.ID,
		Number:    7,
		Title:     "Add retry logic",
		Body:      "Retries transient failures.",
		Author:    "mira",
		State:     models.PRStateOpen,
		FilePaths: []string{"retry.go"},
		DiffHash:  strPtr("aaaa000011112222"),
		UpdatedAt: now(),
	}
	changed, err := st.UpsertPR(ctx, in)
	if err != nil {
		t.Fatalf("UpsertPR: %v", err)
	}
	if !changed {
		t.Fatal("new PR should report changed")
	}

	pr, _ := st.GetPR(ctx, repo.ID, 7)
	if err := st.UpdatePRIntentSummary(ctx, pr.ID, "adds retry logic"); err != nil {
		t.Fatalf("UpdatePRIntentSummary: %v", err)
	}
	if err := st.UpdatePREmbedHash(ctx, pr.ID, "hash-v1"); err != nil {
		t.Fatalf("UpdatePREmbedHash: %v", err)
	}

	// Same content: cache fields must survive.
	in.Author = "mira-renamed"
	changed, err = st.UpsertPR(ctx, in)
	if err != nil {
		t.Fatalf("UpsertPR unchanged: %v", err)
	}
	if changed {
		t.Fatal("author-only update should not report changed")
	}
	pr, _ = st.GetPR(ctx, repo.ID, 7)
	if pr.EmbedHash == nil || pr.IntentSummary == nil {
		t.Fatal("cache fields cleared by content-identical upsert")
	}
	if pr.Author != "mira-renamed" {
		t.Fatalf("author not updated: %q", pr.Author)
	}

	// Changed body: both cache fields must be nulled atomically.
	in.Body = "Retries transient failures with backoff."
	changed, err = st.UpsertPR(ctx, in)
	if err != nil {
		t.Fatalf("UpsertPR changed: %v", err)
	}
	if !changed {
		t.Fatal("body change should report changed")
	}
	pr, _ = st.GetPR(ctx, repo.ID, 7)
	if pr.EmbedHash != nil {
		t.Fatalf("embed_hash survived content change: %q", *pr.EmbedHash)
	}
	if pr.IntentSummary != nil {
		t.Fatalf("intent_summary survived content change: %q", *pr.IntentSummary)
	}
}

func TestUpsertPRDiffHashChangeInvalidates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	in := UpsertPRInput{
		RepoID: repo.ID, Number: 3, Title: "t", State: models.PRStateOpen,
		DiffHash: strPtr("hash-a"), UpdatedAt: now(),
	}
	if _, err := st.UpsertPR(ctx, in); err != nil {
		t.Fatalf("UpsertPR: %v", err)
	}
	pr, _ := st.GetPR(ctx, repo.ID, 3)
	_ = st.UpdatePREmbedHash(ctx, pr.ID, "hash-v1")

	in.DiffHash = strPtr("hash-b")
	changed, err := st.UpsertPR(ctx, in)
	if err != nil {
		t.Fatalf("UpsertPR: %v", err)
	}
	if !changed {
		t.Fatal("diff hash change should report changed")
	}
	pr, _ = st.GetPR(ctx, repo.ID, 3)
	if pr.EmbedHash != nil {
		t.Fatal("embed_hash survived diff hash change")
	}
}

func TestMarkStalePRsClosed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	for _, n := range []int{1, 2, 3, 4} {
		if _, err := st.UpsertPR(ctx, UpsertPRInput{
			RepoID: repo.ID, Number: n, Title: "t", State: models.PRStateOpen, UpdatedAt: now(),
		}); err != nil {
			t.Fatalf("UpsertPR #%d: %v", n, err)
		}
	}

	closed, err := st.MarkStalePRsClosed(ctx, repo.ID, []int{2, 4})
	if err != nil {
		t.Fatalf("MarkStalePRsClosed: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 closed, got %d", closed)
	}

	open, err := st.ListOpenPRs(ctx, repo.ID)
	if err != nil {
		t.Fatalf("ListOpenPRs: %v", err)
	}
	if len(open) != 2 || open[0].Number != 2 || open[1].Number != 4 {
		t.Fatalf("unexpected open set: %+v", open)
	}

	// Empty open list closes everything.
	closed, err = st.MarkStalePRsClosed(ctx, repo.ID, nil)
	if err != nil {
		t.Fatalf("MarkStalePRsClosed empty: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 closed, got %d", closed)
	}
}

func TestListPRsByNumbers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	for _, n := range []int{5, 6, 7} {
		if _, err := st.UpsertPR(ctx, UpsertPRInput{
			RepoID: repo.ID, Number: n, Title: "t", State: models.PRStateOpen, UpdatedAt: now(),
		}); err != nil {
			t.Fatalf("UpsertPR: %v", err)
		}
	}

	prs, err := st.ListPRsByNumbers(ctx, repo.ID, []int{7, 5, 99})
	if err != nil {
		t.Fatalf("ListPRsByNumbers: %v", err)
	}
	if len(prs) != 2 || prs[0].Number != 5 || prs[1].Number != 7 {
		t.Fatalf("unexpected result: %+v", prs)
	}

	none, err := st.ListPRsByNumbers(ctx, repo.ID, nil)
	if err != nil || none != nil {
		t.Fatalf("empty input should return nil, nil: %v %v", none, err)
	}
}
