package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestCreateAccountGeneratesKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	acct, err := st.CreateAccount(ctx, "acme", "{}")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if !strings.HasPrefix(acct.APIKey, "dsk_") {
		t.Fatalf("api key missing prefix: %q", acct.APIKey)
	}
	if len(acct.APIKey) < 20 {
		t.Fatalf("api key too short: %q", acct.APIKey)
	}

	byKey, err := st.GetAccountByKey(ctx, acct.APIKey)
	if err != nil {
		t.Fatalf("GetAccountByKey: %v", err)
	}
	if byKey.ID != acct.ID || byKey.Name != "acme" {
		t.Fatalf("lookup mismatch: %+v", byKey)
	}

	if _, err := st.GetAccountByKey(ctx, "dsk_bogus"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestTrackRepoIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.TrackRepo(ctx, "github", "acme", "widgets")
	if err != nil {
		t.Fatalf("TrackRepo: %v", err)
	}
	second, err := st.TrackRepo(ctx, "github", "acme", "widgets")
	if err != nil {
		t.Fatalf("TrackRepo again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("re-tracking created a new row: %d vs %d", first.ID, second.ID)
	}

	repos, err := st.ListRepos(ctx)
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected 1 repo, got %d", len(repos))
	}
}

func TestTrackRepoDefaultsProvider(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	repo, err := st.TrackRepo(ctx, "", "acme", "widgets")
	if err != nil {
		t.Fatalf("TrackRepo: %v", err)
	}
	if repo.Provider != "github" {
		t.Fatalf("expected github default, got %q", repo.Provider)
	}
}

func TestDeleteRepoCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	repo, _ := st.TrackRepo(ctx, "github", "acme", "widgets")
	acct, _ := st.CreateAccount(ctx, "acme", "{}")
	if _, err := st.UpsertPR(ctx, UpsertPRInput{
		RepoID: repo.ID, Number: 1, Title: "a", State: "open", UpdatedAt: now(),
	}); err != nil {
		t.Fatalf("UpsertPR: %v", err)
	}
	if _, err := st.CreateScan(ctx, repo.ID, acct.ID, true, "{}"); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	if err := st.DeleteRepo(ctx, repo.ID); err != nil {
		t.Fatalf("DeleteRepo: %v", err)
	}

	prs, err := st.ListOpenPRs(ctx, repo.ID)
	if err != nil {
		t.Fatalf("ListOpenPRs: %v", err)
	}
	if len(prs) != 0 {
		t.Fatalf("PRs survived repo delete: %d", len(prs))
	}
	scans, err := st.ListScans(ctx, repo.ID, 10)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(scans) != 0 {
		t.Fatalf("scans survived repo delete: %d", len(scans))
	}
}
