package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

func seedScanPair(t *testing.T, st *Store) (repoID, accountID int64) {
	t.Helper()
	repo := seedRepo(t, st)
	acct, err := st.CreateAccount(context.Background(), "acme", "{}")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return repo.ID, acct.ID
}

func TestCreateScanRejectsSecondActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	first, err := st.CreateScan(ctx, repoID, accountID, true, "{}")
	if err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	if _, err := st.CreateScan(ctx, repoID, accountID, true, "{}"); !errors.Is(err, ErrScanActive) {
		t.Fatalf("expected ErrScanActive, got %v", err)
	}

	active, err := st.ActiveScan(ctx, repoID, accountID)
	if err != nil {
		t.Fatalf("ActiveScan: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("wrong active scan: %d", active.ID)
	}

	// Terminal scans free the slot.
	done := models.ScanStatusDone
	completed := now()
	if err := st.UpdateScanStatus(ctx, first.ID, done, ScanUpdate{CompletedAt: &completed}); err != nil {
		t.Fatalf("UpdateScanStatus: %v", err)
	}
	if _, err := st.CreateScan(ctx, repoID, accountID, false, "{}"); err != nil {
		t.Fatalf("CreateScan after done: %v", err)
	}
}

func TestUpdateScanStatusPartialFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	scan, _ := st.CreateScan(ctx, repoID, accountID, true, "{}")

	prCount := 12
	if err := st.UpdateScanStatus(ctx, scan.ID, models.ScanStatusEmbedding, ScanUpdate{PRCount: &prCount}); err != nil {
		t.Fatalf("UpdateScanStatus: %v", err)
	}

	got, _ := st.GetScan(ctx, scan.ID)
	if got.Status != models.ScanStatusEmbedding || got.PRCount != 12 {
		t.Fatalf("unexpected scan: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Fatal("completed_at set without being requested")
	}
}

func TestScanCursorRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	scan, _ := st.CreateScan(ctx, repoID, accountID, false, "{}")

	cursor := models.EncodeCursor(models.PhaseCursorData{EmbedBatchID: "batch_42"})
	if err := st.SetScanCursor(ctx, scan.ID, cursor); err != nil {
		t.Fatalf("SetScanCursor: %v", err)
	}

	got, _ := st.GetScan(ctx, scan.ID)
	if got.Cursor().EmbedBatchID != "batch_42" {
		t.Fatalf("cursor lost: %q", got.PhaseCursor)
	}

	if err := st.SetScanCursor(ctx, scan.ID, ""); err != nil {
		t.Fatalf("clearing cursor: %v", err)
	}
	got, _ = st.GetScan(ctx, scan.ID)
	if got.Cursor() != (models.PhaseCursorData{}) {
		t.Fatalf("cursor not cleared: %q", got.PhaseCursor)
	}
}

func TestAddScanTokensAccumulates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repoID, accountID := seedScanPair(t, st)

	scan, _ := st.CreateScan(ctx, repoID, accountID, false, "{}")

	if err := st.AddScanTokens(ctx, scan.ID, "intent", 100, 40); err != nil {
		t.Fatalf("AddScanTokens: %v", err)
	}
	if err := st.AddScanTokens(ctx, scan.ID, "intent", 50, 10); err != nil {
		t.Fatalf("AddScanTokens: %v", err)
	}
	if err := st.AddScanTokens(ctx, scan.ID, "verify", 200, 80); err != nil {
		t.Fatalf("AddScanTokens: %v", err)
	}
	// Zero usage is a no-op.
	if err := st.AddScanTokens(ctx, scan.ID, "rank", 0, 0); err != nil {
		t.Fatalf("AddScanTokens zero: %v", err)
	}

	got, _ := st.GetScan(ctx, scan.ID)
	if got.InputTokens != 350 || got.OutputTokens != 130 {
		t.Fatalf("totals wrong: %d in / %d out", got.InputTokens, got.OutputTokens)
	}

	var breakdown map[string]int64
	if err := json.Unmarshal([]byte(got.TokensJSON), &breakdown); err != nil {
		t.Fatalf("parsing breakdown: %v", err)
	}
	if breakdown["intent.input"] != 150 || breakdown["intent.output"] != 50 {
		t.Fatalf("intent breakdown wrong: %+v", breakdown)
	}
	if breakdown["verify.input"] != 200 {
		t.Fatalf("verify breakdown wrong: %+v", breakdown)
	}
	if _, ok := breakdown["rank.input"]; ok {
		t.Fatal("zero usage should not create a breakdown entry")
	}
}
