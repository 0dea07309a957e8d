package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// ErrScanActive is returned when a scan is requested for a (repo, account)
// pair that already has one in flight.
var ErrScanActive = errors.New("store: a scan is already active for this repo and account")

const scanCols = `id, repo_id, account_id, status, full, pr_count,
	dupe_group_count, phase_cursor, tokens_json, input_tokens, output_tokens,
	providers_json, error_msg, started_at, completed_at`

// CreateScan inserts a queued scan, enforcing at most one active scan per
// (repo, account). The existence check and insert share a transaction.
func (s *Store) CreateScan(ctx context.Context, repoID, accountID int64, full bool, providersJSON string) (*models.Scan, error) {
	scan := models.Scan{
		RepoID:        repoID,
		AccountID:     accountID,
		Status:        models.ScanStatusQueued,
		Full:          full,
		ProvidersJSON: providersJSON,
		StartedAt:     now(),
	}
	err := s.db.Tx(ctx, func(q database.Querier) error {
		var active int
		err := q.Get(ctx, &active,
			`SELECT COUNT(*) FROM scans
			 WHERE repo_id = ? AND account_id = ? AND status NOT IN (?, ?)`,
			repoID, accountID, models.ScanStatusDone, models.ScanStatusFailed)
		if err != nil {
			return fmt.Errorf("checking active scans: %w", err)
		}
		if active > 0 {
			return ErrScanActive
		}
		id, err := q.Insert(ctx, "scans", scan)
		if err != nil {
			return fmt.Errorf("creating scan: %w", err)
		}
		scan.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// ActiveScan returns the non-terminal scan for (repo, account), or
// ErrNotFound when none is in flight.
func (s *Store) ActiveScan(ctx context.Context, repoID, accountID int64) (*models.Scan, error) {
	var scan models.Scan
	err := s.db.Get(ctx, &scan,
		`SELECT `+scanCols+` FROM scans
		 WHERE repo_id = ? AND account_id = ? AND status NOT IN (?, ?)
		 ORDER BY id DESC LIMIT 1`,
		repoID, accountID, models.ScanStatusDone, models.ScanStatusFailed)
	if err != nil {
		return nil, notFound(err)
	}
	return &scan, nil
}

// GetScan loads a scan by id.
func (s *Store) GetScan(ctx context.Context, id int64) (*models.Scan, error) {
	var scan models.Scan
	err := s.db.Get(ctx, &scan, `SELECT `+scanCols+` FROM scans WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &scan, nil
}

// ListScans returns scans for a repo, newest first. limit <= 0 means all.
func (s *Store) ListScans(ctx context.Context, repoID int64, limit int) ([]models.Scan, error) {
	query := `SELECT ` + scanCols + ` FROM scans WHERE repo_id = ? ORDER BY id DESC`
	args := []any{repoID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []models.Scan
	err := s.db.Select(ctx, &out, query, args...)
	return out, err
}

// ListRecentScans returns the newest scans across all repos.
func (s *Store) ListRecentScans(ctx context.Context, limit int) ([]models.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Scan
	err := s.db.Select(ctx, &out,
		`SELECT `+scanCols+` FROM scans ORDER BY id DESC LIMIT ?`, limit)
	return out, err
}

// ScanUpdate carries the optional fields of UpdateScanStatus. Nil fields are
// left untouched.
type ScanUpdate struct {
	PRCount        *int
	DupeGroupCount *int
	PhaseCursor    *string
	ErrorMsg       *string
	CompletedAt    *string
}

// UpdateScanStatus sets the scan status plus whichever optional fields upd
// carries, in one statement.
func (s *Store) UpdateScanStatus(ctx context.Context, id int64, status string, upd ScanUpdate) error {
	query := `UPDATE scans SET status = ?`
	args := []any{status}
	if upd.PRCount != nil {
		query += `, pr_count = ?`
		args = append(args, *upd.PRCount)
	}
	if upd.DupeGroupCount != nil {
		query += `, dupe_group_count = ?`
		args = append(args, *upd.DupeGroupCount)
	}
	if upd.PhaseCursor != nil {
		query += `, phase_cursor = ?`
		args = append(args, *upd.PhaseCursor)
	}
	if upd.ErrorMsg != nil {
		query += `, error_msg = ?`
		args = append(args, *upd.ErrorMsg)
	}
	if upd.CompletedAt != nil {
		query += `, completed_at = ?`
		args = append(args, *upd.CompletedAt)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	return s.db.Exec(ctx, query, args...)
}

// SetScanCursor persists the phase cursor without touching status.
func (s *Store) SetScanCursor(ctx context.Context, id int64, cursor string) error {
	return s.db.Exec(ctx, `UPDATE scans SET phase_cursor = ? WHERE id = ?`, cursor, id)
}

// AddScanTokens accumulates token usage for one phase into the scan's
// per-phase breakdown and running totals. Read-modify-write runs in a
// transaction so concurrent phases cannot lose counts.
func (s *Store) AddScanTokens(ctx context.Context, id int64, phase string, input, output int64) error {
	if input == 0 && output == 0 {
		return nil
	}
	return s.db.Tx(ctx, func(q database.Querier) error {
		var tokensJSON string
		err := q.Get(ctx, &tokensJSON, `SELECT tokens_json FROM scans WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		breakdown := map[string]int64{}
		if tokensJSON != "" {
			_ = json.Unmarshal([]byte(tokensJSON), &breakdown)
		}
		breakdown[phase+".input"] += input
		breakdown[phase+".output"] += output
		data, _ := json.Marshal(breakdown)
		return q.Exec(ctx,
			`UPDATE scans SET tokens_json = ?,
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?
			 WHERE id = ?`,
			string(data), input, output, id)
	})
}
