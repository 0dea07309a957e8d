package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

const prCols = `id, repo_id, number, title, body, author, state, file_paths,
	diff_hash, embed_hash, intent_summary, updated_at, created_at`

// UpsertPRInput is one PR snapshot produced by ingest.
type UpsertPRInput struct {
	RepoID    int64
	Number    int
	Title     string
	Body      string
	Author    string
	State     string
	FilePaths []string
	DiffHash  *string
	UpdatedAt string
}

// UpsertPR writes a PR snapshot. When the stored row's content (title, body,
// file paths or diff hash) differs from the incoming snapshot, embed_hash and
// intent_summary are nulled in the same transaction so downstream phases
// recompute them. A snapshot identical in content keeps the cache fields.
// Returns true when the content changed (or the PR is new).
func (s *Store) UpsertPR(ctx context.Context, in UpsertPRInput) (bool, error) {
	filePaths := models.EncodeFilePaths(in.FilePaths)
	changed := false

	err := s.db.Tx(ctx, func(q database.Querier) error {
		var existing models.PR
		err := q.Get(ctx, &existing,
			`SELECT `+prCols+` FROM prs WHERE repo_id = ? AND number = ?`,
			in.RepoID, in.Number)
		if errors.Is(err, sql.ErrNoRows) {
			changed = true
			pr := models.PR{
				RepoID:        in.RepoID,
				Number:        in.Number,
				Title:         in.Title,
				Body:          in.Body,
				Author:        in.Author,
				State:         in.State,
				FilePathsJSON: filePaths,
				DiffHash:      in.DiffHash,
				UpdatedAt:     in.UpdatedAt,
				CreatedAt:     now(),
			}
			_, err := q.Insert(ctx, "prs", pr)
			return err
		}
		if err != nil {
			return fmt.Errorf("loading pr #%d: %w", in.Number, err)
		}

		changed = existing.Title != in.Title ||
			existing.Body != in.Body ||
			existing.FilePathsJSON != filePaths ||
			!ptrEq(existing.DiffHash, in.DiffHash)

		if changed {
			return q.Exec(ctx,
				`UPDATE prs SET title = ?, body = ?, author = ?, state = ?,
					file_paths = ?, diff_hash = ?, embed_hash = NULL,
					intent_summary = NULL, updated_at = ?
				 WHERE id = ?`,
				in.Title, in.Body, in.Author, in.State,
				filePaths, in.DiffHash, in.UpdatedAt, existing.ID)
		}
		return q.Exec(ctx,
			`UPDATE prs SET author = ?, state = ?, updated_at = ? WHERE id = ?`,
			in.Author, in.State, in.UpdatedAt, existing.ID)
	})
	return changed, err
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetPR loads one PR by (repo, number).
func (s *Store) GetPR(ctx context.Context, repoID int64, number int) (*models.PR, error) {
	var pr models.PR
	err := s.db.Get(ctx, &pr,
		`SELECT `+prCols+` FROM prs WHERE repo_id = ? AND number = ?`,
		repoID, number)
	if err != nil {
		return nil, notFound(err)
	}
	return &pr, nil
}

// ListOpenPRs returns all open PRs for a repo ordered by number.
func (s *Store) ListOpenPRs(ctx context.Context, repoID int64) ([]models.PR, error) {
	var out []models.PR
	err := s.db.Select(ctx, &out,
		`SELECT `+prCols+` FROM prs WHERE repo_id = ? AND state = ? ORDER BY number`,
		repoID, models.PRStateOpen)
	return out, err
}

// ListPRsByNumbers loads the given PR numbers for a repo ordered by number.
// Numbers with no stored row are silently absent from the result.
func (s *Store) ListPRsByNumbers(ctx context.Context, repoID int64, numbers []int) ([]models.PR, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(numbers))
	args := make([]any, 0, len(numbers)+1)
	args = append(args, repoID)
	for i, n := range numbers {
		placeholders[i] = "?"
		args = append(args, n)
	}
	var out []models.PR
	err := s.db.Select(ctx, &out,
		`SELECT `+prCols+` FROM prs WHERE repo_id = ? AND number IN (`+
			strings.Join(placeholders, ",")+`) ORDER BY number`,
		args...)
	return out, err
}

// MarkStalePRsClosed flips to closed every open PR of the repo whose number is
// not in openNumbers. Used by full ingest to reconcile PRs that were closed or
// merged upstream since the last scan. Returns the number of PRs closed.
func (s *Store) MarkStalePRsClosed(ctx context.Context, repoID int64, openNumbers []int) (int64, error) {
	query := `UPDATE prs SET state = ? WHERE repo_id = ? AND state = ?`
	args := []any{models.PRStateClosed, repoID, models.PRStateOpen}
	if len(openNumbers) > 0 {
		placeholders := make([]string, len(openNumbers))
		for i, n := range openNumbers {
			placeholders[i] = "?"
			args = append(args, n)
		}
		query += ` AND number NOT IN (` + strings.Join(placeholders, ",") + `)`
	}
	return s.db.ExecRows(ctx, query, args...)
}

// UpdatePRIntentSummary stores a computed intent summary.
func (s *Store) UpdatePRIntentSummary(ctx context.Context, prID int64, summary string) error {
	return s.db.Exec(ctx, `UPDATE prs SET intent_summary = ? WHERE id = ?`, summary, prID)
}

// UpdatePREmbedHash records the content hash the PR's vectors were computed
// from. Setting it marks the PR's embeddings fresh for that content.
func (s *Store) UpdatePREmbedHash(ctx context.Context, prID int64, embedHash string) error {
	return s.db.Exec(ctx, `UPDATE prs SET embed_hash = ? WHERE id = ?`, embedHash, prID)
}
