// Package store is the durable record keeper for accounts, tracked repos,
// PR snapshots, scans, duplicate groups and the pairwise verdict cache.
// All multi-row updates run inside a single transaction.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a database.DB with typed operations.
type Store struct {
	db database.DB
}

// New returns a Store over db.
func New(db database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database handle for operational tooling.
func (s *Store) DB() database.DB { return s.db }

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Accounts ---

const accountCols = `id, name, api_key, providers_json, created_at`

// CreateAccount inserts a tenant with a freshly generated API key.
func (s *Store) CreateAccount(ctx context.Context, name, providersJSON string) (*models.Account, error) {
	key := make([]byte, 24)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating api key: %w", err)
	}
	acct := models.Account{
		Name:          name,
		APIKey:        "dsk_" + hex.EncodeToString(key),
		ProvidersJSON: providersJSON,
		CreatedAt:     now(),
	}
	id, err := s.db.Insert(ctx, "accounts", acct)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	acct.ID = id
	return &acct, nil
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var acct models.Account
	err := s.db.Get(ctx, &acct, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// GetAccountByKey looks up an account by its API key.
func (s *Store) GetAccountByKey(ctx context.Context, apiKey string) (*models.Account, error) {
	var acct models.Account
	err := s.db.Get(ctx, &acct, `SELECT `+accountCols+` FROM accounts WHERE api_key = ?`, apiKey)
	if err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// ListAccounts returns all accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	err := s.db.Select(ctx, &out, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
	return out, err
}

// UpdateAccountProviders replaces an account's provider configuration blob.
func (s *Store) UpdateAccountProviders(ctx context.Context, id int64, providersJSON string) error {
	return s.db.Exec(ctx, `UPDATE accounts SET providers_json = ? WHERE id = ?`, providersJSON, id)
}

// --- Repos ---

const repoCols = `id, provider, owner, name, last_scan_at, created_at`

// TrackRepo registers (provider, owner, name) for scanning. Re-tracking an
// existing repo returns the existing row.
func (s *Store) TrackRepo(ctx context.Context, provider, owner, name string) (*models.Repo, error) {
	if provider == "" {
		provider = "github"
	}
	existing, err := s.GetRepoByName(ctx, provider, owner, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	repo := models.Repo{Provider: provider, Owner: owner, Name: name, CreatedAt: now()}
	id, err := s.db.Insert(ctx, "repos", repo)
	if err != nil {
		return nil, fmt.Errorf("tracking repo %s/%s: %w", owner, name, err)
	}
	repo.ID = id
	return &repo, nil
}

// GetRepo loads a repo by id.
func (s *Store) GetRepo(ctx context.Context, id int64) (*models.Repo, error) {
	var repo models.Repo
	err := s.db.Get(ctx, &repo, `SELECT `+repoCols+` FROM repos WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &repo, nil
}

// GetRepoByName loads a repo by its (provider, owner, name) identity.
func (s *Store) GetRepoByName(ctx context.Context, provider, owner, name string) (*models.Repo, error) {
	var repo models.Repo
	err := s.db.Get(ctx, &repo,
		`SELECT `+repoCols+` FROM repos WHERE provider = ? AND owner = ? AND name = ?`,
		provider, owner, name)
	if err != nil {
		return nil, notFound(err)
	}
	return &repo, nil
}

// ListRepos returns all tracked repos ordered by id.
func (s *Store) ListRepos(ctx context.Context) ([]models.Repo, error) {
	var out []models.Repo
	err := s.db.Select(ctx, &out, `SELECT `+repoCols+` FROM repos ORDER BY id`)
	return out, err
}

// DeleteRepo removes a repo; PRs, scans, groups, jobs and cache entries
// cascade via foreign keys.
func (s *Store) DeleteRepo(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `DELETE FROM repos WHERE id = ?`, id)
}

// SetRepoLastScanAt stamps the incremental-ingest watermark.
func (s *Store) SetRepoLastScanAt(ctx context.Context, id int64, ts string) error {
	return s.db.Exec(ctx, `UPDATE repos SET last_scan_at = ? WHERE id = ?`, ts, id)
}
