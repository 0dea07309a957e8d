package models

import "encoding/json"

// Account is a tenant. Every scan and job runs on behalf of exactly one
// account. ProvidersJSON is an opaque configuration blob enumerating the
// providers the account uses (chat, embedding, vector store, code host)
// and their credentials; the resolver parses it.
type Account struct {
	ID            int64  `json:"id"             db:"id"`
	Name          string `json:"name"           db:"name"`
	APIKey        string `json:"api_key"        db:"api_key"`
	ProvidersJSON string `json:"providers_json" db:"providers_json"`
	CreatedAt     string `json:"created_at"     db:"created_at"`
}

// Repo is an (owner, name) pair tracked for duplicate scanning.
// Deleting a repo cascades to its PRs, scans, groups, jobs and cache entries.
type Repo struct {
	ID         int64   `json:"id"           db:"id"`
	Provider   string  `json:"provider"     db:"provider"` // github | gitlab
	Owner      string  `json:"owner"        db:"owner"`
	Name       string  `json:"name"         db:"name"`
	LastScanAt *string `json:"last_scan_at" db:"last_scan_at"`
	CreatedAt  string  `json:"created_at"   db:"created_at"`
}

// FullName returns owner/name.
func (r Repo) FullName() string { return r.Owner + "/" + r.Name }

// PR state values.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// PR is a pull request snapshot. DiffHash is the stable hash of the
// normalized diff text and is null when the diff was too large to fetch.
//
// EmbedHash and IntentSummary are cache fields: EmbedHash is the content hash
// last used to compute this PR's vectors, IntentSummary the last computed
// natural-language summary. Any upsert that changes the PR's content nulls
// both in the same transaction; that invalidation is the sole mechanism that
// forces recomputation.
type PR struct {
	ID            int64   `json:"id"             db:"id"`
	RepoID        int64   `json:"repo_id"        db:"repo_id"`
	Number        int     `json:"number"         db:"number"`
	Title         string  `json:"title"          db:"title"`
	Body          string  `json:"body"           db:"body"`
	Author        string  `json:"author"         db:"author"`
	State         string  `json:"state"          db:"state"` // open | closed | merged
	FilePathsJSON string  `json:"file_paths"     db:"file_paths"`
	DiffHash      *string `json:"diff_hash"      db:"diff_hash"`
	EmbedHash     *string `json:"embed_hash"     db:"embed_hash"`
	IntentSummary *string `json:"intent_summary" db:"intent_summary"`
	UpdatedAt     string  `json:"updated_at"     db:"updated_at"`
	CreatedAt     string  `json:"created_at"     db:"created_at"`
}

// FilePaths decodes the stored file path list. Returns nil on empty or
// malformed JSON.
func (p PR) FilePaths() []string {
	if p.FilePathsJSON == "" {
		return nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(p.FilePathsJSON), &paths); err != nil {
		return nil
	}
	return paths
}

// EncodeFilePaths serialises paths for storage in FilePathsJSON.
func EncodeFilePaths(paths []string) string {
	if paths == nil {
		paths = []string{}
	}
	data, _ := json.Marshal(paths)
	return string(data)
}
