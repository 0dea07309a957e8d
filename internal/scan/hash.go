package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

// hunkHeaderRe matches unified diff hunk headers. Line numbers shift whenever
// anything earlier in the file changes, so they are stripped before hashing
// to keep cosmetic churn from invalidating the cache.
var hunkHeaderRe = regexp.MustCompile(`^@@ -\d+(,\d+)? \+\d+(,\d+)? @@`)

// indexLineRe matches git object ids in diff headers, which change on every
// rebase even when the patch content is identical.
var indexLineRe = regexp.MustCompile(`^index [0-9a-f]+\.\.[0-9a-f]+`)

// NormalizeDiff strips volatile metadata from unified diff text so that two
// diffs with identical content hash identically.
func NormalizeDiff(diff string) string {
	lines := strings.Split(diff, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case hunkHeaderRe.MatchString(line):
			out = append(out, "@@ @@"+hunkHeaderRe.ReplaceAllString(line, ""))
		case indexLineRe.MatchString(line):
			continue
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// shortHash is a sha256 digest truncated to 16 hex chars: collision-resistant
// enough for cache keys, short enough for logs.
func shortHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// DiffHash hashes normalized diff text.
func DiffHash(diff string) string {
	return shortHash(NormalizeDiff(diff))
}

// ContentHash computes a PR's duplicate-relevant content hash from its diff
// hash, title, body and file paths. This is the value compared against the
// stored embed_hash to decide whether cached summaries, vectors and pairwise
// verdicts are still valid.
func ContentHash(pr *models.PR) string {
	diffHash := ""
	if pr.DiffHash != nil {
		diffHash = *pr.DiffHash
	}
	parts := []string{diffHash, pr.Title, pr.Body, pr.FilePathsJSON}
	return shortHash(strings.Join(parts, "\x00"))
}
