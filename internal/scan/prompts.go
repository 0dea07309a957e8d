package scan

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/CosmoTheDev/dupescan-agent/models"
)

const (
	intentSystemPrompt = "You are an expert code reviewer summarising pull requests."
	verifySystemPrompt = "You are an expert code reviewer deciding whether two pull requests duplicate each other."
	rankSystemPrompt   = "You are an expert code reviewer choosing which of several duplicate pull requests to merge."
)

const (
	maxBodyChars  = 4000
	maxDiffChars  = 12000
	maxPathsShown = 20
)

// truncate cuts s to at most n bytes, appending a marker when it cut. The cut
// backs off to a rune boundary so multibyte characters are never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[truncated]"
}

func pathList(pr *models.PR) string {
	paths := pr.FilePaths()
	if len(paths) > maxPathsShown {
		paths = append(paths[:maxPathsShown:maxPathsShown],
			fmt.Sprintf("... and %d more", len(pr.FilePaths())-maxPathsShown))
	}
	if len(paths) == 0 {
		return "(none listed)"
	}
	return strings.Join(paths, "\n")
}

// intentPrompt asks for a 2-3 sentence summary of what the PR does. diff may
// be empty when the diff was too large to fetch.
func intentPrompt(pr *models.PR, diff string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Summarise what the following pull request does in 2-3 sentences.
Focus on intent (what problem it solves), not mechanics.

PR #%d: %s
Author: %s

Description:
%s

Changed files:
%s
`, pr.Number, pr.Title, pr.Author, truncate(pr.Body, maxBodyChars), pathList(pr))
	if diff != "" {
		fmt.Fprintf(&sb, "\nDiff:\n%s\n", truncate(diff, maxDiffChars))
	}
	sb.WriteString(`
Respond ONLY with valid JSON, no markdown code blocks:
{"summary": "..."}`)
	return sb.String()
}

func prSection(pr *models.PR) string {
	summary := ""
	if pr.IntentSummary != nil {
		summary = *pr.IntentSummary
	}
	return fmt.Sprintf(`PR #%d: %s
Author: %s
Intent: %s
Description:
%s
Changed files:
%s`, pr.Number, pr.Title, pr.Author, summary, truncate(pr.Body, maxBodyChars), pathList(pr))
}

// verifyPrompt asks for a duplicate verdict on one unordered pair.
func verifyPrompt(a, b *models.PR) string {
	return fmt.Sprintf(`Two pull requests from the same repository are shown below.
Decide whether they are duplicates: changes that solve the same problem such
that merging both would be redundant.

=== First ===
%s

=== Second ===
%s

Respond ONLY with valid JSON, no markdown code blocks:
{
  "isDuplicate": true|false,
  "confidence": 0.0-1.0,
  "relationship": "exact_duplicate"|"near_duplicate"|"related"|"unrelated",
  "rationale": "1-2 sentence explanation"
}`, prSection(a), prSection(b))
}

// rankPrompt asks for a merge-preference ranking of one duplicate group.
func rankPrompt(members []*models.PR) string {
	var sb strings.Builder
	sb.WriteString(`The following pull requests are duplicates of one another.
Rank them by which should be merged, considering completeness, code quality
and clarity. Higher score is better.

`)
	for _, pr := range members {
		sb.WriteString("=== ")
		fmt.Fprintf(&sb, "PR #%d", pr.Number)
		sb.WriteString(" ===\n")
		sb.WriteString(prSection(pr))
		sb.WriteString("\n\n")
	}
	sb.WriteString(`Respond ONLY with valid JSON, no markdown code blocks:
{
  "ranking": [
    {"prNumber": 123, "score": 0.0-1.0, "rationale": "1-2 sentences"}
  ]
}
Include every PR exactly once.`)
	return sb.String()
}

// stripCodeFence removes a wrapping markdown code fence when the model adds
// one despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
