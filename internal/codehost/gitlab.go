package codehost

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLabClient implements Client for GitLab (cloud and self-hosted). Merge
// requests are surfaced as pull requests, keyed by IID.
type GitLabClient struct {
	client *gitlab.Client
	host   string
}

// NewGitLab creates a GitLabClient from the given configuration.
func NewGitLab(cfg config.GitLabConfig) (*GitLabClient, error) {
	opts := []gitlab.ClientOptionFunc{}
	if cfg.Host != "" && cfg.Host != "gitlab.com" {
		base := fmt.Sprintf("https://%s/api/v4/", cfg.Host)
		opts = append(opts, gitlab.WithBaseURL(base))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}

	return &GitLabClient{client: client, host: cfg.Host}, nil
}

func (g *GitLabClient) Name() string { return "gitlab" }

func (g *GitLabClient) ListOpenPRs(ctx context.Context, owner, repo string, opts ListOptions) ([]PullRequest, error) {
	pid := owner + "/" + repo
	state := "opened"
	orderBy := "updated_at"
	sortDir := "desc"

	listOpts := &gitlab.ListProjectMergeRequestsOptions{
		State:       &state,
		OrderBy:     &orderBy,
		Sort:        &sortDir,
		ListOptions: gitlab.ListOptions{PerPage: 100, Page: 1},
	}
	if !opts.Since.IsZero() {
		since := opts.Since
		listOpts.UpdatedAfter = &since
	}

	var out []PullRequest
	for {
		mrs, resp, err := g.client.MergeRequests.ListProjectMergeRequests(
			pid, listOpts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, glErr(fmt.Sprintf("listing MRs for %s", pid), resp, err)
		}
		for _, mr := range mrs {
			p := PullRequest{
				Number: int(mr.IID),
				Title:  mr.Title,
				Body:   mr.Description,
				State:  "open",
			}
			if mr.Author != nil {
				p.Author = mr.Author.Username
			}
			if mr.UpdatedAt != nil {
				p.UpdatedAt = *mr.UpdatedAt
			}
			paths, _, err := g.diffAndPaths(ctx, pid, mr.IID)
			if err != nil {
				return nil, err
			}
			p.FilePaths = paths
			out = append(out, p)
			if opts.Max > 0 && len(out) >= opts.Max {
				return out, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = int64(resp.NextPage)
	}
	return out, nil
}

func (g *GitLabClient) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	_, diff, err := g.diffAndPaths(ctx, owner+"/"+repo, int64(number))
	if err != nil {
		return "", err
	}
	if len(diff) > maxDiffBytes {
		return "", ErrDiffTooLarge
	}
	return diff, nil
}

// diffAndPaths walks the MR diff listing once, collecting both the changed
// paths and a unified diff document.
func (g *GitLabClient) diffAndPaths(ctx context.Context, pid string, iid int64) ([]string, string, error) {
	var (
		paths []string
		sb    strings.Builder
	)
	listOpts := &gitlab.ListMergeRequestDiffsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100, Page: 1},
	}
	for {
		diffs, resp, err := g.client.MergeRequests.ListMergeRequestDiffs(
			pid, iid, listOpts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, "", glErr(fmt.Sprintf("listing diffs for %s!%d", pid, iid), resp, err)
		}
		for _, d := range diffs {
			paths = append(paths, d.NewPath)
			fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
			sb.WriteString(d.Diff)
			if !strings.HasSuffix(d.Diff, "\n") {
				sb.WriteString("\n")
			}
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = int64(resp.NextPage)
	}
	return paths, sb.String(), nil
}

// glErr maps a GitLab API error onto the package sentinels.
func glErr(op string, resp *gitlab.Response, err error) error {
	switch {
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, err)
	case resp != nil && resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: %s", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
