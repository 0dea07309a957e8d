package codehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHubClient implements Client for GitHub and GitHub Enterprise.
type GitHubClient struct {
	client *gogithub.Client
	host   string
}

// NewGitHub creates a GitHubClient from the given configuration.
func NewGitHub(cfg config.GitHubConfig) (*GitHubClient, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := gogithub.NewClient(tc)

	// Support GitHub Enterprise by overriding the base URL.
	if cfg.Host != "" && cfg.Host != "github.com" {
		base := fmt.Sprintf("https://%s/api/v3/", cfg.Host)
		upload := fmt.Sprintf("https://%s/api/uploads/", cfg.Host)
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub enterprise URLs: %w", err)
		}
	}

	return &GitHubClient{client: client, host: cfg.Host}, nil
}

func (g *GitHubClient) Name() string { return "github" }

func (g *GitHubClient) ListOpenPRs(ctx context.Context, owner, repo string, opts ListOptions) ([]PullRequest, error) {
	var out []PullRequest
	listOpts := &gogithub.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := g.client.PullRequests.List(ctx, owner, repo, listOpts)
		if err != nil {
			return nil, ghErr(fmt.Sprintf("listing PRs for %s/%s", owner, repo), resp, err)
		}
		for _, pr := range prs {
			if !opts.Since.IsZero() && pr.GetUpdatedAt().Time.Before(opts.Since) {
				// Sorted by update desc; everything after this is older.
				return out, nil
			}
			p := PullRequest{
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				Body:      pr.GetBody(),
				Author:    pr.GetUser().GetLogin(),
				State:     pr.GetState(),
				UpdatedAt: pr.GetUpdatedAt().Time,
			}
			paths, err := g.listFiles(ctx, owner, repo, p.Number)
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
		listOpts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHubClient) listFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var paths []string
	opts := &gogithub.ListOptions{PerPage: 100}
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, ghErr(fmt.Sprintf("listing files for %s/%s#%d", owner, repo, number), resp, err)
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return paths, nil
}

func (g *GitHubClient) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, resp, err := g.client.PullRequests.GetRaw(ctx, owner, repo, number,
		gogithub.RawOptions{Type: gogithub.Diff})
	if err != nil {
		// GitHub refuses to render very large diffs with a 406.
		if resp != nil && resp.StatusCode == http.StatusNotAcceptable {
			return "", ErrDiffTooLarge
		}
		return "", ghErr(fmt.Sprintf("fetching diff for %s/%s#%d", owner, repo, number), resp, err)
	}
	if len(diff) > maxDiffBytes {
		return "", ErrDiffTooLarge
	}
	return diff, nil
}

// ghErr maps a go-github error onto the package sentinels, keeping the
// original message.
func ghErr(op string, resp *gogithub.Response, err error) error {
	var rl *gogithub.RateLimitError
	var arl *gogithub.AbuseRateLimitError
	switch {
	case errors.As(err, &rl) || errors.As(err, &arl):
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, err)
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp != nil && resp.StatusCode == http.StatusForbidden &&
		strings.Contains(err.Error(), "rate limit"):
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, err)
	case resp != nil && resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: %s", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
