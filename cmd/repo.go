package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
)

var repoProvider string

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked repositories",
	Long:  `Add, remove, and list the repositories watched for duplicate PRs.`,
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Track a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		repo, err := store.New(db).TrackRepo(ctx, repoProvider, owner, name)
		if err != nil {
			return err
		}
		fmt.Printf("Tracking %s (%s, id %d)\n", repo.FullName(), repo.Provider, repo.ID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		repos, err := store.New(db).ListRepos(ctx)
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories tracked. Add one with `dupescan repo add <owner/name>`.")
			return nil
		}
		for _, r := range repos {
			last := "never scanned"
			if r.LastScanAt != nil {
				last = "last scan " + *r.LastScanAt
			}
			fmt.Printf("%4d  %-10s %-40s %s\n", r.ID, r.Provider, r.FullName(), last)
		}
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <owner/name | id>",
	Short: "Stop tracking a repository (removes its PRs, scans and cache)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		st := store.New(db)

		var id int64
		if n, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
			id = n
		} else {
			owner, name, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}
			repo, err := st.GetRepoByName(ctx, repoProvider, owner, name)
			if err != nil {
				return err
			}
			id = repo.ID
		}
		if err := st.DeleteRepo(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed repo %d\n", id)
		return nil
	},
}

func splitRepoArg(arg string) (owner, name string, err error) {
	parts := strings.SplitN(strings.TrimSpace(arg), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <owner/name>, got %q", arg)
	}
	return parts[0], parts[1], nil
}

func init() {
	repoCmd.PersistentFlags().StringVar(&repoProvider, "provider", "github",
		"code host: github or gitlab")
	repoCmd.AddCommand(repoAddCmd, repoListCmd, repoRemoveCmd)
}
