package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/gateway"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
)

var (
	scheduleFull      bool
	scheduleAccountID int64
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring scan schedules",
	Long: `Schedules are cron expressions stored in the database and evaluated by the
gateway daemon. A schedule that fires enqueues a scan for its repository.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <owner/name> <cron-expr>",
	Short: "Schedule recurring scans of a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		expr := args[1]
		if err := gateway.Validate(expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}

		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		st := store.New(db)

		repo, err := st.GetRepoByName(ctx, repoProvider, owner, name)
		if err != nil {
			return err
		}
		accountID, err := ensureAccount(ctx, st, scheduleAccountID)
		if err != nil {
			return err
		}
		sched, err := st.CreateSchedule(ctx, repo.ID, accountID, expr, scheduleFull)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %d created: %s %q\n", sched.ID, repo.FullName(), expr)
		fmt.Println("The gateway daemon picks it up on start; restart or reload a running gateway.")
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		schedules, err := store.New(db).ListSchedules(ctx)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules.")
			return nil
		}
		for _, s := range schedules {
			state := "enabled"
			if !s.Enabled {
				state = "disabled"
			}
			last := "never fired"
			if s.LastRunAt != nil {
				last = "last " + *s.LastRunAt
			}
			fmt.Printf("%4d  repo %-4d %-16q %-8s %s\n", s.ID, s.RepoID, s.Expr, state, last)
		}
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.New(db).DeleteSchedule(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed schedule %d\n", id)
		return nil
	},
}

func init() {
	scheduleAddCmd.Flags().BoolVar(&scheduleFull, "full", false,
		"schedule full scans instead of incremental ones")
	scheduleAddCmd.Flags().Int64Var(&scheduleAccountID, "account", 0,
		"account id to scan as (default: first account, created if none)")
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd)
}
