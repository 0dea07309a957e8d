package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Opens a read-only terminal dashboard showing recent scans and the
duplicate groups of a selected scan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		return tui.NewApp(cfg, store.New(db)).Run()
	},
}
