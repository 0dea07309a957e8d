package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dupescan",
	Short: "Duplicate pull-request detection for busy repositories",
	Long: `dupescan watches a repository's open pull requests and finds the ones that
do the same thing: reimplementations, supersessions, partial overlaps. It
summarises each PR's intent with an LLM, embeds the summaries and changed
paths, prunes the pair space with nearest-neighbor search, and has the model
verify every surviving pair before grouping and ranking the duplicates.

Get started:
  dupescan onboard    Interactive setup wizard
  dupescan doctor     Verify providers and credentials
  dupescan repo add   Track a repository
  dupescan scan       Run a one-shot duplicate scan
  dupescan gateway    Start the persistent daemon with REST API
  dupescan ui         Launch the terminal dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.dupescan/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		onboardCmd,
		repoCmd,
		accountCmd,
		scanCmd,
		workerCmd,
		gatewayCmd,
		uiCmd,
		scheduleCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}

// openDB loads the config, opens the configured database and applies pending
// migrations. Callers own Close().
func openDB(ctx context.Context) (*config.Config, database.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.EnsureDir(); err != nil {
		return nil, nil, err
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}
	return cfg, db, nil
}
