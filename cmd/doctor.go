package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/internal/embed"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify providers, credentials, and system health",
	Long: `Checks that the database can be reached, the chat and embedding providers
are configured, and code-host credentials are present.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== dupescan doctor ===")
	fmt.Println()

	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s: %s)\n", db.Driver(), cfg.Database.Path)
		}
		db.Close()
	}

	fmt.Print("Chat provider ............ ")
	chat, chatErr := ai.New(cfg.Chat)
	switch {
	case chatErr != nil:
		fmt.Printf("FAIL (%s)\n", chatErr)
		allOK = false
	case cfg.Chat.Provider == "" || cfg.Chat.Provider == "none":
		fmt.Println("FAIL (not configured — run 'dupescan onboard')")
		allOK = false
	case !chat.IsAvailable(ctx):
		fmt.Printf("WARN (%s configured but unreachable or missing key)\n", cfg.Chat.Provider)
		allOK = false
	default:
		fmt.Printf("OK (%s / %s)\n", chat.Name(), cfg.Chat.Model)
	}

	fmt.Print("Embedding provider ....... ")
	embedder, embedErr := embed.New(cfg.Embedding)
	if embedErr != nil {
		fmt.Printf("FAIL (%s)\n", embedErr)
		allOK = false
	} else if cfg.Embedding.Provider == "openai" || cfg.Embedding.Provider == "" {
		if cfg.Embedding.OpenAIKey == "" {
			fmt.Println("WARN (OpenAI key missing — run 'dupescan onboard')")
			allOK = false
		} else {
			fmt.Printf("OK (%s / %s, %d dims)\n", embedder.Name(), embedder.Model(), embedder.Dimensions())
		}
	} else {
		fmt.Printf("OK (%s / %s)\n", embedder.Name(), embedder.Model())
	}

	fmt.Print("Vector store ............. ")
	switch cfg.Vector.Provider {
	case "memory":
		fmt.Println("OK (in-memory, non-durable)")
	default:
		if cfg.Vector.URL == "" {
			fmt.Println("WARN (Qdrant URL missing — run 'dupescan onboard')")
			allOK = false
		} else {
			fmt.Printf("OK (qdrant: %s)\n", cfg.Vector.URL)
		}
	}

	fmt.Print("GitHub token ............. ")
	if len(cfg.Git.GitHub) == 0 || cfg.Git.GitHub[0].Token == "" {
		fmt.Println("WARN (not configured)")
	} else {
		host := cfg.Git.GitHub[0].Host
		if host == "" {
			host = "github.com"
		}
		fmt.Printf("OK (%s)\n", host)
	}

	fmt.Print("GitLab token ............. ")
	if len(cfg.Git.GitLab) == 0 || cfg.Git.GitLab[0].Token == "" {
		fmt.Println("not configured (optional)")
	} else {
		host := cfg.Git.GitLab[0].Host
		if host == "" {
			host = "gitlab.com"
		}
		fmt.Printf("OK (%s)\n", host)
	}

	fmt.Println()
	if !allOK {
		fmt.Println("Some checks failed. Run 'dupescan onboard' to fix configuration.")
		return nil
	}
	fmt.Println("All checks passed.")
	return nil
}
