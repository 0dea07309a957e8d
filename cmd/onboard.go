package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive setup wizard for dupescan",
	Long: `Walks you through configuring dupescan:
  - Storage backend (SQLite by default, MySQL for shared deployments)
  - Chat provider (Anthropic, OpenAI or Ollama — used for intent, verify, rank)
  - Embedding provider (OpenAI or Ollama)
  - Vector store (Qdrant, or in-memory for quick trials)
  - Code host credentials (GitHub, GitLab)`,
	RunE: runOnboard,
}

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#14B8A6")).
	MarginBottom(1)

var successStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#10B981"))

var faintStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#6B7280"))

func runOnboard(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(headerStyle.Render("  dupescan — duplicate pull-request detection"))
	fmt.Println(faintStyle.Render("  Finds open PRs that do the same thing before reviewers waste time on both.\n"))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = &config.Config{}
	}
	if err := config.EnsureDir(); err != nil {
		return fmt.Errorf("creating dupescan directories: %w", err)
	}

	// --- Step 1: Storage ---
	fmt.Println(headerStyle.Render("  Step 1/5 · Storage"))

	dbDriver := cfg.Database.Driver
	if dbDriver == "" {
		dbDriver = "sqlite"
	}
	dbDSN := cfg.Database.DSN
	storageForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database backend").
				Description("SQLite needs no setup; MySQL suits shared or multi-worker deployments.").
				Options(
					huh.NewOption("SQLite (default)", "sqlite"),
					huh.NewOption("MySQL", "mysql"),
				).
				Value(&dbDriver),
		),
	)
	if err := storageForm.Run(); err != nil {
		return err
	}
	if dbDriver == "mysql" {
		dsnForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("MySQL DSN").
					Placeholder("user:pass@tcp(localhost:3306)/dupescan").
					Value(&dbDSN),
			),
		)
		if err := dsnForm.Run(); err != nil {
			return err
		}
	}
	cfg.Database.Driver = dbDriver
	cfg.Database.DSN = dbDSN

	// --- Step 2: Chat provider ---
	fmt.Println(headerStyle.Render("  Step 2/5 · Chat provider"))
	fmt.Println(faintStyle.Render("  Summarises PR intent, verifies candidate pairs, ranks duplicates.\n"))

	chatProvider := cfg.Chat.Provider
	if chatProvider == "" {
		chatProvider = "anthropic"
	}
	anthropicKey := cfg.Chat.AnthropicKey
	chatOpenAIKey := cfg.Chat.OpenAIKey
	chatModel := cfg.Chat.Model
	useBatch := cfg.Chat.UseBatch

	chatForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Ollama (local, free)", "ollama"),
				).
				Value(&chatProvider),
		),
	)
	if err := chatForm.Run(); err != nil {
		return err
	}

	switch chatProvider {
	case "anthropic":
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API Key").
				Placeholder("sk-ant-...").
				EchoMode(huh.EchoModePassword).
				Value(&anthropicKey),
			huh.NewInput().
				Title("Model (blank for default)").
				Value(&chatModel),
			huh.NewConfirm().
				Title("Use the Message Batches API?").
				Description("Batches are half price and suit large repos; scans take longer.").
				Value(&useBatch),
		))
		if err := f.Run(); err != nil {
			return err
		}
	case "openai":
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API Key").
				Placeholder("sk-...").
				EchoMode(huh.EchoModePassword).
				Value(&chatOpenAIKey),
			huh.NewInput().
				Title("Model (blank for default)").
				Value(&chatModel),
			huh.NewConfirm().
				Title("Use the Batch API?").
				Description("Batches are half price and suit large repos; scans take longer.").
				Value(&useBatch),
		))
		if err := f.Run(); err != nil {
			return err
		}
	case "ollama":
		ollamaURL := cfg.Chat.OllamaURL
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Ollama URL").
				Placeholder("http://localhost:11434").
				Value(&ollamaURL),
			huh.NewInput().
				Title("Model").
				Placeholder("llama3.1").
				Value(&chatModel),
		))
		if err := f.Run(); err != nil {
			return err
		}
		cfg.Chat.OllamaURL = ollamaURL
		useBatch = false
	}
	cfg.Chat.Provider = chatProvider
	cfg.Chat.AnthropicKey = anthropicKey
	cfg.Chat.OpenAIKey = chatOpenAIKey
	cfg.Chat.Model = chatModel
	cfg.Chat.UseBatch = useBatch

	// --- Step 3: Embedding provider ---
	fmt.Println(headerStyle.Render("  Step 3/5 · Embedding provider"))

	embedProvider := cfg.Embedding.Provider
	if embedProvider == "" {
		embedProvider = "openai"
	}
	embedKey := cfg.Embedding.OpenAIKey
	if embedKey == "" && chatProvider == "openai" {
		embedKey = chatOpenAIKey
	}
	embedForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(
					huh.NewOption("OpenAI (text-embedding-3-small)", "openai"),
					huh.NewOption("Ollama (nomic-embed-text)", "ollama"),
				).
				Value(&embedProvider),
		),
	)
	if err := embedForm.Run(); err != nil {
		return err
	}
	if embedProvider == "openai" {
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API Key for embeddings").
				Placeholder("sk-...").
				EchoMode(huh.EchoModePassword).
				Value(&embedKey),
		))
		if err := f.Run(); err != nil {
			return err
		}
		cfg.Embedding.OpenAIKey = embedKey
	} else {
		ollamaURL := cfg.Embedding.OllamaURL
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Ollama URL").
				Placeholder("http://localhost:11434").
				Value(&ollamaURL),
		))
		if err := f.Run(); err != nil {
			return err
		}
		cfg.Embedding.OllamaURL = ollamaURL
	}
	cfg.Embedding.Provider = embedProvider

	// --- Step 4: Vector store ---
	fmt.Println(headerStyle.Render("  Step 4/5 · Vector store"))

	vectorProvider := cfg.Vector.Provider
	if vectorProvider == "" {
		vectorProvider = "qdrant"
	}
	vectorURL := cfg.Vector.URL
	vectorKey := cfg.Vector.APIKey
	vecForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Description("Qdrant keeps vectors across runs; in-memory re-embeds every process start.").
				Options(
					huh.NewOption("Qdrant", "qdrant"),
					huh.NewOption("In-memory (dev only)", "memory"),
				).
				Value(&vectorProvider),
		),
	)
	if err := vecForm.Run(); err != nil {
		return err
	}
	if vectorProvider == "qdrant" {
		f := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Qdrant URL").
				Placeholder("http://localhost:6333").
				Value(&vectorURL),
			huh.NewInput().
				Title("Qdrant API key (blank if none)").
				EchoMode(huh.EchoModePassword).
				Value(&vectorKey),
		))
		if err := f.Run(); err != nil {
			return err
		}
	}
	cfg.Vector.Provider = vectorProvider
	cfg.Vector.URL = vectorURL
	cfg.Vector.APIKey = vectorKey

	// --- Step 5: Code hosts ---
	fmt.Println(headerStyle.Render("  Step 5/5 · Code hosts"))

	var githubToken, gitlabToken string
	if len(cfg.Git.GitHub) > 0 {
		githubToken = cfg.Git.GitHub[0].Token
	}
	if len(cfg.Git.GitLab) > 0 {
		gitlabToken = cfg.Git.GitLab[0].Token
	}
	gitForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("GitHub token").
				Description("Needs repo read scope. Blank to skip GitHub.").
				Placeholder("ghp_...  (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&githubToken),
			huh.NewInput().
				Title("GitLab token").
				Description("Needs read_api scope. Blank to skip GitLab.").
				Placeholder("glpat-...  (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&gitlabToken),
		),
	)
	if err := gitForm.Run(); err != nil {
		return err
	}
	if githubToken != "" {
		if len(cfg.Git.GitHub) == 0 {
			cfg.Git.GitHub = []config.GitHubConfig{{}}
		}
		cfg.Git.GitHub[0].Token = githubToken
	}
	if gitlabToken != "" {
		if len(cfg.Git.GitLab) == 0 {
			cfg.Git.GitLab = []config.GitLabConfig{{}}
		}
		cfg.Git.GitLab[0].Token = gitlabToken
	}

	cfgPath, err := config.ConfigPath(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Save(cfg, cfgPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("  Configuration saved to " + cfgPath))
	fmt.Println(faintStyle.Render("  Next: dupescan repo add <owner/name> && dupescan scan <owner/name>"))
	fmt.Println()
	return nil
}
