package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		redacted := *cfg
		redacted.Chat.AnthropicKey = redact(cfg.Chat.AnthropicKey)
		redacted.Chat.OpenAIKey = redact(cfg.Chat.OpenAIKey)
		redacted.Embedding.OpenAIKey = redact(cfg.Embedding.OpenAIKey)
		redacted.Vector.APIKey = redact(cfg.Vector.APIKey)
		redacted.Git.GitHub = append([]config.GitHubConfig(nil), cfg.Git.GitHub...)
		for i := range redacted.Git.GitHub {
			redacted.Git.GitHub[i].Token = redact(redacted.Git.GitHub[i].Token)
		}
		redacted.Git.GitLab = append([]config.GitLabConfig(nil), cfg.Git.GitLab...)
		for i := range redacted.Git.GitLab {
			redacted.Git.GitLab[i].Token = redact(redacted.Git.GitLab[i].Token)
		}

		out, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return err
		}
		path, _ := config.ConfigPath(cfgFile)
		fmt.Printf("# %s\n%s\n", path, out)
		return nil
	},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
