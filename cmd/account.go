package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
	Long: `Accounts are tenants: every scan runs on behalf of one. Each account gets
an API key and may carry a provider-override blob (chat model, embedding
model, code-host tokens) that replaces the global config for its scans.`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an account and print its API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		acct, err := store.New(db).CreateAccount(ctx, args[0], "{}")
		if err != nil {
			return err
		}
		fmt.Printf("Created account %q (id %d)\n", acct.Name, acct.ID)
		fmt.Printf("API key: %s\n", acct.APIKey)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		accounts, err := store.New(db).ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts. Create one with `dupescan account add <name>`.")
			return nil
		}
		for _, a := range accounts {
			overrides := ""
			if a.ProvidersJSON != "" && a.ProvidersJSON != "{}" {
				overrides = "(provider overrides set)"
			}
			fmt.Printf("%4d  %-24s %s %s\n", a.ID, a.Name, a.APIKey, overrides)
		}
		return nil
	},
}

var accountImportCmd = &cobra.Command{
	Use:   "import <id> <providers.yaml>",
	Short: "Import a provider-override blob from a YAML file",
	Long: `Reads a YAML document of provider overrides and stores it on the account.
Recognised top-level keys: chat, embedding, vector, git. Each section uses
the same fields as the global config; omitted sections keep the defaults.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		st := store.New(db)

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid account id %q", args[0])
		}
		if _, err := st.GetAccount(ctx, id); err != nil {
			return err
		}

		raw, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", args[1], err)
		}
		blob, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding overrides: %w", err)
		}
		if err := st.UpdateAccountProviders(ctx, id, string(blob)); err != nil {
			return err
		}
		fmt.Printf("Imported provider overrides for account %d\n", id)
		return nil
	},
}

func init() {
	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountImportCmd)
}
