package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelkehle/patent-drafter/internal/config"
	"github.com/joelkehle/patent-drafter/internal/prompts"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage per-role prompt overrides",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [role]",
			Short: "Print active overrides",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openOverrides()
				if err != nil {
					return err
				}
				roles := prompts.Roles
				if len(args) == 1 {
					role, err := prompts.ParseRole(args[0])
					if err != nil {
						return err
					}
					roles = []prompts.Role{role}
				}
				out := cmd.OutOrStdout()
				for _, role := range roles {
					text := store.Get(role)
					if text == "" {
						fmt.Fprintf(out, "== %s: (default)\n", role)
						continue
					}
					fmt.Fprintf(out, "== %s:\n%s\n", role, text)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <role> <file|->",
			Short: "Replace the prompt for a role with the file contents",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, err := prompts.ParseRole(args[0])
				if err != nil {
					return err
				}
				text, err := readInput(args[1])
				if err != nil {
					return err
				}
				if strings.TrimSpace(text) == "" {
					return fmt.Errorf("prompt text for %s is empty, use clear instead", role)
				}
				store, err := openOverrides()
				if err != nil {
					return err
				}
				if err := store.Set(role, text); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "override for %s saved\n", role)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <role>",
			Short: "Remove the override for a role",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, err := prompts.ParseRole(args[0])
				if err != nil {
					return err
				}
				store, err := openOverrides()
				if err != nil {
					return err
				}
				if err := store.Clear(role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "override for %s cleared\n", role)
				return nil
			},
		},
	)
	return cmd
}

// openOverrides needs only the data dir, so it skips LLM setup.
func openOverrides() (*prompts.OverrideStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return prompts.OpenOverrideStore(filepath.Join(cfg.DataDir, "user_prompts.json"))
}
