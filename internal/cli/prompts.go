package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/andywolf/gamepilot/internal/config"
	"github.com/andywolf/gamepilot/internal/prompt"
	"github.com/spf13/cobra"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect system prompts",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and user system prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		library, err := buildPrompts(cfg.Prompts)
		if err != nil {
			return err
		}
		printPrompts(cmd.OutOrStdout(), library.List(), library.Active().ID)
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Print a system prompt body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		library, err := buildPrompts(cfg.Prompts)
		if err != nil {
			return err
		}
		p, err := library.Find(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.Body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promptsCmd)
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
}

func printPrompts(w io.Writer, prompts []prompt.SystemPrompt, activeID string) {
	fmt.Fprintf(w, "  %-38s %-22s %-8s %s\n", "ID", "NAME", "SOURCE", "DESCRIPTION")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, p := range prompts {
		marker := " "
		if p.ID == activeID {
			marker = "*"
		}
		source := "user"
		if p.IsBuiltin {
			source = "builtin"
		}
		fmt.Fprintf(w, "%s %-38s %-22s %-8s %s\n", marker, p.ID, truncate(p.Name, 22), source, p.Description)
	}
}
