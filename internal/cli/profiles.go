package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andywolf/gamepilot/internal/config"
	"github.com/andywolf/gamepilot/internal/feedback"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect feedback profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the feedback profiles in the profiles directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := profilesDir(cmd)
		if err != nil {
			return err
		}
		profiles, loadErr := feedback.LoadDir(dir)
		printProfiles(cmd.OutOrStdout(), profiles)
		if loadErr != nil {
			return fmt.Errorf("some profiles failed to load: %w", loadErr)
		}
		return nil
	},
}

var profilesValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate profile files",
	Long: `Parse and validate feedback profile files.

Without arguments every profile in the profiles directory is checked.

Example:
  gamepilot profiles validate profiles/tetris.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			dir, err := profilesDir(cmd)
			if err != nil {
				return err
			}
			paths, err = profileFiles(dir)
			if err != nil {
				return err
			}
		}
		if failed := validateProfiles(cmd.OutOrStdout(), paths); failed > 0 {
			return fmt.Errorf("%d of %d profile(s) invalid", failed, len(paths))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesValidateCmd)

	profilesCmd.PersistentFlags().String("dir", "", "Profiles directory (default from config)")
}

func profilesDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.Feedback.ProfilesDir, nil
}

func profileFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && feedback.IsProfileFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func printProfiles(w io.Writer, profiles []*feedback.Profile) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No feedback profiles found.")
		return
	}

	fmt.Fprintf(w, "%-20s %-24s %-10s %-6s %s\n", "NAME", "TITLE PATTERN", "DETECTORS", "RULES", "SOURCE")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, p := range profiles {
		fmt.Fprintf(w, "%-20s %-24s %-10d %-6d %s\n",
			truncate(p.DisplayName(), 20),
			truncate(p.TitlePattern, 24),
			len(p.Detectors),
			len(p.RewardRules),
			p.Source,
		)
	}
}

// validateProfiles prints one line per path and returns the number that
// failed.
func validateProfiles(w io.Writer, paths []string) int {
	failed := 0
	for _, path := range paths {
		p, err := feedback.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s (%s, %d detectors, %d rules)\n", path, p.DisplayName(), len(p.Detectors), len(p.RewardRules))
	}
	return failed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
