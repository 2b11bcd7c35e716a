package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andywolf/gamepilot/internal/config"
	"github.com/andywolf/gamepilot/internal/events"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recorded cycles",
	Long: `Print the cycle records written by "gamepilot run".

Example:
  gamepilot logs --tail 20
  gamepilot logs --status error
  gamepilot logs --summary`,
	Args: cobra.NoArgs,
	RunE: showLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().String("file", "", "Cycle records file (default <events.dir>/cycles.jsonl)")
	logsCmd.Flags().StringSlice("status", nil, "Only show these statuses (ok, error, ask)")
	logsCmd.Flags().Int("tail", 50, "Number of records to show from the end (0 for all)")
	logsCmd.Flags().String("session", "", "Only show records of this session id")
	logsCmd.Flags().Bool("summary", false, "Print a summary instead of the records")
}

func showLogs(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Events.Dir == "" {
			return fmt.Errorf("cycle records are disabled (events.dir is empty)")
		}
		path = filepath.Join(cfg.Events.Dir, events.DefaultFilename)
	}

	records, err := events.ReadRecords(path)
	if err != nil {
		return err
	}

	statusArgs, _ := cmd.Flags().GetStringSlice("status")
	var statuses []events.Status
	for _, s := range statusArgs {
		if !events.IsValidStatus(s) {
			return fmt.Errorf("invalid --status %q (valid: ok, error, ask)", s)
		}
		statuses = append(statuses, events.Status(s))
	}
	records = events.FilterByStatus(records, statuses...)

	if session, _ := cmd.Flags().GetString("session"); session != "" {
		records = filterBySession(records, session)
	}

	out := cmd.OutOrStdout()
	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		printSummary(out, events.Summarize(records))
		return nil
	}

	tail, _ := cmd.Flags().GetInt("tail")
	if tail > 0 && len(records) > tail {
		records = records[len(records)-tail:]
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No cycle records found.")
		return nil
	}
	for _, r := range records {
		formatRecord(out, r)
	}
	return nil
}

func filterBySession(records []events.Record, session string) []events.Record {
	var out []events.Record
	for _, r := range records {
		if r.SessionID == session {
			out = append(out, r)
		}
	}
	return out
}

// formatRecord prints one record as a single line.
func formatRecord(w io.Writer, r events.Record) {
	var b strings.Builder
	if !r.Timestamp.IsZero() {
		fmt.Fprintf(&b, "[%s] ", r.Timestamp.Format("15:04:05"))
	}

	switch r.Status {
	case events.StatusAsk:
		fmt.Fprintf(&b, "ASK      %s", oneLine(r.Rationale))
	case events.StatusError:
		fmt.Fprintf(&b, "#%-5d ERROR %s", r.Cycle, r.Error)
	default:
		fmt.Fprintf(&b, "#%-5d %-6s reward %+.2f total %+.2f", r.Cycle, r.Action, r.Reward, r.EpisodeTotal)
		if r.Rationale != "" {
			fmt.Fprintf(&b, " | %s", oneLine(r.Rationale))
		}
	}
	fmt.Fprintln(w, b.String())
}

func printSummary(w io.Writer, s events.Summary) {
	fmt.Fprintf(w, "Cycles:      %d\n", s.Cycles)
	fmt.Fprintf(w, "Errors:      %d\n", s.Errors)
	fmt.Fprintf(w, "Asks:        %d\n", s.Asks)
	fmt.Fprintf(w, "Final total: %+.2f\n", s.FinalTotal)
	if len(s.ActionCounts) == 0 {
		return
	}

	actions := make([]string, 0, len(s.ActionCounts))
	for a := range s.ActionCounts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		ci, cj := s.ActionCounts[actions[i]], s.ActionCounts[actions[j]]
		if ci != cj {
			return ci > cj
		}
		return actions[i] < actions[j]
	})

	fmt.Fprintln(w, "Actions:")
	for _, a := range actions {
		fmt.Fprintf(w, "  %-8s %d\n", a, s.ActionCounts[a])
	}
}

// oneLine collapses whitespace so multi-line rationales fit on one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
