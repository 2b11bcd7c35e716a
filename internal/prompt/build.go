// Package prompt composes the per-cycle model prompt and parses the model's
// reply into an action.
package prompt

import (
	"fmt"
	"strings"

	"github.com/andywolf/gamepilot/internal/goal"
)

// MaxRecentActions is how many prior actions are listed in a prompt.
const MaxRecentActions = 5

// ActionRecord is one entry of the recent-action history.
type ActionRecord struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// Inputs are the pieces a prompt is built from. Empty pieces are omitted.
type Inputs struct {
	SystemPrompt  string
	FeedbackLines []string
	Goal          *goal.Goal
	GameContext   string
	NotesSummary  string
	RecentActions []ActionRecord // oldest first

	// Variables fill {{name}} placeholders in SystemPrompt.
	Variables map[string]string
}

// BuildPrompt composes the prompt. Sections appear in a fixed order:
// feedback, system prompt, goal, game context, knowledge, recent actions.
func BuildPrompt(in Inputs) string {
	var sections []string

	if lines := nonBlank(in.FeedbackLines); len(lines) > 0 {
		sections = append(sections, "RECENT FEEDBACK:\n"+strings.Join(lines, "\n"))
	}

	if body := strings.TrimSpace(Render(in.SystemPrompt, in.Variables)); body != "" {
		sections = append(sections, body)
	}

	if in.Goal != nil && strings.TrimSpace(in.Goal.Description) != "" {
		s := "Current Goal: " + in.Goal.Description
		if ctx := strings.TrimSpace(in.Goal.ExtraContext); ctx != "" {
			s += "\nGoal Context: " + ctx
		}
		sections = append(sections, s)
	}

	if ctx := strings.TrimSpace(in.GameContext); ctx != "" {
		sections = append(sections, "Game Context:\n"+ctx)
	}

	if notes := strings.TrimSpace(in.NotesSummary); notes != "" {
		sections = append(sections, "Relevant Knowledge:\n"+notes)
	}

	if recent := lastN(in.RecentActions, MaxRecentActions); len(recent) > 0 {
		var b strings.Builder
		b.WriteString("Recent Actions:")
		for i, r := range recent {
			fmt.Fprintf(&b, "\n%d. Action: %s, Reasoning: %s", i+1, r.Action, r.Rationale)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

func nonBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func lastN(records []ActionRecord, n int) []ActionRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
