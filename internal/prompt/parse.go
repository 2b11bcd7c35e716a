package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/andywolf/gamepilot/internal/action"
)

// ErrNoAction is the cause attached to replies that name no button.
var ErrNoAction = errors.New("no button found in reply")

// structuredReply is the JSON reply shape. encoding/json matches field
// names case-insensitively.
type structuredReply struct {
	Action       *string     `json:"action"`
	Reasoning    string      `json:"reasoning"`
	GoalProgress string      `json:"goalProgress"`
	Sequence     []replyStep `json:"sequence"`
}

type replyStep struct {
	Button     string `json:"button"`
	Phase      string `json:"phase"`
	DurationMs int    `json:"durationMs"`
}

// ParseResponse extracts an action from a model reply. Replies shaped like a
// JSON object are decoded as such; anything else, including objects that
// fail to decode, is scanned as free text. A reply that yields no valid
// button is returned as the error sentinel.
func ParseResponse(raw string) action.ParsedAction {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var reply structuredReply
		if err := json.Unmarshal([]byte(trimmed), &reply); err == nil {
			return reply.toAction()
		}
	}
	return parseFreeText(trimmed)
}

func (r structuredReply) toAction() action.ParsedAction {
	if r.Action == nil {
		return action.Invalid(fmt.Errorf("%w: structured reply has no action", ErrNoAction), r.Reasoning)
	}
	button, ok := action.ParseButton(*r.Action)
	if !ok {
		return action.Invalid(fmt.Errorf("unknown action %q", *r.Action), r.Reasoning)
	}

	pa := action.ParsedAction{
		Button:       button,
		Rationale:    strings.TrimSpace(r.Reasoning),
		GoalProgress: strings.TrimSpace(r.GoalProgress),
	}

	for i, s := range r.Sequence {
		b, ok := action.ParseButton(s.Button)
		if !ok || !b.IsDevice() {
			return action.Invalid(fmt.Errorf("sequence step %d: invalid button %q", i, s.Button), r.Reasoning)
		}
		phase := action.Phase(strings.ToLower(strings.TrimSpace(s.Phase)))
		switch phase {
		case "":
			phase = action.PhasePress
		case action.PhasePress, action.PhaseHold, action.PhaseRelease:
		default:
			return action.Invalid(fmt.Errorf("sequence step %d: invalid phase %q", i, s.Phase), r.Reasoning)
		}
		if s.DurationMs < 0 {
			return action.Invalid(fmt.Errorf("sequence step %d: negative duration", i), r.Reasoning)
		}
		pa.Sequence = append(pa.Sequence, action.Step{Button: b, Phase: phase, DurationMs: s.DurationMs})
	}
	return pa
}

// parseFreeText treats every non-blank line but the last as the rationale
// and scans the last line for a button keyword.
func parseFreeText(text string) action.ParsedAction {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return action.Invalid(fmt.Errorf("%w: empty reply", ErrNoAction), "")
	}

	last := lines[len(lines)-1]
	rationale := strings.Join(lines[:len(lines)-1], "\n")

	button, ok := ScanKeyword(last)
	if !ok {
		return action.Invalid(fmt.Errorf("%w: %q", ErrNoAction, last), rationale)
	}
	return action.ParsedAction{Button: button, Rationale: rationale}
}

// ScanKeyword finds the first button keyword, in action.KeywordPriority
// order, that appears as a whole alphanumeric token in line.
func ScanKeyword(line string) (action.Button, bool) {
	tokens := strings.FieldsFunc(strings.ToUpper(line), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}
	for _, b := range action.KeywordPriority {
		if present[strings.ToUpper(string(b))] {
			return b, true
		}
	}
	return "", false
}
