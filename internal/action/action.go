// Package action defines the button vocabulary shared by the response parser
// and the executor, and turns parsed actions into device input.
package action

import (
	"errors"
	"strings"
	"time"
)

// Button identifies a handheld control, or one of the two non-device values
// ButtonNone and ButtonError.
type Button string

const (
	ButtonUp     Button = "up"
	ButtonDown   Button = "down"
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonA      Button = "a"
	ButtonB      Button = "b"
	ButtonStart  Button = "start"
	ButtonSelect Button = "select"
	ButtonNone   Button = "none"

	// ButtonError is the sentinel meaning no valid action could be determined.
	// It is never sent to a device.
	ButtonError Button = "error"
)

// DefaultPressDuration is how long a press step holds its button when the
// step carries no explicit duration.
const DefaultPressDuration = 100 * time.Millisecond

// ErrInvalidAction is returned when an error sentinel reaches the executor.
var ErrInvalidAction = errors.New("invalid action")

// KeywordPriority is the fixed order in which free-text replies are scanned
// for a button keyword.
var KeywordPriority = []Button{
	ButtonUp, ButtonDown, ButtonLeft, ButtonRight,
	ButtonA, ButtonB, ButtonStart, ButtonSelect, ButtonNone,
}

// ParseButton maps a case-insensitive button name to a Button. The error
// sentinel is not a parseable name.
func ParseButton(s string) (Button, bool) {
	b := Button(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KeywordPriority {
		if b == known {
			return b, true
		}
	}
	return "", false
}

// IsDevice reports whether the button maps to a physical control.
func (b Button) IsDevice() bool {
	switch b {
	case ButtonUp, ButtonDown, ButtonLeft, ButtonRight, ButtonA, ButtonB, ButtonStart, ButtonSelect:
		return true
	}
	return false
}

// Phase is the kind of a sequence step.
type Phase string

const (
	PhasePress   Phase = "press"
	PhaseHold    Phase = "hold"
	PhaseRelease Phase = "release"
)

// Step is one entry of a timed button sequence.
type Step struct {
	Button     Button `json:"button" yaml:"button"`
	Phase      Phase  `json:"phase" yaml:"phase"`
	DurationMs int    `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
}

// Duration returns the step duration, falling back to DefaultPressDuration.
func (s Step) Duration() time.Duration {
	if s.DurationMs <= 0 {
		return DefaultPressDuration
	}
	return time.Duration(s.DurationMs) * time.Millisecond
}

// ParsedAction is the decision extracted from a model reply.
type ParsedAction struct {
	Button       Button `json:"button"`
	Rationale    string `json:"rationale"`
	Sequence     []Step `json:"sequence,omitempty"`
	GoalProgress string `json:"goalProgress,omitempty"`

	// Err explains why Button is ButtonError.
	Err error `json:"-"`
}

// Invalid builds the error sentinel action.
func Invalid(err error, rationale string) ParsedAction {
	if err == nil {
		err = ErrInvalidAction
	}
	return ParsedAction{Button: ButtonError, Rationale: rationale, Err: err}
}

// IsError reports whether the action is the error sentinel.
func (a ParsedAction) IsError() bool {
	return a.Button == ButtonError
}

// Steps returns the device steps this action expands to. A bare button
// becomes a single press with the default duration; none and the error
// sentinel expand to nothing.
func (a ParsedAction) Steps() []Step {
	if a.IsError() {
		return nil
	}
	if len(a.Sequence) > 0 {
		return a.Sequence
	}
	if !a.Button.IsDevice() {
		return nil
	}
	return []Step{{Button: a.Button, Phase: PhasePress}}
}

// Label is the short form used in history and logs. Sequences render as
// their buttons joined by "+".
func (a ParsedAction) Label() string {
	if len(a.Sequence) == 0 {
		return string(a.Button)
	}
	names := make([]string, 0, len(a.Sequence))
	for _, s := range a.Sequence {
		names = append(names, string(s.Button)+":"+string(s.Phase))
	}
	return strings.Join(names, "+")
}
