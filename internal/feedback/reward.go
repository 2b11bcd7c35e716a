package feedback

import (
	"errors"
	"fmt"

	"github.com/andywolf/gamepilot/internal/detect"
)

// Formula names a reward computed from event data.
type Formula string

const (
	FormulaDelta       Formula = "delta"
	FormulaDeltaDiv100 Formula = "delta_div_100"
	FormulaNegDelta    Formula = "neg_delta"
	FormulaValue       Formula = "value"
)

// ErrMissingInput is returned when a formula's input is absent from the
// event data.
var ErrMissingInput = errors.New("formula input missing from event data")

func (f Formula) valid() bool {
	switch f {
	case FormulaDelta, FormulaDeltaDiv100, FormulaNegDelta, FormulaValue:
		return true
	}
	return false
}

// Reward is either a fixed amount or a named formula.
type Reward struct {
	Fixed   float64
	Formula Formula
}

// Evaluate computes the reward for an event's data.
func (r Reward) Evaluate(data detect.Data) (float64, error) {
	switch r.Formula {
	case "":
		return r.Fixed, nil
	case FormulaDelta, FormulaDeltaDiv100, FormulaNegDelta:
		delta, ok := data.Number("delta")
		if !ok {
			return 0, fmt.Errorf("%s: %w", r.Formula, ErrMissingInput)
		}
		switch r.Formula {
		case FormulaDeltaDiv100:
			return delta / 100, nil
		case FormulaNegDelta:
			return -delta, nil
		}
		return delta, nil
	case FormulaValue:
		v, ok := data.Number("value")
		if !ok {
			return 0, fmt.Errorf("%s: %w", r.Formula, ErrMissingInput)
		}
		return v, nil
	}
	return 0, fmt.Errorf("unknown formula %q", r.Formula)
}

// Op is a condition comparison.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Clause compares one numeric field of the event data.
type Clause struct {
	Field string  `yaml:"field"`
	Op    Op      `yaml:"op"`
	Value float64 `yaml:"value"`
}

// Eval applies the clause. A missing or non-numeric field is false.
func (c Clause) Eval(data detect.Data) bool {
	v, ok := data.Number(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpGt:
		return v > c.Value
	case OpGte:
		return v >= c.Value
	case OpLt:
		return v < c.Value
	case OpLte:
		return v <= c.Value
	}
	return false
}

// Condition is a conjunction of clauses. An empty condition always holds.
type Condition []Clause

// Eval reports whether every clause holds.
func (c Condition) Eval(data detect.Data) bool {
	for _, clause := range c {
		if !clause.Eval(data) {
			return false
		}
	}
	return true
}

// RewardRule maps an event type to a reward.
type RewardRule struct {
	ID        string
	EventType string
	Reward    Reward
	Condition Condition
	Enabled   bool
}

// Validate checks the rule.
func (r *RewardRule) Validate() error {
	if r.EventType == "" {
		return fmt.Errorf("reward rule %q: eventType is required", r.ID)
	}
	if r.Reward.Formula != "" && !r.Reward.Formula.valid() {
		return fmt.Errorf("reward rule %q: unknown formula %q", r.ID, r.Reward.Formula)
	}
	for _, c := range r.Condition {
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("reward rule %q: unknown condition op %q", r.ID, c.Op)
		}
		if c.Field == "" {
			return fmt.Errorf("reward rule %q: condition field is required", r.ID)
		}
	}
	return nil
}

// Applies reports whether the rule fires for ev.
func (r *RewardRule) Applies(ev detect.Event) bool {
	if !r.Enabled || r.EventType != ev.Type {
		return false
	}
	if len(r.Condition) == 0 {
		return true
	}
	return r.Condition.Eval(ev.Data)
}
