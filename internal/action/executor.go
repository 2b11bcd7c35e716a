package action

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Input is the device-input half of the emulation engine.
type Input interface {
	PressButton(ctx context.Context, b Button) error
	ReleaseButton(ctx context.Context, b Button) error
}

// Clock provides the only delay the executor uses, so tests can fast-forward.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on a timer and returns early when ctx is done.
type RealClock struct{}

// Sleep blocks for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State is the position of a button in the press state machine:
// released -> pressed -> releaseScheduled -> released, or pressed -> held.
type State string

const (
	StateReleased         State = "released"
	StatePressed          State = "pressed"
	StateReleaseScheduled State = "releaseScheduled"
	StateHeld             State = "held"
)

// Transition records one state change of one button.
type Transition struct {
	Button Button
	From   State
	To     State
}

// Executor drives device input from parsed actions. Steps run strictly in
// order; a press blocks until its release has been issued.
type Executor struct {
	clock        Clock
	onTransition func(Transition)

	mu     sync.Mutex
	states map[Button]State
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithTransitionHook registers a callback invoked on every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Executor) {
		e.onTransition = fn
	}
}

// NewExecutor creates an executor using the real clock unless overridden.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		clock:  RealClock{},
		states: make(map[Button]State),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state of a button.
func (e *Executor) State(b Button) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[b]; ok {
		return s
	}
	return StateReleased
}

func (e *Executor) setState(b Button, to State) {
	e.mu.Lock()
	from, ok := e.states[b]
	if !ok {
		from = StateReleased
	}
	e.states[b] = to
	hook := e.onTransition
	e.mu.Unlock()

	if hook != nil && from != to {
		hook(Transition{Button: b, From: from, To: to})
	}
}

// Execute runs every step of a in order against in. The error sentinel
// returns ErrInvalidAction without touching the device; none is a no-op.
func (e *Executor) Execute(ctx context.Context, a ParsedAction, in Input) error {
	if a.IsError() {
		if a.Err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, a.Err)
		}
		return ErrInvalidAction
	}

	for i, step := range a.Steps() {
		if err := e.runStep(ctx, step, in); err != nil {
			return fmt.Errorf("step %d (%s %s): %w", i+1, step.Phase, step.Button, err)
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, step Step, in Input) error {
	if step.Button == ButtonNone {
		return nil
	}
	if !step.Button.IsDevice() {
		return fmt.Errorf("%w: button %q", ErrInvalidAction, step.Button)
	}

	switch step.Phase {
	case PhasePress, "":
		return e.press(ctx, step, in)

	case PhaseHold:
		if err := in.PressButton(ctx, step.Button); err != nil {
			return fmt.Errorf("press: %w", err)
		}
		e.setState(step.Button, StateHeld)
		return e.clock.Sleep(ctx, step.Duration())

	case PhaseRelease:
		if err := in.ReleaseButton(ctx, step.Button); err != nil {
			return fmt.Errorf("release: %w", err)
		}
		e.setState(step.Button, StateReleased)
		return nil

	default:
		return fmt.Errorf("unknown phase %q", step.Phase)
	}
}

// press holds the button for the step duration and then releases it. The
// release is issued even when ctx is cancelled mid-wait so no button is left
// down.
func (e *Executor) press(ctx context.Context, step Step, in Input) error {
	if err := in.PressButton(ctx, step.Button); err != nil {
		return fmt.Errorf("press: %w", err)
	}
	e.setState(step.Button, StatePressed)
	e.setState(step.Button, StateReleaseScheduled)

	sleepErr := e.clock.Sleep(ctx, step.Duration())

	if err := in.ReleaseButton(context.WithoutCancel(ctx), step.Button); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	e.setState(step.Button, StateReleased)
	return sleepErr
}
