package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/gamepilot/internal/action"
	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/device"
	"github.com/andywolf/gamepilot/internal/events"
	"github.com/andywolf/gamepilot/internal/feedback"
	"github.com/andywolf/gamepilot/internal/goal"
	"github.com/andywolf/gamepilot/internal/metrics"
	"github.com/andywolf/gamepilot/internal/model"
	"github.com/andywolf/gamepilot/internal/notes"
	"github.com/andywolf/gamepilot/internal/prompt"
	"github.com/google/uuid"
)

// loop turns ticks into cycle dispatches until stop is closed or ctx ends.
func (c *Controller) loop(ctx context.Context, gen uint64, ticker Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			if c.disarmGen(gen) {
				c.logInfo("Context done, controller idle")
				c.reportIdle(context.WithoutCancel(ctx))
			}
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			c.dispatch(ctx, gen)
		}
	}
}

// disarmGen disarms only if the arming identified by gen is still current.
func (c *Controller) disarmGen(gen uint64) bool {
	c.mu.Lock()
	current := c.armed && c.gen == gen
	c.mu.Unlock()
	if !current {
		return false
	}
	return c.disarm()
}

type pendingCycle struct {
	ctx context.Context
	gen uint64
}

// dispatch starts a cycle for the arming gen and reports whether it did.
// A tick that finds a cycle of the same arming in flight is dropped.
func (c *Controller) dispatch(ctx context.Context, gen uint64) bool {
	if !c.inFlight.CompareAndSwap(false, true) && !c.deferDispatch(ctx, gen) {
		return false
	}

	c.mu.Lock()
	if !c.armed || c.gen != gen {
		c.mu.Unlock()
		c.inFlight.Store(false)
		return false
	}
	c.running = true
	c.runGen = gen
	c.cycles.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.cycles.Done()
		c.tick(ctx, gen)
		c.settle(ctx)
	}()
	return true
}

// deferDispatch handles a dispatch that found a cycle in flight. It reports
// true when that cycle settled in the meantime and the slot is now taken by
// the caller. A cycle from an older arming defers the caller's cycle until
// it settles.
func (c *Controller) deferDispatch(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight.CompareAndSwap(false, true) {
		return true
	}
	if c.armed && c.gen == gen && c.runGen != gen {
		c.pending = &pendingCycle{ctx: ctx, gen: gen}
		c.logger.Printf("Cycle from a previous arming still in flight, deferring first cycle")
		return false
	}
	metrics.CyclesDropped.Inc()
	c.logger.Printf("Cycle still in flight, dropping tick")
	return false
}

// settle releases the cycle slot, then starts a deferred cycle or reports
// Inactive if the controller was disarmed while the cycle ran.
func (c *Controller) settle(ctx context.Context) {
	c.mu.Lock()
	c.running = false
	next := c.pending
	c.pending = nil
	c.inFlight.Store(false)
	c.mu.Unlock()

	if next != nil && c.dispatch(next.ctx, next.gen) {
		return
	}
	c.reportIdle(context.WithoutCancel(ctx))
}

func (c *Controller) tick(ctx context.Context, gen uint64) {
	if !c.device.IsRunning(ctx) {
		if c.disarmGen(gen) {
			c.logInfo("Device stopped, controller idle")
		}
		return
	}
	c.runCycle(ctx)
}

type cycleOutcome struct {
	title    string
	feedback feedback.Result
	action   action.ParsedAction
	err      error
}

// runCycle performs one capture, poll, decide and act pass.
func (c *Controller) runCycle(ctx context.Context) {
	start := c.now()

	c.mu.Lock()
	c.cycle++
	n := c.cycle
	var prev action.Button
	if len(c.history) > 0 {
		prev, _ = action.ParseButton(c.history[len(c.history)-1].Action)
	}
	c.mu.Unlock()

	if c.cloudLogger != nil {
		c.cloudLogger.SetCycle(int64(n))
	}

	out := c.perform(ctx, n, start, prev)
	c.finish(ctx, n, start, out)
}

func (c *Controller) perform(ctx context.Context, n int, start time.Time, prev action.Button) (out cycleOutcome) {
	frame, err := c.device.CaptureFrame(ctx)
	if err == nil && frame == nil {
		err = device.ErrNoFrame
	}
	if err != nil {
		out.err = fmt.Errorf("capture failed: %w", err)
		return out
	}

	out.title = c.title(ctx)
	out.feedback = c.feedback.Poll(ctx, detect.PollContext{
		Title:          out.title,
		Timestamp:      start,
		PreviousAction: prev,
	}, frame)

	text := c.buildPrompt(ctx, out.title, out.feedback.TextLines)
	reply, err := c.model.Complete(ctx, model.Request{User: text, Image: frame, Kind: model.KindCycle})
	if err != nil {
		out.err = fmt.Errorf("model call failed: %w", err)
		return out
	}

	out.action = prompt.ParseResponse(reply)
	if out.action.IsError() {
		out.err = fmt.Errorf("could not parse model reply: %w", out.action.Err)
		return out
	}

	c.recordNotes(ctx, out.title, n, reply, out.action)

	if err := c.executor.Execute(ctx, out.action, c.device); err != nil {
		out.err = fmt.Errorf("action failed: %w", err)
		return out
	}

	c.remember(prompt.ActionRecord{Action: out.action.Label(), Rationale: out.action.Rationale})
	return out
}

func (c *Controller) buildPrompt(ctx context.Context, title string, lines []string) string {
	active := c.goals.Active()

	var summary string
	if c.notes != nil {
		query := ""
		if active != nil {
			query = active.Description
		}
		s, err := c.notes.Summarize(ctx, title, query)
		if err != nil {
			c.logWarning("failed to summarize notes: %v", err)
		} else {
			summary = s
		}
	}

	return prompt.BuildPrompt(prompt.Inputs{
		SystemPrompt:  c.prompts.Active().Body,
		FeedbackLines: lines,
		Goal:          active,
		GameContext:   c.cfg.GameContext,
		NotesSummary:  summary,
		RecentActions: c.History(),
		Variables:     c.promptVariables(title, active),
	})
}

func (c *Controller) promptVariables(title string, active *goal.Goal) map[string]string {
	vars := map[string]string{
		"title":      title,
		"session_id": c.cfg.SessionID,
		"goal":       "",
	}
	if active != nil {
		vars["goal"] = active.Description
	}
	return prompt.MergeVariables(vars, c.cfg.PromptVariables)
}

// recordNotes stores NOTE lines from the reply and the goal progress note.
func (c *Controller) recordNotes(ctx context.Context, title string, n int, reply string, a action.ParsedAction) {
	if c.notes == nil {
		return
	}
	found := notes.ParseNotes(reply)
	if a.GoalProgress != "" {
		found = append(found, notes.Note{Kind: notes.Progress, Content: a.GoalProgress})
	}
	if len(found) == 0 {
		return
	}
	if err := c.notes.Add(ctx, title, found, n); err != nil {
		c.logWarning("failed to store notes: %v", err)
	}
}

func (c *Controller) finish(ctx context.Context, n int, start time.Time, out cycleOutcome) {
	elapsed := c.now().Sub(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())

	total := out.feedback.EpisodeTotal
	if out.feedback.TextLines == nil && out.feedback.Events == nil {
		total = c.feedback.EpisodeTotal()
	}

	rec := events.Record{
		ID:           uuid.NewString(),
		Timestamp:    start,
		SessionID:    c.cfg.SessionID,
		Cycle:        n,
		Title:        out.title,
		Rationale:    out.action.Rationale,
		Reward:       out.feedback.Reward,
		EpisodeTotal: total,
		Events:       out.feedback.Events,
		Feedback:     out.feedback.TextLines,
		DurationMs:   elapsed.Milliseconds(),
	}

	if out.err != nil {
		rec.Status = events.StatusError
		rec.Error = out.err.Error()
		metrics.CyclesTotal.WithLabelValues(string(events.StatusError)).Inc()
		c.logError("Cycle %d failed: %v", n, out.err)
		c.report(ctx, func(s *Snapshot) {
			s.Status = StatusError
			s.Cycle = n
			s.LastError = out.err.Error()
			s.EpisodeTotal = total
			if out.title != "" {
				s.Title = out.title
			}
		})
		c.writeRecord(rec)
		return
	}

	label := out.action.Label()
	rec.Status = events.StatusOK
	rec.Action = label
	metrics.CyclesTotal.WithLabelValues(string(events.StatusOK)).Inc()
	c.logInfo("Cycle %d: %s, reward %+.2f (episode %+.2f)", n, label, out.feedback.Reward, total)
	c.report(ctx, func(s *Snapshot) {
		s.Status = StatusActive
		s.Cycle = n
		s.Title = out.title
		s.LastAction = label
		s.LastRationale = out.action.Rationale
		s.LastError = ""
		s.EpisodeTotal = total
	})
	c.writeRecord(rec)
}

func (c *Controller) writeRecord(rec events.Record) {
	if c.sink == nil {
		return
	}
	if err := c.sink.WriteOne(rec); err != nil {
		c.logWarning("failed to write cycle record: %v", err)
	}
}

// Ask sends an operator question with the current frame. The reply becomes
// the last rationale; nothing is executed on the device.
func (c *Controller) Ask(ctx context.Context, text string) (string, error) {
	if c.model == nil {
		return "", ErrNoCredentials
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("question is empty")
	}

	frame, err := c.device.CaptureFrame(ctx)
	if err == nil && frame == nil {
		err = device.ErrNoFrame
	}
	if err != nil {
		return "", fmt.Errorf("capture failed: %w", err)
	}

	start := c.now()
	title := c.title(ctx)
	reply, err := c.model.Complete(ctx, model.Request{
		System: prompt.Render(c.prompts.Active().Body, c.promptVariables(title, c.goals.Active())),
		User:   text,
		Image:  frame,
		Kind:   model.KindAsk,
	})
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	reply = strings.TrimSpace(reply)

	metrics.CyclesTotal.WithLabelValues(string(events.StatusAsk)).Inc()
	c.report(ctx, func(s *Snapshot) {
		s.LastRationale = reply
	})
	c.writeRecord(events.Record{
		ID:           uuid.NewString(),
		Timestamp:    start,
		SessionID:    c.cfg.SessionID,
		Title:        title,
		Status:       events.StatusAsk,
		Rationale:    reply,
		EpisodeTotal: c.feedback.EpisodeTotal(),
		DurationMs:   c.now().Sub(start).Milliseconds(),
	})
	return reply, nil
}
