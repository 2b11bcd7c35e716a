package controller

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andywolf/gamepilot/internal/action"
	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/events"
	"github.com/andywolf/gamepilot/internal/feedback"
	"github.com/andywolf/gamepilot/internal/goal"
	"github.com/andywolf/gamepilot/internal/model"
	"github.com/andywolf/gamepilot/internal/notes"
	"github.com/andywolf/gamepilot/internal/prompt"
)

const testProfile = `
name: Tetris
titlePattern: tetris
detectors:
  - id: dies
    kind: text
    cooldownMs: 5000
    pattern: GAME OVER
rewardRules:
  - eventType: dies
    reward: -100
`

type fakeDevice struct {
	mu         sync.Mutex
	running    bool
	title      string
	frame      image.Image
	captureErr error
	calls      []string
}

func (d *fakeDevice) CaptureFrame(context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.frame, nil
}

func (d *fakeDevice) IsRunning(context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDevice) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, nil
}

func (d *fakeDevice) PressButton(_ context.Context, b action.Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "press:"+string(b))
	return nil
}

func (d *fakeDevice) ReleaseButton(_ context.Context, b action.Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "release:"+string(b))
	return nil
}

func (d *fakeDevice) setRunning(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = v
}

func (d *fakeDevice) inputCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	noCreds  bool
	block    chan struct{}
	started  chan struct{}
	requests []model.Request
}

func (m *fakeModel) HasCredentials() bool { return !m.noCreds }

func (m *fakeModel) Complete(_ context.Context, req model.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block, started := m.block, m.started
	reply, err := m.reply, m.err
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return reply, err
}

func (m *fakeModel) calls() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

type fakeText struct{ text string }

func (f *fakeText) RecognizeText(context.Context, image.Image, image.Rectangle) (string, error) {
	return f.text, nil
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type memSink struct {
	mu      sync.Mutex
	records []events.Record
	closed  bool
}

func (s *memSink) WriteOne(r events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) all() []events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Record(nil), s.records...)
}

type fakeNotes struct {
	mu      sync.Mutex
	added   []notes.Note
	summary string
	err     error
	queries []string
}

func (n *fakeNotes) Add(_ context.Context, _ string, ns []notes.Note, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, ns...)
	return nil
}

func (n *fakeNotes) Summarize(_ context.Context, _, query string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queries = append(n.queries, query)
	return n.summary, n.err
}

func (n *fakeNotes) Close() error { return nil }

type instantClock struct{}

func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	c      *Controller
	dev    *fakeDevice
	mdl    *fakeModel
	text   *fakeText
	ticker *fakeTicker
	sink   *memSink
	notes  *fakeNotes

	mu       sync.Mutex
	statuses []Snapshot
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		dev:    &fakeDevice{running: true, title: "TETRIS", frame: image.NewRGBA(image.Rect(0, 0, 160, 144))},
		mdl:    &fakeModel{reply: "I see a wall ahead.\nUP"},
		text:   &fakeText{},
		ticker: &fakeTicker{ch: make(chan time.Time)},
		sink:   &memSink{},
		notes:  &fakeNotes{},
	}

	quiet := log.New(io.Discard, "", 0)
	engine := feedback.NewEngine(detect.NewSet(detect.Capabilities{Text: h.text}, detect.WithLogger(quiet)), feedback.WithLogger(quiet))
	p, err := feedback.Decode([]byte(testProfile), "")
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if err := engine.LoadProfile(p); err != nil {
		t.Fatalf("LoadProfile() error: %v", err)
	}
	engine.ResetEpisode("TETRIS")

	lib, err := prompt.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary() error: %v", err)
	}

	c, err := New(cfg, Deps{
		Device:   h.dev,
		Model:    h.mdl,
		Feedback: engine,
		Prompts:  lib,
		Goals:    goal.NewStore(),
		Notes:    h.notes,
		Sink:     h.sink,
	},
		WithLogger(quiet),
		WithTicker(func(time.Duration) Ticker { return h.ticker }),
		WithExecutor(action.NewExecutor(action.WithClock(instantClock{}))),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c.OnStatus(func(s Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, s)
	})
	h.c = c
	return h
}

func (h *harness) statusCount(st Status) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.statuses {
		if s.Status == st {
			n++
		}
	}
	return n
}

// lastTwo returns the last two reported statuses joined by a comma.
func (h *harness) lastTwo() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) < 2 {
		return ""
	}
	n := len(h.statuses)
	return string(h.statuses[n-2].Status) + "," + string(h.statuses[n-1].Status)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("New() with no device should fail")
	}
}

func TestEnable_PreflightFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
	}{
		{"no model", func(h *harness) { h.c.model = nil }, ErrNoCredentials},
		{"no credentials", func(h *harness) { h.mdl.noCreds = true }, ErrNoCredentials},
		{"device stopped", func(h *harness) { h.dev.running = false }, ErrDeviceNotRunning},
		{"no profile", func(h *harness) { h.dev.title = "POKEMON RED" }, ErrNoProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			tt.setup(h)

			err := h.c.Enable(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Enable() error = %v, want %v", err, tt.wantErr)
			}
			if h.c.Armed() {
				t.Error("controller armed after failed Enable")
			}
			if got := h.statusCount(StatusError); got != 1 {
				t.Errorf("Error reported %d times, want 1", got)
			}
			if st := h.c.Status(); st.Status != StatusError || st.LastError == "" {
				t.Errorf("Status() = %+v, want Error with cause", st)
			}
			if len(h.mdl.calls()) != 0 {
				t.Error("model called after failed Enable")
			}
		})
	}
}

func TestEnable_AllowUnprofiled(t *testing.T) {
	h := newHarness(t, Config{AllowUnprofiled: true})
	h.dev.title = "POKEMON RED"

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Disable()
	h.c.Wait()

	recs := h.sink.all()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if want := `No feedback profile matches "POKEMON RED"`; len(recs[0].Feedback) != 1 || recs[0].Feedback[0] != want {
		t.Errorf("Feedback = %q, want [%q]", recs[0].Feedback, want)
	}
}

func TestEnable_RunsImmediateCycle(t *testing.T) {
	h := newHarness(t, Config{SessionID: "sess-1"})

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Wait()

	st := h.c.Status()
	if st.Status != StatusActive || st.LastAction != "up" || st.LastRationale != "I see a wall ahead." {
		t.Errorf("Status() = %+v", st)
	}
	if calls := h.dev.inputCalls(); strings.Join(calls, ",") != "press:up,release:up" {
		t.Errorf("device calls = %v", calls)
	}
	hist := h.c.History()
	if len(hist) != 1 || hist[0].Action != "up" {
		t.Errorf("History() = %+v", hist)
	}
	recs := h.sink.all()
	if len(recs) != 1 || recs[0].Status != events.StatusOK || recs[0].Cycle != 1 || recs[0].SessionID != "sess-1" {
		t.Errorf("records = %+v", recs)
	}

	h.c.Disable()
	if !h.ticker.isStopped() {
		t.Error("ticker not stopped by Disable")
	}
}

func TestCycle_GameOverFeedback(t *testing.T) {
	h := newHarness(t, Config{})
	h.text.text = "GAME OVER"

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Disable()
	h.c.Wait()

	recs := h.sink.all()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Reward != -100 || rec.EpisodeTotal != -100 {
		t.Errorf("reward/total = %v/%v, want -100/-100", rec.Reward, rec.EpisodeTotal)
	}
	if len(rec.Events) != 1 || rec.Events[0].Type != "dies" {
		t.Errorf("Events = %+v", rec.Events)
	}

	reqs := h.mdl.calls()
	if len(reqs) != 1 {
		t.Fatalf("model calls = %d, want 1", len(reqs))
	}
	if !strings.HasPrefix(reqs[0].User, "RECENT FEEDBACK:\ndies, Reward: -100.00") {
		t.Errorf("prompt does not lead with feedback:\n%s", reqs[0].User)
	}
	if reqs[0].Image == nil || reqs[0].Kind != model.KindCycle {
		t.Errorf("request image/kind = %v/%q", reqs[0].Image != nil, reqs[0].Kind)
	}
}

func TestCycle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr string
	}{
		{"capture failure", func(h *harness) { h.dev.captureErr = errors.New("emulator paused") }, "capture failed: emulator paused"},
		{"nil frame", func(h *harness) { h.dev.frame = nil }, "capture failed: no frame available"},
		{"model failure verbatim", func(h *harness) {
			h.mdl.err = &model.APIError{StatusCode: 429, Body: "rate limit exceeded"}
		}, "model endpoint returned status 429: rate limit exceeded"},
		{"bogus structured action", func(h *harness) { h.mdl.reply = `{"action": "bogus"}` }, "could not parse model reply"},
		{"no keyword", func(h *harness) { h.mdl.reply = "thinking\nhmm" }, "could not parse model reply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			tt.setup(h)

			h.c.runCycle(context.Background())

			st := h.c.Status()
			if st.Status != StatusError {
				t.Fatalf("Status = %q, want Error", st.Status)
			}
			if !strings.Contains(st.LastError, tt.wantErr) {
				t.Errorf("LastError = %q, want substring %q", st.LastError, tt.wantErr)
			}
			if calls := h.dev.inputCalls(); len(calls) != 0 {
				t.Errorf("device touched on failed cycle: %v", calls)
			}
			if len(h.c.History()) != 0 {
				t.Error("failed cycle appended to history")
			}
			recs := h.sink.all()
			if len(recs) != 1 || recs[0].Status != events.StatusError || recs[0].Error == "" {
				t.Errorf("records = %+v", recs)
			}
		})
	}
}

func TestCycle_NoneAction(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.reply = "Waiting for the piece to drop.\nNONE"

	h.c.runCycle(context.Background())

	if st := h.c.Status(); st.Status != StatusActive || st.LastAction != "none" {
		t.Errorf("Status() = %+v", st)
	}
	if calls := h.dev.inputCalls(); len(calls) != 0 {
		t.Errorf("none touched the device: %v", calls)
	}
}

func TestCycle_HistoryBounded(t *testing.T) {
	h := newHarness(t, Config{HistorySize: 3})

	replies := []string{"go\nUP", "go\nDOWN", "go\nLEFT", "go\nRIGHT", "go\nA"}
	for _, r := range replies {
		h.mdl.mu.Lock()
		h.mdl.reply = r
		h.mdl.mu.Unlock()
		h.c.runCycle(context.Background())
	}

	hist := h.c.History()
	var got []string
	for _, r := range hist {
		got = append(got, r.Action)
	}
	if strings.Join(got, ",") != "left,right,a" {
		t.Errorf("History() = %v, want [left right a]", got)
	}

	reqs := h.mdl.calls()
	last := reqs[len(reqs)-1].User
	if !strings.Contains(last, "Recent Actions:\n1. Action: down, Reasoning: go\n2. Action: left, Reasoning: go\n3. Action: right, Reasoning: go") {
		t.Errorf("last prompt missing recent actions:\n%s", last)
	}
}

func TestCycle_GoalAndNotes(t *testing.T) {
	h := newHarness(t, Config{GameContext: "Falling blocks."})
	g, err := h.c.Goals().Create(goal.KindUser, "Clear four lines", "")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := h.c.SetGoal(g.ID); err != nil {
		t.Fatalf("SetGoal() error: %v", err)
	}
	h.notes.summary = "Hazards:\n- stack near top"
	h.mdl.reply = `{"action": "LEFT", "reasoning": "gap on the left", "goalProgress": "one line cleared"}`

	h.c.runCycle(context.Background())

	if st := h.c.Status(); st.Status != StatusActive || st.LastAction != "left" {
		t.Fatalf("Status() = %+v", st)
	}
	user := h.mdl.calls()[0].User
	for _, want := range []string{"Current Goal: Clear four lines", "Game Context:\nFalling blocks.", "Relevant Knowledge:\nHazards:"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
	if len(h.notes.queries) != 1 || h.notes.queries[0] != "Clear four lines" {
		t.Errorf("summarize queries = %v", h.notes.queries)
	}
	if len(h.notes.added) != 1 || h.notes.added[0].Kind != notes.Progress || h.notes.added[0].Content != "one line cleared" {
		t.Errorf("notes added = %+v", h.notes.added)
	}
}

func TestCycle_NotesSummarizeFailureOmitsSection(t *testing.T) {
	h := newHarness(t, Config{})
	h.notes.err = errors.New("redis down")

	h.c.runCycle(context.Background())

	if st := h.c.Status(); st.Status != StatusActive {
		t.Fatalf("Status = %q, want Active", st.Status)
	}
	if user := h.mdl.calls()[0].User; strings.Contains(user, "Relevant Knowledge") {
		t.Errorf("knowledge section present after failure:\n%s", user)
	}
}

func TestDispatch_DropsOverlappingTicks(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.block = make(chan struct{})
	h.mdl.started = make(chan struct{}, 8)

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	<-h.mdl.started

	for i := 0; i < 3; i++ {
		h.ticker.ch <- time.Now()
	}
	// the loop handles a tick before receiving the next one
	h.c.mu.Lock()
	gen := h.c.gen
	h.c.mu.Unlock()
	h.c.dispatch(context.Background(), gen)

	if got := len(h.mdl.calls()); got != 1 {
		t.Errorf("model calls while blocked = %d, want 1", got)
	}

	h.c.Disable()
	close(h.mdl.block)
	h.c.Wait()

	if got := len(h.mdl.calls()); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
	if got := len(h.sink.all()); got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
}

func TestDisable_MidCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.block = make(chan struct{})
	h.mdl.started = make(chan struct{}, 8)

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	<-h.mdl.started

	h.c.mu.Lock()
	gen := h.c.gen
	h.c.mu.Unlock()

	h.c.Disable()
	if !h.ticker.isStopped() {
		t.Fatal("ticker still running after Disable")
	}
	close(h.mdl.block)
	h.c.Wait()

	if st := h.c.Status(); st.Status != StatusInactive || st.LastAction != "up" {
		t.Errorf("Status() after in-flight cycle = %+v, want Inactive with last action up", st)
	}
	if got := h.lastTwo(); got != "Active,Inactive" {
		t.Errorf("final statuses = %s, want cycle result then Inactive", got)
	}

	h.c.dispatch(context.Background(), gen)
	h.c.Wait()

	if got := len(h.mdl.calls()); got != 1 {
		t.Errorf("model calls after Disable = %d, want 1", got)
	}
	if got := len(h.sink.all()); got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
}

func TestTick_DeviceStopped(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.block = make(chan struct{})
	h.mdl.started = make(chan struct{}, 8)

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	<-h.mdl.started
	close(h.mdl.block)
	h.c.Wait()

	h.dev.setRunning(false)
	h.ticker.ch <- time.Now()
	waitFor(t, "controller idle", func() bool { return !h.c.Armed() })
	h.c.Wait()

	if st := h.c.Status(); st.Status != StatusInactive {
		t.Errorf("Status = %q, want Inactive", st.Status)
	}
	if got := len(h.mdl.calls()); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
}

func TestEnable_ContextDone(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	if err := h.c.Enable(ctx); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Wait()
	cancel()

	waitFor(t, "controller idle", func() bool { return !h.c.Armed() })
	waitFor(t, "Inactive status", func() bool { return h.c.Status().Status == StatusInactive })
}

func TestDisable_ReportsInactive(t *testing.T) {
	h := newHarness(t, Config{})

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Wait()
	if st := h.c.Status(); st.Status != StatusActive {
		t.Fatalf("Status after cycle = %q, want Active", st.Status)
	}

	h.c.Disable()
	if st := h.c.Status(); st.Status != StatusInactive || st.LastAction != "up" {
		t.Errorf("Status() after Disable = %+v, want Inactive keeping last action", st)
	}

	before := h.statusCount(StatusInactive)
	h.c.Disable()
	if got := h.statusCount(StatusInactive); got != before {
		t.Errorf("second Disable reported Inactive again (%d -> %d)", before, got)
	}
}

func TestEnable_AgainWhileOldCycleInFlight(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.block = make(chan struct{})
	h.mdl.started = make(chan struct{}, 8)

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	<-h.mdl.started
	h.c.Disable()

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("second Enable() error: %v", err)
	}
	close(h.mdl.block)
	h.c.Wait()

	if got := len(h.mdl.calls()); got != 2 {
		t.Errorf("model calls = %d, want 2 (the re-armed immediate cycle must run)", got)
	}
	if got := len(h.sink.all()); got != 2 {
		t.Errorf("records = %d, want 2", got)
	}
	if st := h.c.Status(); st.Status != StatusActive || st.Cycle != 2 {
		t.Errorf("Status() = %+v, want Active after cycle 2", st)
	}
	h.c.Disable()
}

func TestAsk(t *testing.T) {
	h := newHarness(t, Config{})
	h.mdl.reply = "  The next piece is an I block.  "

	reply, err := h.c.Ask(context.Background(), "What is the next piece?")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if reply != "The next piece is an I block." {
		t.Errorf("Ask() = %q", reply)
	}
	if st := h.c.Status(); st.LastRationale != reply || st.Status != StatusInactive {
		t.Errorf("Status() = %+v", st)
	}
	if calls := h.dev.inputCalls(); len(calls) != 0 {
		t.Errorf("Ask touched the device: %v", calls)
	}

	reqs := h.mdl.calls()
	if len(reqs) != 1 || reqs[0].Kind != model.KindAsk || reqs[0].User != "What is the next piece?" {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].System != h.c.Prompts().Active().Body {
		t.Error("Ask did not send the active system prompt")
	}
	if recs := h.sink.all(); len(recs) != 1 || recs[0].Status != events.StatusAsk {
		t.Errorf("records = %+v", recs)
	}
}

func TestAsk_Errors(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		h := newHarness(t, Config{})
		if _, err := h.c.Ask(context.Background(), "  "); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("model failure", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.mdl.err = errors.New("connection refused")
		_, err := h.c.Ask(context.Background(), "hello")
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Fatalf("Ask() error = %v", err)
		}
	})
}

func TestResetEpisode(t *testing.T) {
	h := newHarness(t, Config{})
	h.text.text = "GAME OVER"
	h.c.runCycle(context.Background())
	if st := h.c.Status(); st.EpisodeTotal != -100 {
		t.Fatalf("EpisodeTotal = %v, want -100", st.EpisodeTotal)
	}

	h.c.ResetEpisode(context.Background(), "")
	if st := h.c.Status(); st.EpisodeTotal != 0 || st.Title != "TETRIS" {
		t.Errorf("after reset = %+v", st)
	}

	h.text.text = ""
	h.c.runCycle(context.Background())
	recs := h.sink.all()
	if last := recs[len(recs)-1]; last.EpisodeTotal != 0 {
		t.Errorf("EpisodeTotal after reset = %v, want 0", last.EpisodeTotal)
	}
}

func TestAdministrativeCalls(t *testing.T) {
	h := newHarness(t, Config{})

	if err := h.c.SetSystemPrompt("builtin:explorer"); err != nil {
		t.Fatalf("SetSystemPrompt() error: %v", err)
	}
	if h.c.Prompts().Active().ID != "builtin:explorer" {
		t.Error("active prompt not switched")
	}
	if err := h.c.SetSystemPrompt("missing"); err == nil {
		t.Error("SetSystemPrompt(missing) should fail")
	}
	if err := h.c.SetGoal("missing"); !errors.Is(err, goal.ErrNotFound) {
		t.Errorf("SetGoal(missing) = %v, want ErrNotFound", err)
	}

	p, err := feedback.Decode([]byte("name: Zelda\ntitlePattern: zelda\n"), "")
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if err := h.c.LoadProfile(p); err != nil {
		t.Fatalf("LoadProfile() error: %v", err)
	}

	h.c.InjectEvent(detect.Event{Type: "dies"})
	h.c.runCycle(context.Background())
	recs := h.sink.all()
	if len(recs) != 1 || recs[0].Reward != -100 {
		t.Errorf("injected event not rewarded: %+v", recs)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, Config{})
	hooks := 0
	h.c.AddShutdownHook(func(context.Context) error {
		hooks++
		return nil
	})

	if err := h.c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	h.c.Close(context.Background())
	h.c.Close(context.Background())

	if hooks != 1 {
		t.Errorf("hooks ran %d times, want 1", hooks)
	}
	if h.c.Armed() {
		t.Error("armed after Close")
	}
	if !h.sink.closed {
		t.Error("sink not closed")
	}
	if got := len(h.sink.all()); got != 1 {
		t.Errorf("in-flight cycle lost: %d records", got)
	}
}

func TestPromptVariables(t *testing.T) {
	h := newHarness(t, Config{SessionID: "gamepilot-test", PromptVariables: map[string]string{"player": "p1"}})
	p, err := h.c.Prompts().Add("Templated", "", "Play {{title}} as {{player}} in {{session_id}}.")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := h.c.SetSystemPrompt(p.ID); err != nil {
		t.Fatalf("SetSystemPrompt() error: %v", err)
	}

	h.c.runCycle(context.Background())
	if _, err := h.c.Ask(context.Background(), "status?"); err != nil {
		t.Fatalf("Ask() error: %v", err)
	}

	reqs := h.mdl.calls()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	want := "Play TETRIS as p1 in gamepilot-test."
	if !strings.Contains(reqs[0].User, want) {
		t.Errorf("cycle prompt missing %q:\n%s", want, reqs[0].User)
	}
	if reqs[1].System != want {
		t.Errorf("ask system = %q, want %q", reqs[1].System, want)
	}
}
