// Package controller runs the closed perception, feedback and action loop:
// on a fixed interval it captures a frame, polls the feedback engine, asks
// the model for a decision and executes it on the device.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andywolf/gamepilot/internal/action"
	"github.com/andywolf/gamepilot/internal/cloud/gcp"
	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/device"
	"github.com/andywolf/gamepilot/internal/events"
	"github.com/andywolf/gamepilot/internal/feedback"
	"github.com/andywolf/gamepilot/internal/goal"
	"github.com/andywolf/gamepilot/internal/metrics"
	"github.com/andywolf/gamepilot/internal/model"
	"github.com/andywolf/gamepilot/internal/notes"
	"github.com/andywolf/gamepilot/internal/prompt"
)

// Errors reported by Enable. None of them arms the controller.
var (
	ErrNoCredentials    = errors.New("model credentials are not configured")
	ErrNoProfile        = errors.New("no feedback profile matches the running title")
	ErrDeviceNotRunning = errors.New("device is not running")
)

const (
	DefaultCaptureInterval = 3 * time.Second
	DefaultHistorySize     = 10
)

// Config holds the loop settings.
type Config struct {
	CaptureInterval time.Duration
	HistorySize     int
	AllowUnprofiled bool
	SessionID       string
	// Title overrides the title reported by the device.
	Title       string
	GameContext string
	// PromptVariables fill {{name}} placeholders in the system prompt and
	// override the per-cycle title, goal and session_id.
	PromptVariables map[string]string
}

// Deps are the collaborators a controller drives. Notes and Sink are optional.
type Deps struct {
	Device   device.Device
	Model    model.Client
	Feedback *feedback.Engine
	Prompts  *prompt.Library
	Goals    *goal.Store
	Notes    notes.Store
	Sink     events.Sink
}

// Ticker delivers interval ticks. It is satisfied by a wrapped *time.Ticker
// and by fakes in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// credentialed is implemented by model clients that can tell whether they
// hold credentials.
type credentialed interface {
	HasCredentials() bool
}

// ShutdownHook is run by Close.
type ShutdownHook func(ctx context.Context) error

// Controller owns the timer, the re-entrancy guard and the recent action
// history for one emulated session.
type Controller struct {
	cfg      Config
	device   device.Device
	model    model.Client
	feedback *feedback.Engine
	prompts  *prompt.Library
	goals    *goal.Store
	notes    notes.Store
	sink     events.Sink
	executor *action.Executor

	logger      *log.Logger
	cloudLogger gcp.LoggerInterface
	publisher   gcp.StatusPublisher
	newTicker   func(time.Duration) Ticker
	now         func() time.Time

	mu        sync.Mutex
	armed     bool
	gen       uint64
	ticker    Ticker
	stop      chan struct{}
	cycle     int
	history   []prompt.ActionRecord
	snapshot  Snapshot
	listeners []func(Snapshot)

	// running is set while a dispatched cycle executes; runGen is the
	// arming it belongs to. pending holds the first cycle of a newer arming
	// that found an older cycle still in flight.
	running bool
	runGen  uint64
	pending *pendingCycle

	inFlight atomic.Bool
	cycles   sync.WaitGroup

	shutdownHooks []ShutdownHook
	shutdownOnce  sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger replaces the local logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithCloudLogger mirrors log lines to a structured logger.
func WithCloudLogger(l gcp.LoggerInterface) Option {
	return func(c *Controller) {
		c.cloudLogger = l
	}
}

// WithStatusPublisher publishes every status change.
func WithStatusPublisher(p gcp.StatusPublisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithTicker replaces the interval ticker factory.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(c *Controller) {
		c.newTicker = fn
	}
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithExecutor replaces the action executor.
func WithExecutor(e *action.Executor) Option {
	return func(c *Controller) {
		c.executor = e
	}
}

// New creates an idle controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if deps.Feedback == nil {
		return nil, fmt.Errorf("feedback engine is required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("prompt library is required")
	}
	if deps.Goals == nil {
		deps.Goals = goal.NewStore()
	}
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = DefaultCaptureInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	c := &Controller{
		cfg:       cfg,
		device:    deps.Device,
		model:     deps.Model,
		feedback:  deps.Feedback,
		prompts:   deps.Prompts,
		goals:     deps.Goals,
		notes:     deps.Notes,
		sink:      deps.Sink,
		logger:    log.New(os.Stdout, "[controller] ", log.LstdFlags),
		newTicker: newTimeTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = action.NewExecutor(action.WithTransitionHook(countPresses))
	}
	c.snapshot = Snapshot{Status: StatusInactive, SessionID: cfg.SessionID}

	return c, nil
}

func countPresses(t action.Transition) {
	if t.To == action.StatePressed {
		metrics.ButtonPresses.WithLabelValues(string(t.Button)).Inc()
	}
}

// Enable checks credentials, the device and the feedback profile, then arms
// the loop: one cycle runs immediately and then one per capture interval.
// A failed check reports Error once and leaves the controller idle. ctx
// bounds the lifetime of every cycle started by this arming.
func (c *Controller) Enable(ctx context.Context) error {
	c.mu.Lock()
	if c.armed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	title, err := c.preflight(ctx)
	if err != nil {
		c.logError("Cannot enable controller: %v", err)
		c.report(ctx, func(s *Snapshot) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		return err
	}

	c.mu.Lock()
	if c.armed {
		c.mu.Unlock()
		return nil
	}
	c.armed = true
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.stop = stop
	ticker := c.newTicker(c.cfg.CaptureInterval)
	c.ticker = ticker
	c.mu.Unlock()

	c.logInfo("Controller armed for %q (interval %s)", title, c.cfg.CaptureInterval)
	c.report(ctx, func(s *Snapshot) {
		s.Status = StatusActive
		s.Title = title
		s.LastError = ""
	})

	c.dispatch(ctx, gen)
	go c.loop(ctx, gen, ticker, stop)
	return nil
}

// Disable stops the ticker before returning. A cycle already in flight
// finishes and reports its result; no new cycle starts.
func (c *Controller) Disable() {
	if c.disarm() {
		c.logInfo("Controller disabled")
		c.reportIdle(context.Background())
	}
}

// reportIdle reports Inactive when the controller is unarmed and no cycle
// is executing. Otherwise the executing cycle reports it when it settles.
func (c *Controller) reportIdle(ctx context.Context) {
	c.mu.Lock()
	idle := !c.armed && !c.running
	c.mu.Unlock()
	if !idle {
		return
	}
	c.report(ctx, func(s *Snapshot) {
		s.Status = StatusInactive
	})
}

// disarm stops the timer. It reports whether the controller was armed.
func (c *Controller) disarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return false
	}
	c.armed = false
	c.ticker.Stop()
	close(c.stop)
	c.ticker = nil
	c.stop = nil
	return true
}

// Armed reports whether the loop is scheduled.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Wait blocks until in-flight cycles have finished.
func (c *Controller) Wait() {
	c.cycles.Wait()
}

func (c *Controller) preflight(ctx context.Context) (string, error) {
	if c.model == nil {
		return "", ErrNoCredentials
	}
	if cc, ok := c.model.(credentialed); ok && !cc.HasCredentials() {
		return "", ErrNoCredentials
	}
	if !c.device.IsRunning(ctx) {
		return "", ErrDeviceNotRunning
	}

	title := c.title(ctx)
	active := c.feedback.Active()
	if active == nil || !active.Matches(title) {
		c.feedback.ResetEpisode(title)
	}
	if c.feedback.Active() == nil && !c.cfg.AllowUnprofiled {
		if title == "" {
			return "", fmt.Errorf("%w: device reported no title", ErrNoProfile)
		}
		return "", fmt.Errorf("%w: %q", ErrNoProfile, title)
	}
	return title, nil
}

// title returns the configured override or the device title.
func (c *Controller) title(ctx context.Context) string {
	if c.cfg.Title != "" {
		return c.cfg.Title
	}
	t, ok := c.device.(device.Titled)
	if !ok {
		return ""
	}
	title, err := t.Title(ctx)
	if err != nil {
		c.logWarning("failed to read title: %v", err)
		return ""
	}
	return title
}

// ResetEpisode zeroes the episode reward and cooldowns. An empty title
// re-resolves against the current device title.
func (c *Controller) ResetEpisode(ctx context.Context, title string) {
	if title == "" {
		title = c.title(ctx)
	}
	c.feedback.ResetEpisode(title)
	c.logInfo("Episode reset for %q", title)
	c.report(ctx, func(s *Snapshot) {
		s.Title = title
		s.EpisodeTotal = 0
	})
}

// LoadProfile upserts a feedback profile.
func (c *Controller) LoadProfile(p *feedback.Profile) error {
	if err := c.feedback.LoadProfile(p); err != nil {
		return err
	}
	c.logInfo("Loaded feedback profile %s", p.DisplayName())
	return nil
}

// SetGoal makes the goal with id active.
func (c *Controller) SetGoal(id string) error {
	if err := c.goals.SetActive(id); err != nil {
		return err
	}
	c.logInfo("Active goal set to %s", id)
	return nil
}

// SetSystemPrompt makes the prompt with id active.
func (c *Controller) SetSystemPrompt(id string) error {
	if err := c.prompts.SetActive(id); err != nil {
		return err
	}
	c.logInfo("Active system prompt set to %s", id)
	return nil
}

// InjectEvent queues a manual event for the next poll.
func (c *Controller) InjectEvent(ev detect.Event) {
	c.feedback.Inject(ev)
}

// Goals exposes the goal store.
func (c *Controller) Goals() *goal.Store {
	return c.goals
}

// Prompts exposes the system prompt library.
func (c *Controller) Prompts() *prompt.Library {
	return c.prompts
}

// History returns the recent actions, oldest first.
func (c *Controller) History() []prompt.ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]prompt.ActionRecord, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) remember(rec prompt.ActionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, rec)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}
