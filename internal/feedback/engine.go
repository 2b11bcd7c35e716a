package feedback

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/metrics"
)

// Result is the outcome of one poll.
type Result struct {
	TextLines    []string       `json:"text_lines"`
	Reward       float64        `json:"reward"`
	Events       []detect.Event `json:"events,omitempty"`
	EpisodeTotal float64        `json:"episode_total"`
}

// Engine holds the loaded profiles and the episode state for one
// controller. Engines are never shared between controllers.
type Engine struct {
	mu       sync.Mutex
	profiles []*Profile
	active   *Profile
	title    string
	total    float64
	pending  []detect.Event
	set      *detect.Set
	logger   *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine evaluating detectors through set.
func NewEngine(set *detect.Set, opts ...Option) *Engine {
	e := &Engine{
		set:    set,
		logger: log.New(os.Stdout, "[feedback] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadProfile validates p and upserts it by TitlePattern. If the replaced
// profile was active, the new one becomes active. If nothing is active and
// p matches the current title, p is activated.
func (e *Engine) LoadProfile(p *Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p.DisplayName(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	replaced := false
	for i, existing := range e.profiles {
		if existing.TitlePattern == p.TitlePattern {
			if e.active == existing {
				e.active = p
			}
			e.profiles[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.profiles = append(e.profiles, p)
	}

	if e.active == nil && e.title != "" && p.Matches(e.title) {
		e.active = e.resolve(e.title)
	}
	return nil
}

// RemoveProfile drops the profile with the given pattern. Returns false if
// none was loaded.
func (e *Engine) RemoveProfile(titlePattern string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.profiles {
		if p.TitlePattern != titlePattern {
			continue
		}
		e.profiles = append(e.profiles[:i], e.profiles[i+1:]...)
		if e.active == p {
			e.active = e.resolve(e.title)
		}
		return true
	}
	return false
}

// Profiles returns the loaded profiles in load order.
func (e *Engine) Profiles() []*Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Profile, len(e.profiles))
	copy(out, e.profiles)
	return out
}

// Active returns the active profile, or nil.
func (e *Engine) Active() *Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Match returns the first loaded profile matching title, or nil.
func (e *Engine) Match(title string) *Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolve(title)
}

// resolve must be called with mu held.
func (e *Engine) resolve(title string) *Profile {
	if title == "" {
		return nil
	}
	var first *Profile
	for _, p := range e.profiles {
		if !p.Matches(title) {
			continue
		}
		if first == nil {
			first = p
			continue
		}
		e.logger.Printf("Warning: profiles %q and %q both match title %q, using %q", first.DisplayName(), p.DisplayName(), title, first.DisplayName())
	}
	return first
}

// ResetEpisode zeroes the episode total and clears cooldowns. A non-empty
// title re-resolves the active profile.
func (e *Engine) ResetEpisode(title string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total = 0
	e.pending = nil
	e.set.Reset()
	metrics.EpisodeReward.Set(0)

	if title != "" {
		e.title = title
		e.active = e.resolve(title)
		if e.active == nil {
			e.logger.Printf("No feedback profile matches %q", title)
		} else {
			e.logger.Printf("Using feedback profile %s for %q", e.active.DisplayName(), title)
		}
	}
}

// EpisodeTotal returns the reward accumulated since the last reset.
func (e *Engine) EpisodeTotal() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Inject queues an externally reported event (for example a manual
// "reward this" from the operator) for the next poll.
func (e *Engine) Inject(ev detect.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Source == "" {
		ev.Source = detect.SourceManual
	}
	e.pending = append(e.pending, ev)
}

// Poll evaluates the active profile against the frame and accumulates the
// reward.
func (e *Engine) Poll(ctx context.Context, pc detect.PollContext, frame image.Image) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pc.Title == "" {
		pc.Title = e.title
	}

	if e.active == nil {
		return Result{
			TextLines:    []string{fmt.Sprintf("No feedback profile matches %q", pc.Title)},
			EpisodeTotal: e.total,
		}
	}

	events := e.set.Evaluate(ctx, e.active.Detectors, pc, frame)
	if len(e.pending) > 0 {
		events = append(events, e.pending...)
		e.pending = nil
	}

	var res Result
	res.Events = events
	for _, ev := range events {
		reward, fired := e.rewardFor(ev)
		res.Reward += reward
		res.TextLines = append(res.TextLines, formatLine(ev, reward, fired))
	}

	if len(events) == 0 && e.active.DefaultRewardForSilence != nil {
		res.Reward = *e.active.DefaultRewardForSilence
		res.TextLines = append(res.TextLines, fmt.Sprintf("no events, Reward: %+.2f", res.Reward))
	}

	e.total += res.Reward
	res.EpisodeTotal = e.total
	metrics.EpisodeReward.Set(e.total)
	return res
}

// rewardFor sums every enabled rule matching ev. fired is false when no rule
// applied.
func (e *Engine) rewardFor(ev detect.Event) (float64, bool) {
	var total float64
	fired := false
	for i := range e.active.RewardRules {
		rule := &e.active.RewardRules[i]
		if !rule.Applies(ev) {
			continue
		}
		r, err := rule.Reward.Evaluate(ev.Data)
		if err != nil {
			e.logger.Printf("Warning: reward rule %s on %s: %v", rule.ID, ev.Type, err)
		}
		total += r
		fired = true
	}
	return total, fired
}

func formatLine(ev detect.Event, reward float64, fired bool) string {
	var b strings.Builder
	b.WriteString(ev.Type)
	if s := ev.Data.String(); s != "" {
		fmt.Fprintf(&b, " (%s)", s)
	}
	if fired {
		fmt.Fprintf(&b, ", Reward: %+.2f", reward)
	}
	return b.String()
}
