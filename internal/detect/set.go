package detect

import (
	"context"
	"image"
	"log"
	"os"
	"time"

	"github.com/andywolf/gamepilot/internal/metrics"
)

// Set evaluates a profile's detectors for one poll. A detector that fails is
// logged once per episode and never fires; it does not affect the others.
type Set struct {
	caps      Capabilities
	cooldowns *Cooldowns
	now       func() time.Time
	logger    *log.Logger
	warned    map[string]bool
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithClock overrides the clock used when a poll has no timestamp.
func WithClock(now func() time.Time) SetOption {
	return func(s *Set) {
		s.now = now
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) SetOption {
	return func(s *Set) {
		s.logger = l
	}
}

// NewSet creates a detector set over the given capabilities.
func NewSet(caps Capabilities, opts ...SetOption) *Set {
	s := &Set{
		caps:      caps,
		cooldowns: NewCooldowns(),
		now:       time.Now,
		logger:    log.New(os.Stdout, "[detect] ", log.LstdFlags),
		warned:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cooldowns exposes the cooldown table.
func (s *Set) Cooldowns() *Cooldowns {
	return s.cooldowns
}

// Reset clears cooldowns and the once-per-episode failure log.
func (s *Set) Reset() {
	s.cooldowns.Reset()
	s.warned = make(map[string]bool)
}

// Evaluate runs each enabled detector at most once, in configuration order,
// skipping those still cooling down.
func (s *Set) Evaluate(ctx context.Context, detectors []Detector, poll PollContext, frame image.Image) []Event {
	now := poll.Timestamp
	if now.IsZero() {
		now = s.now()
	}
	e := &env{caps: s.caps, frame: frame, poll: poll}

	var events []Event
	for _, d := range detectors {
		base := d.Base()
		if !base.Enabled {
			continue
		}
		if !s.cooldowns.Ready(base.ID, now, base.Cooldown) {
			continue
		}

		data, fired, err := d.evaluate(ctx, e)
		if err != nil {
			s.fail(base.ID, err)
			continue
		}
		if !fired {
			continue
		}

		s.cooldowns.Record(base.ID, now)
		metrics.DetectorFires.WithLabelValues(base.ID).Inc()
		events = append(events, Event{
			Type:      base.ID,
			Timestamp: now,
			Source:    d.Kind().Source(),
			Data:      data,
		})
	}
	return events
}

func (s *Set) fail(id string, err error) {
	metrics.DetectorFailures.WithLabelValues(id).Inc()
	if s.warned[id] {
		return
	}
	s.warned[id] = true
	s.logger.Printf("Warning: detector %s failed, not firing (further failures suppressed until episode reset): %v", id, err)
}
