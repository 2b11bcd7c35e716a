package controller

import (
	"context"
	"time"

	"github.com/andywolf/gamepilot/internal/cloud/gcp"
)

// Status is the state exposed to the surrounding application.
type Status string

const (
	StatusInactive Status = "Inactive"
	StatusActive   Status = "Active"
	StatusError    Status = "Error"
)

// Snapshot is the controller state after the latest change.
type Snapshot struct {
	Status        Status
	SessionID     string
	Cycle         int
	Title         string
	LastAction    string
	LastRationale string
	LastError     string
	EpisodeTotal  float64
	UpdatedAt     time.Time
}

// OnStatus registers fn to be called after every status change. Listeners
// run on the goroutine that made the change and must not block.
func (c *Controller) OnStatus(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Status returns the latest snapshot.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// report applies update to the snapshot and notifies listeners and the
// status publisher.
func (c *Controller) report(ctx context.Context, update func(*Snapshot)) {
	c.mu.Lock()
	update(&c.snapshot)
	c.snapshot.UpdatedAt = c.now()
	snap := c.snapshot
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, toPublished(snap)); err != nil {
			c.logger.Printf("Warning: failed to publish status: %v", err)
		}
	}
}

func toPublished(s Snapshot) gcp.ControllerStatus {
	return gcp.ControllerStatus{
		State:         string(s.Status),
		SessionID:     s.SessionID,
		Cycle:         int64(s.Cycle),
		Title:         s.Title,
		LastAction:    s.LastAction,
		LastRationale: s.LastRationale,
		LastError:     s.LastError,
		EpisodeTotal:  s.EpisodeTotal,
		UpdatedAt:     s.UpdatedAt,
	}
}
