// Package events records one JSON line per controller cycle for offline
// analysis of a play session.
package events

import (
	"time"

	"github.com/andywolf/gamepilot/internal/detect"
)

// Status is the outcome of a cycle.
type Status string

const (
	// StatusOK is a cycle that executed an action.
	StatusOK Status = "ok"
	// StatusError is a cycle that failed and performed no action.
	StatusError Status = "error"
	// StatusAsk is an ad hoc operator prompt.
	StatusAsk Status = "ask"
)

// Record is one cycle of a session.
type Record struct {
	// ID identifies the record.
	ID string `json:"id"`

	// Timestamp is when the cycle started.
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the controller session.
	SessionID string `json:"session_id"`

	// Cycle is the cycle number (1-indexed).
	Cycle int `json:"cycle"`

	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`

	// Action is the action label (button or sequence).
	Action    string `json:"action,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	Reward       float64        `json:"reward"`
	EpisodeTotal float64        `json:"episode_total"`
	Events       []detect.Event `json:"events,omitempty"`
	Feedback     []string       `json:"feedback,omitempty"`

	// Error is the human-readable cause of a failed cycle.
	Error string `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusOK, StatusError, StatusAsk}
}

// IsValidStatus checks if the given string is a valid status.
func IsValidStatus(s string) bool {
	for _, st := range ValidStatuses() {
		if string(st) == s {
			return true
		}
	}
	return false
}
