// Package notes is the persistent knowledge base the model draws on: short
// facts about each game, summarized into the prompt every cycle.
package notes

import (
	"context"
	"time"
)

// Kind classifies a note.
type Kind string

const (
	Fact     Kind = "FACT"
	Location Kind = "LOCATION"
	Hazard   Kind = "HAZARD"
	Progress Kind = "PROGRESS"
)

// Note is a note before it is stored.
type Note struct {
	Kind    Kind
	Content string
}

// Entry is a single persisted note.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	Cycle     int       `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
}

// Data is the on-disk representation of the file store.
type Data struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Config holds notes configuration.
type Config struct {
	MaxEntries    int
	ContextBudget int
}

const (
	DefaultMaxEntries    = 200
	DefaultContextBudget = 2000
)

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = DefaultContextBudget
	}
	return c
}

// Store persists notes per game title.
type Store interface {
	// Add appends notes for title. MaxEntries is enforced per title.
	Add(ctx context.Context, title string, notes []Note, cycle int) error
	// Summarize renders the notes for title, most relevant to query first,
	// within the context budget. An empty store yields "".
	Summarize(ctx context.Context, title, query string) (string, error)
	Close() error
}
