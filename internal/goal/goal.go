// Package goal keeps the goals the model is asked to pursue. At most one
// goal is active at a time.
package goal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown goal id.
var ErrNotFound = errors.New("goal not found")

// Kind says who created a goal.
type Kind string

const (
	KindSystem Kind = "systemDefined"
	KindUser   Kind = "userDefined"
)

// Status is a goal's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Goal is one objective.
type Goal struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Description  string     `json:"description"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExtraContext string     `json:"extra_context,omitempty"`
}

// Store is an in-memory keyed goal registry.
type Store struct {
	mu       sync.Mutex
	goals    map[string]*Goal
	activeID string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		goals: make(map[string]*Goal),
		now:   time.Now,
	}
}

// Create adds a goal and returns a copy of it.
func (s *Store) Create(kind Kind, description, extraContext string) (Goal, error) {
	if strings.TrimSpace(description) == "" {
		return Goal{}, errors.New("goal description is required")
	}
	if kind == "" {
		kind = KindUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := &Goal{
		ID:           uuid.New().String(),
		Kind:         kind,
		Description:  description,
		Status:       StatusActive,
		CreatedAt:    s.now(),
		ExtraContext: extraContext,
	}
	s.goals[g.ID] = g
	return *g, nil
}

// Get returns the goal with id.
func (s *Store) Get(id string) (Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return Goal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *g, nil
}

// List returns every goal, oldest first.
func (s *Store) List() []Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update changes a goal's description and extra context.
func (s *Store) Update(id, description, extraContext string) (Goal, error) {
	if strings.TrimSpace(description) == "" {
		return Goal{}, errors.New("goal description is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return Goal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	g.Description = description
	g.ExtraContext = extraContext
	return *g, nil
}

// Delete removes a goal, clearing the active id if it pointed at it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.goals, id)
	if s.activeID == id {
		s.activeID = ""
	}
	return nil
}

// SetActive makes id the active goal.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if g.Status != StatusActive {
		return fmt.Errorf("goal %s is %s", id, g.Status)
	}
	s.activeID = id
	return nil
}

// ClearActive leaves no goal active.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
}

// Active returns the active goal, or nil.
func (s *Store) Active() *Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[s.activeID]
	if !ok {
		return nil
	}
	cp := *g
	return &cp
}

// Complete marks a goal completed.
func (s *Store) Complete(id string) error {
	return s.finish(id, StatusCompleted)
}

// Fail marks a goal failed.
func (s *Store) Fail(id string) error {
	return s.finish(id, StatusFailed)
}

func (s *Store) finish(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := s.now()
	g.Status = status
	g.CompletedAt = &now
	if s.activeID == id {
		s.activeID = ""
	}
	return nil
}
