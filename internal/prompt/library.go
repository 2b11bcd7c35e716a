package prompt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/andywolf/gamepilot/prompts/system"
)

var (
	// ErrBuiltinReadOnly is returned when updating or deleting a builtin.
	ErrBuiltinReadOnly = errors.New("builtin system prompts are read-only")
	// ErrPromptNotFound is returned for an unknown prompt id.
	ErrPromptNotFound = errors.New("system prompt not found")
)

// DefaultPromptID is the builtin used when nothing else is selected.
const DefaultPromptID = "builtin:default"

// SystemPrompt is one selectable system instruction.
type SystemPrompt struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Body        string `json:"body"`
	IsBuiltin   bool   `json:"is_builtin"`
}

// Library holds the builtin and user system prompts and the active id.
type Library struct {
	mu       sync.Mutex
	order    []string
	prompts  map[string]*SystemPrompt
	activeID string
}

// NewLibrary loads the embedded builtins and activates the default one.
func NewLibrary() (*Library, error) {
	builtins, err := system.LoadBuiltins()
	if err != nil {
		return nil, err
	}
	if len(builtins) == 0 {
		return nil, errors.New("no builtin system prompts")
	}

	l := &Library{prompts: make(map[string]*SystemPrompt)}
	for _, b := range builtins {
		l.put(&SystemPrompt{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Body:        b.Body,
			IsBuiltin:   true,
		})
	}
	l.activeID = builtins[0].ID
	if _, ok := l.prompts[DefaultPromptID]; ok {
		l.activeID = DefaultPromptID
	}
	return l, nil
}

func (l *Library) put(p *SystemPrompt) {
	if _, exists := l.prompts[p.ID]; !exists {
		l.order = append(l.order, p.ID)
	}
	l.prompts[p.ID] = p
}

// List returns every prompt, builtins first, in insertion order.
func (l *Library) List() []SystemPrompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SystemPrompt, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.prompts[id])
	}
	return out
}

// Get returns the prompt with id.
func (l *Library) Get(id string) (SystemPrompt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prompts[id]
	if !ok {
		return SystemPrompt{}, fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	return *p, nil
}

// Find resolves an id or a case-insensitive name.
func (l *Library) Find(ref string) (SystemPrompt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.prompts[ref]; ok {
		return *p, nil
	}
	for _, id := range l.order {
		if strings.EqualFold(l.prompts[id].Name, ref) {
			return *l.prompts[id], nil
		}
	}
	return SystemPrompt{}, fmt.Errorf("%w: %s", ErrPromptNotFound, ref)
}

// Add stores a new user prompt under a fresh id.
func (l *Library) Add(name, description, body string) (SystemPrompt, error) {
	return l.addWithID(uuid.New().String(), name, description, body)
}

func (l *Library) addWithID(id, name, description, body string) (SystemPrompt, error) {
	if strings.TrimSpace(body) == "" {
		return SystemPrompt{}, errors.New("system prompt body is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.prompts[id]; ok && existing.IsBuiltin {
		return SystemPrompt{}, fmt.Errorf("%w: %s", ErrBuiltinReadOnly, id)
	}
	p := &SystemPrompt{ID: id, Name: name, Description: description, Body: body}
	l.put(p)
	return *p, nil
}

// Update replaces a user prompt's fields.
func (l *Library) Update(id, name, description, body string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prompts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	if p.IsBuiltin {
		return fmt.Errorf("%w: %s", ErrBuiltinReadOnly, id)
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("system prompt body is required")
	}
	p.Name, p.Description, p.Body = name, description, body
	return nil
}

// Delete removes a user prompt. Deleting the active prompt reactivates the
// default builtin.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prompts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	if p.IsBuiltin {
		return fmt.Errorf("%w: %s", ErrBuiltinReadOnly, id)
	}
	delete(l.prompts, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.activeID == id {
		l.activeID = l.order[0]
		if _, ok := l.prompts[DefaultPromptID]; ok {
			l.activeID = DefaultPromptID
		}
	}
	return nil
}

// SetActive selects the active prompt.
func (l *Library) SetActive(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.prompts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	l.activeID = id
	return nil
}

// Active returns the active prompt.
func (l *Library) Active() SystemPrompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.prompts[l.activeID]
}
