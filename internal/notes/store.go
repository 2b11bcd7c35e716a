package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps notes in a single JSON file.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	data     *Data
	cfg      Config
	now      func() time.Time
}

// NewFileStore creates a store backed by dir/notes.json and loads it.
func NewFileStore(dir string, cfg Config) (*FileStore, error) {
	s := &FileStore{
		filePath: filepath.Join(dir, "notes.json"),
		data:     &Data{Version: "1", Entries: []Entry{}},
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the notes file. A missing or corrupt file starts empty.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read notes %s: %w", s.filePath, err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		// Invalid JSON: start fresh
		return nil
	}
	if data.Entries == nil {
		data.Entries = []Entry{}
	}
	s.data = &data
	return nil
}

// save writes the notes file, creating the directory if needed.
func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create notes dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, raw, 0644)
}

// Add implements Store.
func (s *FileStore) Add(_ context.Context, title string, notes []Note, cycle int) error {
	if len(notes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, n := range notes {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		s.data.Entries = append(s.data.Entries, Entry{
			Kind:      n.Kind,
			Content:   n.Content,
			Title:     title,
			Cycle:     cycle,
			Timestamp: now,
		})
	}
	s.prune(title)
	return s.save()
}

// prune drops the oldest entries for title beyond MaxEntries.
func (s *FileStore) prune(title string) int {
	key := normalizeTitle(title)
	count := 0
	for _, e := range s.data.Entries {
		if normalizeTitle(e.Title) == key {
			count++
		}
	}
	excess := count - s.cfg.MaxEntries
	if excess <= 0 {
		return 0
	}
	removed := 0
	filtered := s.data.Entries[:0]
	for _, e := range s.data.Entries {
		if removed < excess && normalizeTitle(e.Title) == key {
			removed++
			continue
		}
		filtered = append(filtered, e)
	}
	s.data.Entries = filtered
	return removed
}

// Entries returns the notes stored for title, oldest first.
func (s *FileStore) Entries(title string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeTitle(title)
	var out []Entry
	for _, e := range s.data.Entries {
		if normalizeTitle(e.Title) == key {
			out = append(out, e)
		}
	}
	return out
}

// Summarize implements Store.
func (s *FileStore) Summarize(_ context.Context, title, query string) (string, error) {
	return summarize(s.Entries(title), query, s.cfg.ContextBudget), nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
