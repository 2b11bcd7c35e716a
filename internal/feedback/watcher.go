package feedback

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay lets editors finish successive writes before a reload.
const settleDelay = 50 * time.Millisecond

// Watcher reloads profile files into an Engine when they change on disk.
type Watcher struct {
	dir     string
	engine  *Engine
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	patterns map[string]string // file path -> title pattern it loaded
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, engine *Engine, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[feedback] ", log.LstdFlags)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		engine:   engine,
		logger:   logger,
		watcher:  fw,
		patterns: make(map[string]string),
	}, nil
}

// Track records that path produced the profile with titlePattern, so a later
// removal of the file unloads it.
func (w *Watcher) Track(path, titlePattern string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patterns[filepath.Clean(path)] = titlePattern
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Warning: profile watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !IsProfileFile(ev.Name) {
		return
	}
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Op&fsnotify.Remove == fsnotify.Remove, ev.Op&fsnotify.Rename == fsnotify.Rename:
		w.unload(path)
	case ev.Op&fsnotify.Create == fsnotify.Create, ev.Op&fsnotify.Write == fsnotify.Write:
		time.Sleep(settleDelay)
		w.reload(path)
	}
}

func (w *Watcher) reload(path string) {
	p, err := LoadFile(path)
	if err != nil {
		w.logger.Printf("Warning: failed to reload profile: %v", err)
		return
	}

	w.mu.Lock()
	old, had := w.patterns[path]
	w.patterns[path] = p.TitlePattern
	w.mu.Unlock()

	if had && old != p.TitlePattern {
		w.engine.RemoveProfile(old)
	}
	if err := w.engine.LoadProfile(p); err != nil {
		w.logger.Printf("Warning: failed to load profile: %v", err)
		return
	}
	w.logger.Printf("Reloaded feedback profile %s from %s", p.DisplayName(), filepath.Base(path))
}

func (w *Watcher) unload(path string) {
	w.mu.Lock()
	pattern, ok := w.patterns[path]
	delete(w.patterns, path)
	w.mu.Unlock()

	if ok && w.engine.RemoveProfile(pattern) {
		w.logger.Printf("Unloaded feedback profile %q (%s removed)", pattern, filepath.Base(path))
	}
}
