package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LoadDir adds every *.md file in dir as a user prompt. The first line, when
// it is a "# " heading, names the prompt; the rest is the body. Ids are
// derived from the file path so they are stable across runs.
func (l *Library) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read prompts dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	loaded := 0
	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read prompt %s: %w", path, err))
			continue
		}
		title, body := splitHeading(string(data))
		if title == "" {
			title = strings.TrimSuffix(name, filepath.Ext(name))
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
		if _, err := l.addWithID(id, title, "loaded from "+name, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}

func splitHeading(s string) (string, string) {
	s = strings.TrimLeft(s, "\r\n")
	first, rest, _ := strings.Cut(s, "\n")
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(strings.TrimPrefix(first, "# ")), strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(s)
}

// LoadGameContext reads a free-text game context file. Returns empty string
// with nil error if path is empty or the file does not exist.
func LoadGameContext(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read game context %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
