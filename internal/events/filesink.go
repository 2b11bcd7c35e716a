package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives cycle records.
type Sink interface {
	WriteOne(r Record) error
	Close() error
}

// FileSink writes Records to a JSONL file.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// DefaultFilename is the default filename for the cycles file.
const DefaultFilename = "cycles.jsonl"

// NewFileSink creates a FileSink writing to dir/cycles.jsonl, creating dir
// if needed. An existing file is appended to.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create events dir: %w", err)
	}
	path := filepath.Join(dir, DefaultFilename)

	// Rationales can quote on-screen text; keep the file private.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}

	return &FileSink{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Write writes a batch of records, one JSON line each, and flushes.
func (s *FileSink) Write(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("events file %s is closed", s.path)
	}

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err := s.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush records: %w", err)
	}
	return nil
}

// WriteOne writes a single record.
func (s *FileSink) WriteOne(r Record) error {
	return s.Write([]Record{r})
}

// Close flushes any remaining data and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	if err := s.writer.Flush(); err != nil {
		// Still try to close the file even if flush fails
		_ = s.file.Close()
		s.file = nil
		return fmt.Errorf("failed to flush before close: %w", err)
	}

	if err := s.file.Close(); err != nil {
		s.file = nil
		return fmt.Errorf("failed to close events file: %w", err)
	}

	s.file = nil
	return nil
}

// Path returns the path to the events file.
func (s *FileSink) Path() string {
	return s.path
}

// ReadRecords reads all records from a JSONL file.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []Record
	scanner := bufio.NewScanner(file)

	// Feedback and rationales can make long lines (1MB max)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse record on line %d: %w", lineNum, err)
		}
		records = append(records, r)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return records, nil
}

// FilterByStatus filters records by status.
func FilterByStatus(records []Record, statuses ...Status) []Record {
	if len(statuses) == 0 {
		return records
	}

	set := make(map[Status]bool)
	for _, st := range statuses {
		set[st] = true
	}

	var filtered []Record
	for _, r := range records {
		if set[r.Status] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Summary aggregates a session's records.
type Summary struct {
	Cycles       int
	Errors       int
	Asks         int
	FinalTotal   float64
	ActionCounts map[string]int
}

// Summarize aggregates records in file order.
func Summarize(records []Record) Summary {
	sum := Summary{ActionCounts: make(map[string]int)}
	for _, r := range records {
		switch r.Status {
		case StatusAsk:
			sum.Asks++
			continue
		case StatusError:
			sum.Errors++
		default:
			sum.ActionCounts[r.Action]++
		}
		sum.Cycles++
		sum.FinalTotal = r.EpisodeTotal
	}
	return sum
}
