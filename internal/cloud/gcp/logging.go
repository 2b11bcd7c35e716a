package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"
)

// Severity levels for structured logs
type Severity string

const (
	SeverityDefault  Severity = "DEFAULT"
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Component is the label attached to every entry written by the controller.
const Component = "gamepilot-controller"

// LogEntry is one structured line in the format the Cloud Logging agent parses.
type LogEntry struct {
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Cycle     int64                  `json:"cycle"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LoggerInterface is the structured logging surface used by the controller.
type LoggerInterface interface {
	Log(severity Severity, message string, fields map[string]interface{})
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)
	SetCycle(cycle int64)
	Flush() error
	Close() error
}

// Options selects and configures the logger returned by NewLogger.
type Options struct {
	// CloudAPI sends entries through the Cloud Logging API instead of stdout/stderr.
	CloudAPI bool
	// Project is the GCP project for the API logger. Empty means auto-detect.
	Project string
	Labels  map[string]string
}

// JSONLogger writes one JSON object per line to a writer. On GCP VMs the
// logging agent reads stderr and forwards entries with their severity.
type JSONLogger struct {
	writer    io.Writer
	sessionID string
	cycle     int64
	labels    map[string]string
	mu        sync.Mutex
	closed    bool
	flushFn   func() error
	now       func() time.Time
}

// JSONLoggerOption configures a JSONLogger.
type JSONLoggerOption func(*JSONLogger)

// WithLabels adds custom labels to all log entries
func WithLabels(labels map[string]string) JSONLoggerOption {
	return func(l *JSONLogger) {
		for k, v := range labels {
			l.labels[k] = v
		}
	}
}

// WithWriter sets a custom writer for log output
func WithWriter(w io.Writer) JSONLoggerOption {
	return func(l *JSONLogger) {
		l.writer = w
	}
}

// WithFlushFunc sets a custom flush function
func WithFlushFunc(fn func() error) JSONLoggerOption {
	return func(l *JSONLogger) {
		l.flushFn = fn
	}
}

// WithNow overrides the entry timestamp source.
func WithNow(fn func() time.Time) JSONLoggerOption {
	return func(l *JSONLogger) {
		l.now = fn
	}
}

// NewJSONLogger creates a logger writing to stderr unless WithWriter is given.
func NewJSONLogger(sessionID string, opts ...JSONLoggerOption) *JSONLogger {
	l := &JSONLogger{
		writer:    os.Stderr,
		sessionID: sessionID,
		labels: map[string]string{
			"session_id": sessionID,
			"component":  Component,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log writes a structured log entry
func (l *JSONLogger) Log(severity Severity, message string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	entry := LogEntry{
		Severity:  severity,
		Message:   SanitizeForLog(message),
		Timestamp: l.now().UTC(),
		SessionID: l.sessionID,
		Cycle:     l.cycle,
		Labels:    l.labels,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

// LogInfo writes an INFO level log entry
func (l *JSONLogger) LogInfo(message string) {
	l.Log(SeverityInfo, message, nil)
}

// LogWarning writes a WARNING level log entry
func (l *JSONLogger) LogWarning(message string) {
	l.Log(SeverityWarning, message, nil)
}

// LogError writes an ERROR level log entry
func (l *JSONLogger) LogError(message string) {
	l.Log(SeverityError, message, nil)
}

// SetCycle updates the cycle number stamped on subsequent entries.
func (l *JSONLogger) SetCycle(cycle int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycle = cycle
}

// Flush ensures all buffered logs are written
func (l *JSONLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if l.flushFn != nil {
		return l.flushFn()
	}
	if syncer, ok := l.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Close flushes remaining logs and marks the logger as closed
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.flushFn != nil {
		return l.flushFn()
	}
	return nil
}

// NewLogger picks the logger for the environment: the Cloud Logging API when
// requested, JSON on stderr on a GCP VM, JSON on stdout anywhere else. An API
// client that cannot be created falls back to JSON lines.
func NewLogger(ctx context.Context, sessionID string, opts Options) LoggerInterface {
	if opts.CloudAPI {
		apiLogger, err := NewAPILogger(ctx, opts.Project, sessionID, opts.Labels)
		if err == nil {
			return apiLogger
		}
		fmt.Fprintf(os.Stderr, "cloud logging unavailable, using JSON lines: %v\n", err)
	}

	if IsRunningOnGCP() {
		return NewJSONLogger(sessionID, WithLabels(opts.Labels))
	}
	return NewJSONLogger(sessionID, WithWriter(os.Stdout), WithLabels(opts.Labels))
}

// IsRunningOnGCP reports whether the GCP metadata server answers. The short
// timeout keeps startup fast off GCP.
func IsRunningOnGCP() bool {
	client := &http.Client{Timeout: 200 * time.Millisecond}
	req, err := http.NewRequest(http.MethodGet, metadataRoot, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ LoggerInterface = (*JSONLogger)(nil)

var (
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// SanitizeForLog redacts bearer tokens and sk- prefixed API keys.
func SanitizeForLog(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	return apiKeyPattern.ReplaceAllString(s, "[REDACTED_API_KEY]")
}
