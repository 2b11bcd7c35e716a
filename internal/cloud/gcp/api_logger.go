package gcp

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// LogID is the Cloud Logging log name entries are written under.
const LogID = "gamepilot"

// entrySink is the subset of *logging.Logger the API logger uses.
type entrySink interface {
	Log(e logging.Entry)
	Flush() error
}

// APILogger sends entries straight to the Cloud Logging API. Entries are
// buffered by the client library; Flush and Close push them out.
type APILogger struct {
	mu        sync.Mutex
	sink      entrySink
	closeFn   func() error
	sessionID string
	cycle     int64
	closed    bool
}

// NewAPILogger creates a Cloud Logging client for project. An empty project
// is resolved from the environment or the metadata server.
func NewAPILogger(ctx context.Context, project, sessionID string, labels map[string]string, opts ...option.ClientOption) (*APILogger, error) {
	if project == "" {
		var err error
		project, err = getProjectID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get project ID: %w", err)
		}
	}

	client, err := logging.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create logging client: %w", err)
	}

	common := map[string]string{
		"session_id": sessionID,
		"component":  Component,
	}
	for k, v := range labels {
		common[k] = v
	}

	logger := client.Logger(LogID, logging.CommonLabels(common))
	return newAPILogger(logger, client.Close, sessionID), nil
}

func newAPILogger(sink entrySink, closeFn func() error, sessionID string) *APILogger {
	return &APILogger{
		sink:      sink,
		closeFn:   closeFn,
		sessionID: sessionID,
	}
}

// Log queues an entry with a JSON payload.
func (a *APILogger) Log(severity Severity, message string, fields map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	payload := map[string]interface{}{
		"message":    SanitizeForLog(message),
		"session_id": a.sessionID,
		"cycle":      a.cycle,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}

	a.sink.Log(logging.Entry{
		Severity: logging.ParseSeverity(string(severity)),
		Payload:  payload,
	})
}

func (a *APILogger) LogInfo(message string) {
	a.Log(SeverityInfo, message, nil)
}

func (a *APILogger) LogWarning(message string) {
	a.Log(SeverityWarning, message, nil)
}

func (a *APILogger) LogError(message string) {
	a.Log(SeverityError, message, nil)
}

func (a *APILogger) SetCycle(cycle int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycle = cycle
}

// Flush blocks until buffered entries are sent.
func (a *APILogger) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	return a.sink.Flush()
}

// Close flushes and closes the underlying client.
func (a *APILogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if err := a.sink.Flush(); err != nil {
		return fmt.Errorf("failed to flush log entries: %w", err)
	}
	if a.closeFn != nil {
		return a.closeFn()
	}
	return nil
}

var _ LoggerInterface = (*APILogger)(nil)
