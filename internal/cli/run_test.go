package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andywolf/gamepilot/internal/controller"
)

func TestStatusHandler(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := controller.Snapshot{
		Status:        controller.StatusActive,
		SessionID:     "gamepilot-1234abcd",
		Cycle:         7,
		Title:         "TETRIS",
		LastAction:    "left",
		LastRationale: "gap on the left",
		EpisodeTotal:  -0.07,
		UpdatedAt:     updated,
	}
	handler := statusHandler(func() controller.Snapshot { return snap })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body statusBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "Active" || body.Cycle != 7 || body.LastAction != "left" || body.Title != "TETRIS" {
		t.Errorf("body = %+v", body)
	}
	if !body.UpdatedAt.Equal(updated) {
		t.Errorf("updated_at = %v, want %v", body.UpdatedAt, updated)
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	handler := statusHandler(func() controller.Snapshot { return controller.Snapshot{} })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRootCommandTree(t *testing.T) {
	want := map[string][]string{
		"run":      nil,
		"ask":      nil,
		"logs":     nil,
		"version":  nil,
		"profiles": {"list", "validate"},
		"prompts":  {"list", "show"},
	}
	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err=%v)", name, err)
			continue
		}
		for _, sub := range subs {
			c, _, err := rootCmd.Find([]string{name, sub})
			if err != nil || c.Name() != sub {
				t.Errorf("command %q %q not registered (err=%v)", name, sub, err)
			}
		}
	}
}
