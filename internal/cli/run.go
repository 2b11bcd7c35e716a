package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andywolf/gamepilot/internal/config"
	"github.com/andywolf/gamepilot/internal/controller"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play the running game until interrupted",
	Long: `Arm the controller against the emulator bridge and play.

The controller checks model credentials, that the emulator is running and
that a feedback profile matches the title, then runs one cycle immediately
and one per capture interval until interrupted or the emulator stops.

Example:
  gamepilot run --interval 2s --goal "reach level 5"`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Duration("interval", 0, "Capture interval (default 3s)")
	runCmd.Flags().String("bridge-url", "", "Emulator bridge URL")
	runCmd.Flags().String("endpoint", "", "Model endpoint base URL")
	runCmd.Flags().String("model", "", "Model name")
	runCmd.Flags().String("profiles-dir", "", "Directory of feedback profiles")
	runCmd.Flags().String("prompt", "", "Active system prompt id or name")
	runCmd.Flags().String("goal", "", "Initial user goal")
	runCmd.Flags().String("title", "", "Override the title reported by the emulator")
	runCmd.Flags().Bool("allow-unprofiled", false, "Run even when no feedback profile matches")
	runCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty keeps the config value)")

	_ = viper.BindPFlag("controller.capture_interval", runCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("device.bridge_url", runCmd.Flags().Lookup("bridge-url"))
	_ = viper.BindPFlag("model.endpoint", runCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("model.name", runCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("feedback.profiles_dir", runCmd.Flags().Lookup("profiles-dir"))
	_ = viper.BindPFlag("prompts.active", runCmd.Flags().Lookup("prompt"))
	_ = viper.BindPFlag("goal.description", runCmd.Flags().Lookup("goal"))
	_ = viper.BindPFlag("controller.title", runCmd.Flags().Lookup("title"))
	_ = viper.BindPFlag("controller.allow_unprofiled", runCmd.Flags().Lookup("allow-unprofiled"))
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if err := cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := newSession(cmdContext(cmd), cfg, sessionMode{Run: true})
	if err != nil {
		return err
	}
	ctrl := s.ctrl

	ctx, cancel := ctrl.SignalContext(cmdContext(cmd))
	defer cancel()

	ctrl.OnStatus(func(snap controller.Snapshot) {
		if viper.GetBool("verbose") {
			s.logger.Printf("Status %s cycle=%d title=%q action=%q", snap.Status, snap.Cycle, snap.Title, snap.LastAction)
		}
	})

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("Warning: profile watcher stopped: %v", err)
			}
		}()
	}

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, ctrl)
		go func() {
			s.logger.Printf("Metrics server listening on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("Error: metrics server failed: %v", err)
			}
		}()
		ctrl.AddShutdownHook(srv.Shutdown)
	}

	defer ctrl.Close(context.Background())

	s.logger.Printf("Session %s: capture every %s against %s", cfg.Controller.SessionID, cfg.Controller.CaptureInterval, cfg.Device.BridgeURL)
	if err := ctrl.Enable(ctx); err != nil {
		return fmt.Errorf("failed to enable controller: %w", err)
	}

	// Armed until a signal arrives or the emulator stops.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !ctrl.Armed() {
				st := ctrl.Status()
				s.logger.Printf("Controller idle (%s)", st.Status)
				return nil
			}
		}
	}
}

// newMetricsServer serves Prometheus metrics and the controller snapshot.
func newMetricsServer(addr string, ctrl *controller.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", statusHandler(ctrl.Status))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func statusHandler(status func() controller.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshotJSON(status()))
	}
}

type statusBody struct {
	Status        string    `json:"status"`
	SessionID     string    `json:"session_id"`
	Cycle         int       `json:"cycle"`
	Title         string    `json:"title,omitempty"`
	LastAction    string    `json:"last_action,omitempty"`
	LastRationale string    `json:"last_rationale,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	EpisodeTotal  float64   `json:"episode_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func snapshotJSON(s controller.Snapshot) statusBody {
	return statusBody{
		Status:        string(s.Status),
		SessionID:     s.SessionID,
		Cycle:         s.Cycle,
		Title:         s.Title,
		LastAction:    s.LastAction,
		LastRationale: s.LastRationale,
		LastError:     s.LastError,
		EpisodeTotal:  s.EpisodeTotal,
		UpdatedAt:     s.UpdatedAt,
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
