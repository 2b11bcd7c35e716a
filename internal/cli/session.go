package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/andywolf/gamepilot/internal/cloud/gcp"
	"github.com/andywolf/gamepilot/internal/config"
	"github.com/andywolf/gamepilot/internal/controller"
	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/device/bridge"
	"github.com/andywolf/gamepilot/internal/events"
	"github.com/andywolf/gamepilot/internal/feedback"
	"github.com/andywolf/gamepilot/internal/goal"
	"github.com/andywolf/gamepilot/internal/model"
	"github.com/andywolf/gamepilot/internal/notes"
	"github.com/andywolf/gamepilot/internal/prompt"
)

// session is a fully wired controller plus the pieces that live beside it.
type session struct {
	cfg         *config.Config
	ctrl        *controller.Controller
	engine      *feedback.Engine
	watcher     *feedback.Watcher
	logger      *log.Logger
	cloudLogger gcp.LoggerInterface
}

// sessionMode selects the optional parts of a session.
type sessionMode struct {
	// Run enables the cycle record sink, the profile watcher and the
	// instance status publisher.
	Run bool
}

// newSession builds every dependency named in cfg. The caller owns the
// returned session and must Close its controller.
func newSession(ctx context.Context, cfg *config.Config, mode sessionMode) (*session, error) {
	logger := log.New(os.Stdout, "[gamepilot] ", log.LstdFlags)

	s := &session{cfg: cfg, logger: logger}

	device := bridge.New(cfg.Device.BridgeURL, cfg.Device.Timeout)

	set := detect.NewSet(detect.Capabilities{Memory: device})
	s.engine = feedback.NewEngine(set)
	paths := loadProfiles(s.engine, cfg.Feedback.ProfilesDir, logger)

	library, err := buildPrompts(cfg.Prompts)
	if err != nil {
		return nil, err
	}

	goals, err := buildGoals(cfg.Goal)
	if err != nil {
		return nil, err
	}

	gameContext, err := buildGameContext(cfg.Game)
	if err != nil {
		return nil, err
	}

	auth, err := buildAuthorizer(ctx, cfg.Model)
	if err != nil && !errors.Is(err, gcp.ErrNoCredential) {
		return nil, err
	}
	if auth == nil {
		logger.Printf("Warning: no model credentials found for auth_mode %s", cfg.Model.AuthMode)
	}

	var client model.Client
	if cfg.Model.Endpoint != "" {
		hc, err := model.NewHTTPClient(model.Config{
			Endpoint:          cfg.Model.Endpoint,
			Model:             cfg.Model.Name,
			MaxTokens:         cfg.Model.MaxTokens,
			Temperature:       cfg.Model.Temperature,
			Timeout:           cfg.Model.Timeout,
			RequestsPerMinute: cfg.Model.RequestsPerMinute,
		}, auth)
		if err != nil {
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		client = hc
	}

	store, err := buildNotes(ctx, cfg.Notes)
	if err != nil {
		return nil, err
	}

	var sink events.Sink
	if mode.Run && cfg.Events.Dir != "" {
		fs, err := events.NewFileSink(cfg.Events.Dir)
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Printf("Writing cycle records to %s", fs.Path())
		sink = fs
	}

	s.cloudLogger = gcp.NewLogger(ctx, cfg.Controller.SessionID, gcp.Options{
		CloudAPI: cfg.Logging.CloudAPI,
		Project:  cfg.Logging.Project,
		Labels:   map[string]string{"component": gcp.Component},
	})

	opts := []controller.Option{
		controller.WithLogger(log.New(os.Stdout, "[controller] ", log.LstdFlags)),
		controller.WithCloudLogger(s.cloudLogger),
	}
	if mode.Run && cfg.Logging.PublishStatus {
		if gcp.IsRunningOnGCP() {
			pub, err := gcp.NewMetadataPublisher(ctx)
			if err != nil {
				logger.Printf("Warning: status publishing disabled: %v", err)
			} else {
				opts = append(opts, controller.WithStatusPublisher(pub))
			}
		} else {
			logger.Printf("Warning: publish_status is set but this is not a GCE instance")
		}
	}

	s.ctrl, err = controller.New(controller.Config{
		CaptureInterval: cfg.Controller.CaptureInterval,
		HistorySize:     cfg.Controller.HistorySize,
		AllowUnprofiled: cfg.Controller.AllowUnprofiled,
		SessionID:       cfg.Controller.SessionID,
		Title:           cfg.Controller.Title,
		GameContext:     gameContext,
		PromptVariables: cfg.Prompts.Variables,
	}, controller.Deps{
		Device:   device,
		Model:    client,
		Feedback: s.engine,
		Prompts:  library,
		Goals:    goals,
		Notes:    store,
		Sink:     sink,
	}, opts...)
	if err != nil {
		store.Close()
		if sink != nil {
			sink.Close()
		}
		s.cloudLogger.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	if mode.Run && cfg.Feedback.Watch {
		w, err := feedback.NewWatcher(cfg.Feedback.ProfilesDir, s.engine, log.New(os.Stdout, "[feedback] ", log.LstdFlags))
		if err != nil {
			logger.Printf("Warning: profile hot reload disabled: %v", err)
		} else {
			for path, pattern := range paths {
				w.Track(path, pattern)
			}
			s.watcher = w
		}
	}

	return s, nil
}

// loadProfiles loads every profile file in dir into engine and returns the
// title pattern each file produced. Files that fail to load are logged and
// skipped.
func loadProfiles(engine *feedback.Engine, dir string, logger *log.Logger) map[string]string {
	profiles, err := feedback.LoadDir(dir)
	if err != nil {
		logger.Printf("Warning: some profiles failed to load: %v", err)
	}

	paths := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if err := engine.LoadProfile(p); err != nil {
			logger.Printf("Warning: skipping profile %s: %v", p.Source, err)
			continue
		}
		paths[p.Source] = p.TitlePattern
	}
	logger.Printf("Loaded %d feedback profile(s) from %s", len(paths), dir)
	return paths
}

func buildPrompts(cfg config.PromptsConfig) (*prompt.Library, error) {
	library, err := prompt.NewLibrary()
	if err != nil {
		return nil, fmt.Errorf("failed to load builtin prompts: %w", err)
	}
	if cfg.Dir != "" {
		if _, err := library.LoadDir(cfg.Dir); err != nil {
			return nil, err
		}
	}
	if cfg.Active != "" {
		p, err := library.Find(cfg.Active)
		if err != nil {
			return nil, err
		}
		if err := library.SetActive(p.ID); err != nil {
			return nil, err
		}
	}
	return library, nil
}

func buildGoals(cfg config.GoalConfig) (*goal.Store, error) {
	goals := goal.NewStore()
	if strings.TrimSpace(cfg.Description) == "" {
		return goals, nil
	}
	g, err := goals.Create(goal.KindUser, cfg.Description, cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}
	if err := goals.SetActive(g.ID); err != nil {
		return nil, err
	}
	return goals, nil
}

// buildGameContext joins the inline context and the context file.
func buildGameContext(cfg config.GameConfig) (string, error) {
	fromFile, err := prompt.LoadGameContext(cfg.ContextFile)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{strings.TrimSpace(cfg.Context), fromFile} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// buildAuthorizer resolves the credential for the configured auth mode.
// Secret Manager is only contacted when a secret path is configured.
// gcp.ErrNoCredential is returned when nothing was found.
func buildAuthorizer(ctx context.Context, cfg config.ModelConfig) (model.Authorizer, error) {
	switch cfg.AuthMode {
	case config.AuthJWT:
		pemKey, err := resolveCredential(ctx, cfg.JWTKeySource())
		if err != nil {
			return nil, err
		}
		var opts []model.JWTOption
		if cfg.JWTAudience != "" {
			opts = append(opts, model.WithAudience(cfg.JWTAudience))
		}
		signer, err := model.NewJWTSigner(cfg.JWTIssuer, []byte(pemKey), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT signer: %w", err)
		}
		return signer, nil
	default:
		key, err := resolveCredential(ctx, cfg.APIKeySource())
		if err != nil {
			return nil, err
		}
		return model.APIKey(key), nil
	}
}

func resolveCredential(ctx context.Context, src gcp.CredentialSource) (string, error) {
	if !src.NeedsSecretManager() {
		return src.Resolve(ctx, nil)
	}
	client, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()
	return src.Resolve(ctx, client)
}

func buildNotes(ctx context.Context, cfg config.NotesConfig) (notes.Store, error) {
	nc := notes.Config{MaxEntries: cfg.MaxEntries, ContextBudget: cfg.ContextBudget}
	switch cfg.Backend {
	case config.NotesRedis:
		store, err := notes.NewRedisStore(ctx, cfg.RedisAddr, nc)
		if err != nil {
			return nil, fmt.Errorf("failed to connect notes store: %w", err)
		}
		return store, nil
	default:
		store, err := notes.NewFileStore(cfg.Dir, nc)
		if err != nil {
			return nil, fmt.Errorf("failed to open notes store: %w", err)
		}
		return store, nil
	}
}
