package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/andywolf/gamepilot/internal/cloud/gcp"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Auth modes for the model endpoint.
const (
	AuthAPIKey = "api_key"
	AuthJWT    = "jwt"
)

// Notes backends.
const (
	NotesFile  = "file"
	NotesRedis = "redis"
)

// DefaultAPIKeyEnv is the environment variable read for the model API key.
const DefaultAPIKeyEnv = "GAMEPILOT_MODEL_API_KEY"

// Config represents the full gamepilot configuration
type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Model      ModelConfig      `mapstructure:"model"`
	Device     DeviceConfig     `mapstructure:"device"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
	Notes      NotesConfig      `mapstructure:"notes"`
	Events     EventsConfig     `mapstructure:"events"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Goal       GoalConfig       `mapstructure:"goal"`
	Game       GameConfig       `mapstructure:"game"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ControllerConfig contains cycle loop settings
type ControllerConfig struct {
	CaptureInterval time.Duration `mapstructure:"capture_interval"`
	HistorySize     int           `mapstructure:"history_size"`
	AllowUnprofiled bool          `mapstructure:"allow_unprofiled"`
	SessionID       string        `mapstructure:"session_id"`
	Title           string        `mapstructure:"title"` // overrides the title reported by the device
}

// ModelConfig contains the vision-language model endpoint settings
type ModelConfig struct {
	Endpoint            string        `mapstructure:"endpoint"`
	Name                string        `mapstructure:"name"`
	AuthMode            string        `mapstructure:"auth_mode"`
	APIKeyEnv           string        `mapstructure:"api_key_env"`
	APIKeySecret        string        `mapstructure:"api_key_secret"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	JWTAudience         string        `mapstructure:"jwt_audience"`
	JWTPrivateKeyFile   string        `mapstructure:"jwt_private_key_file"`
	JWTPrivateKeySecret string        `mapstructure:"jwt_private_key_secret"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Temperature         float64       `mapstructure:"temperature"`
}

// DeviceConfig contains the emulator bridge settings
type DeviceConfig struct {
	BridgeURL string        `mapstructure:"bridge_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// FeedbackConfig contains feedback profile settings
type FeedbackConfig struct {
	ProfilesDir string `mapstructure:"profiles_dir"`
	Watch       bool   `mapstructure:"watch"`
}

// NotesConfig contains knowledge note storage settings
type NotesConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	MaxEntries    int    `mapstructure:"max_entries"`
	ContextBudget int    `mapstructure:"context_budget"`
}

// EventsConfig contains cycle record settings. An empty Dir disables the sink.
type EventsConfig struct {
	Dir string `mapstructure:"dir"`
}

// PromptsConfig contains system prompt settings
type PromptsConfig struct {
	Dir       string            `mapstructure:"dir"`
	Active    string            `mapstructure:"active"`
	Variables map[string]string `mapstructure:"variables"` // {{name}} values for system prompts
}

// GoalConfig describes an optional user goal created at startup
type GoalConfig struct {
	Description string `mapstructure:"description"`
	Context     string `mapstructure:"context"`
}

// GameConfig carries free-text game context
type GameConfig struct {
	Context     string `mapstructure:"context"`
	ContextFile string `mapstructure:"context_file"`
}

// MetricsConfig contains the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig contains structured logging settings
type LoggingConfig struct {
	CloudAPI      bool   `mapstructure:"cloud_api"`
	Project       string `mapstructure:"project"`
	PublishStatus bool   `mapstructure:"publish_status"`
}

// SetDefaults registers defaults for keys whose zero value is meaningful,
// so that an explicit empty or zero setting survives Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("events.dir", ".gamepilot")
	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("feedback.watch", true)
	v.SetDefault("model.requests_per_minute", 30)
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Controller.CaptureInterval == 0 {
		cfg.Controller.CaptureInterval = 3 * time.Second
	}
	if cfg.Controller.HistorySize == 0 {
		cfg.Controller.HistorySize = 10
	}
	if cfg.Controller.SessionID == "" {
		cfg.Controller.SessionID = "gamepilot-" + uuid.New().String()[:8]
	}

	if cfg.Model.AuthMode == "" {
		cfg.Model.AuthMode = AuthAPIKey
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = 60 * time.Second
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 512
	}

	if cfg.Device.BridgeURL == "" {
		cfg.Device.BridgeURL = "http://127.0.0.1:8765"
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = 5 * time.Second
	}

	if cfg.Feedback.ProfilesDir == "" {
		cfg.Feedback.ProfilesDir = "profiles"
	}

	if cfg.Notes.Backend == "" {
		cfg.Notes.Backend = NotesFile
	}
	if cfg.Notes.Dir == "" {
		cfg.Notes.Dir = ".gamepilot"
	}
	if cfg.Notes.MaxEntries == 0 {
		cfg.Notes.MaxEntries = 200
	}
	if cfg.Notes.ContextBudget == 0 {
		cfg.Notes.ContextBudget = 2000
	}

	if cfg.Prompts.Active == "" {
		cfg.Prompts.Active = "builtin:default"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Controller.CaptureInterval <= 0 {
		return fmt.Errorf("capture_interval must be positive")
	}
	if c.Controller.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1")
	}

	switch c.Model.AuthMode {
	case AuthAPIKey, AuthJWT:
	default:
		return fmt.Errorf("invalid auth_mode: %s (must be api_key or jwt)", c.Model.AuthMode)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive")
	}
	if c.Model.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.Device.Timeout <= 0 {
		return fmt.Errorf("device timeout must be positive")
	}

	switch c.Notes.Backend {
	case NotesFile, NotesRedis:
	default:
		return fmt.Errorf("invalid notes backend: %s (must be file or redis)", c.Notes.Backend)
	}
	if c.Notes.MaxEntries < 1 {
		return fmt.Errorf("notes max_entries must be at least 1")
	}
	if c.Notes.ContextBudget < 1 {
		return fmt.Errorf("notes context_budget must be at least 1")
	}

	return nil
}

// ValidateForRun performs additional validation required before enabling the controller
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Model.Endpoint == "" {
		return fmt.Errorf("model endpoint is required")
	}
	if _, err := url.ParseRequestURI(c.Model.Endpoint); err != nil {
		return fmt.Errorf("invalid model endpoint: %w", err)
	}

	if c.Device.BridgeURL == "" {
		return fmt.Errorf("device bridge_url is required")
	}
	if _, err := url.ParseRequestURI(c.Device.BridgeURL); err != nil {
		return fmt.Errorf("invalid device bridge_url: %w", err)
	}

	if c.Model.AuthMode == AuthJWT {
		if c.Model.JWTIssuer == "" {
			return fmt.Errorf("jwt_issuer is required for jwt auth")
		}
		if c.Model.JWTPrivateKeyFile == "" && c.Model.JWTPrivateKeySecret == "" {
			return fmt.Errorf("jwt_private_key_file or jwt_private_key_secret is required for jwt auth")
		}
	}

	if c.Notes.Backend == NotesRedis && c.Notes.RedisAddr == "" {
		return fmt.Errorf("notes redis_addr is required for the redis backend")
	}

	return nil
}

// APIKeySource is where the model API key is read from.
func (m ModelConfig) APIKeySource() gcp.CredentialSource {
	return gcp.CredentialSource{Env: m.APIKeyEnv, Secret: m.APIKeySecret}
}

// JWTKeySource is where the PEM signing key is read from.
func (m ModelConfig) JWTKeySource() gcp.CredentialSource {
	return gcp.CredentialSource{File: m.JWTPrivateKeyFile, Secret: m.JWTPrivateKeySecret}
}
