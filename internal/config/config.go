package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	AI      AIConfig      `toml:"ai"`
	Sweep   SweepConfig   `toml:"sweep"`
	Signals SignalsConfig `toml:"signals"`
	Web     WebConfig     `toml:"web"`
	Log     LogConfig     `toml:"log"`
	Prompts PromptsConfig `toml:"prompts"`
}

// GeneralConfig selects and configures the storage backend
type GeneralConfig struct {
	Backend      string   `toml:"backend" env:"COORDINATOR_BACKEND"`
	DatabasePath string   `toml:"database_path" env:"COORDINATOR_DATABASE_PATH"`
	RedisURL     string   `toml:"redis_url" env:"COORDINATOR_REDIS_URL"`
	StoreTimeout Duration `toml:"store_timeout" env:"COORDINATOR_STORE_TIMEOUT"`
}

// AIConfig holds the AI collaborator settings
type AIConfig struct {
	Provider   string   `toml:"provider" env:"COORDINATOR_AI_PROVIDER"`
	Model      string   `toml:"model" env:"COORDINATOR_AI_MODEL"`
	BaseURL    string   `toml:"base_url" env:"COORDINATOR_AI_BASE_URL"`
	APIKey     string   `toml:"api_key" env:"COORDINATOR_AI_API_KEY"`
	MaxTokens  int64    `toml:"max_tokens" env:"COORDINATOR_AI_MAX_TOKENS"`
	Timeout    Duration `toml:"timeout" env:"COORDINATOR_AI_TIMEOUT"`
	MaxRetries int      `toml:"max_retries" env:"COORDINATOR_AI_MAX_RETRIES"`
}

// SweepConfig holds the sweep cadence
type SweepConfig struct {
	Cron        string `toml:"cron" env:"COORDINATOR_SWEEP_CRON"`
	MetricsAddr string `toml:"metrics_addr" env:"COORDINATOR_METRICS_ADDR"`
}

// SignalsConfig holds downstream signal delivery settings
type SignalsConfig struct {
	Enabled    bool     `toml:"enabled" env:"COORDINATOR_SIGNALS_ENABLED"`
	WebhookURL string   `toml:"webhook_url" env:"COORDINATOR_WEBHOOK_URL"`
	WebhookKey string   `toml:"webhook_key" env:"COORDINATOR_WEBHOOK_KEY"`
	Timeout    Duration `toml:"timeout" env:"COORDINATOR_WEBHOOK_TIMEOUT"`
}

// WebConfig holds the HTTP API settings
type WebConfig struct {
	Addr string `toml:"addr" env:"COORDINATOR_WEB_ADDR"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level" env:"COORDINATOR_LOG_LEVEL"`
	Format string `toml:"format" env:"COORDINATOR_LOG_FORMAT"`
}

// PromptsConfig holds prompt template settings
type PromptsConfig struct {
	OverrideDir string `toml:"override_dir" env:"COORDINATOR_PROMPTS_DIR"`
}

// Duration is a time.Duration written as a string ("30s") in TOML and env.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// EnvFiles are loaded, when present, before env overrides apply.
var EnvFiles = []string{".env", ".env.local"}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			Backend:      "sqlite",
			DatabasePath: filepath.Join(home, ".factory-coordinator", "coordinator.db"),
			RedisURL:     "redis://localhost:6379/0",
			StoreTimeout: Duration{5 * time.Second},
		},
		AI: AIConfig{
			Provider:   "anthropic",
			MaxTokens:  1000,
			Timeout:    Duration{20 * time.Second},
			MaxRetries: 2,
		},
		Sweep: SweepConfig{
			Cron: "*/15 * * * *",
		},
		Signals: SignalsConfig{
			Enabled: true,
			Timeout: Duration{10 * time.Second},
		},
		Web: WebConfig{
			Addr: "127.0.0.1:8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults, then
// applies .env files and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if _, err := LoadEnv(EnvFiles); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = providerKey(cfg.AI.Provider)
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Prompts.OverrideDir = ExpandPath(cfg.Prompts.OverrideDir)

	return cfg, nil
}

// LoadEnv loads the env files that exist and reports how many it found.
// Variables already set in the environment win.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func providerKey(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate rejects unknown backends, providers, log settings and cron specs.
func (c *Config) Validate() error {
	switch c.General.Backend {
	case "sqlite":
		if c.General.DatabasePath == "" {
			return fmt.Errorf("general.database_path is required for the sqlite backend")
		}
	case "redis":
		if c.General.RedisURL == "" {
			return fmt.Errorf("general.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("general.backend: unknown backend %q (want sqlite or redis)", c.General.Backend)
	}

	switch strings.ToLower(c.AI.Provider) {
	case "anthropic", "openai", "none", "":
	default:
		return fmt.Errorf("ai.provider: unknown provider %q (want anthropic, openai or none)", c.AI.Provider)
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must not be negative")
	}

	if _, err := ParseCron(c.Sweep.Cron); err != nil {
		return fmt.Errorf("sweep.cron: %w", err)
	}

	switch c.Log.Format {
	case "text", "json", "":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// ParseCron parses a standard five-field cron spec or a descriptor such as
// "@every 5m".
func ParseCron(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "factory-coordinator", "config.toml")
}
