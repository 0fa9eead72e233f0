package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.General.Backend)
	}
	if cfg.General.StoreTimeout.Duration != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", cfg.General.StoreTimeout)
	}
	if cfg.AI.Timeout.Duration != 20*time.Second {
		t.Errorf("AI.Timeout = %v, want 20s", cfg.AI.Timeout)
	}
	if cfg.Sweep.Cron != "*/15 * * * *" {
		t.Errorf("Sweep.Cron = %q, want */15 * * * *", cfg.Sweep.Cron)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
backend = "redis"
redis_url = "redis://cache:6379/2"
store_timeout = "2s"

[ai]
provider = "openai"
model = "gpt-4o"
timeout = "45s"
max_retries = 4

[sweep]
cron = "@every 5m"
metrics_addr = ":9102"

[signals]
webhook_url = "https://hooks.example.com/coordinator"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.General.Backend)
	}
	if cfg.General.StoreTimeout.Duration != 2*time.Second {
		t.Errorf("StoreTimeout = %v, want 2s", cfg.General.StoreTimeout)
	}
	if cfg.AI.Timeout.Duration != 45*time.Second {
		t.Errorf("AI.Timeout = %v, want 45s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxRetries != 4 {
		t.Errorf("AI.MaxRetries = %d, want 4", cfg.AI.MaxRetries)
	}
	if cfg.Sweep.MetricsAddr != ":9102" {
		t.Errorf("MetricsAddr = %q, want :9102", cfg.Sweep.MetricsAddr)
	}
	// untouched sections keep defaults
	if cfg.Signals.Timeout.Duration != 10*time.Second {
		t.Errorf("Signals.Timeout = %v, want 10s", cfg.Signals.Timeout)
	}
	if !cfg.Signals.Enabled {
		t.Error("Signals.Enabled = false, want true")
	}
	if cfg.Web.Addr != "127.0.0.1:8080" {
		t.Errorf("Web.Addr = %q, want 127.0.0.1:8080", cfg.Web.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[ai]\ntimeout = \"soon\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COORDINATOR_BACKEND", "redis")
	t.Setenv("COORDINATOR_AI_TIMEOUT", "3s")
	t.Setenv("COORDINATOR_LOG_LEVEL", "debug")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("COORDINATOR_WEB_ADDR", ":9090")
	t.Setenv("COORDINATOR_SIGNALS_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.General.Backend)
	}
	if cfg.AI.Timeout.Duration != 3*time.Second {
		t.Errorf("AI.Timeout = %v, want 3s", cfg.AI.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.AI.APIKey != "sk-test" {
		t.Errorf("AI.APIKey = %q, want provider key from env", cfg.AI.APIKey)
	}
	if cfg.Web.Addr != ":9090" {
		t.Errorf("Web.Addr = %q, want :9090", cfg.Web.Addr)
	}
	if cfg.Signals.Enabled {
		t.Error("Signals.Enabled = true, want false from env")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("COORDINATOR_WEBHOOK_URL=https://hooks.example.com/x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("COORDINATOR_WEBHOOK_URL") })

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Signals.WebhookURL != "https://hooks.example.com/x" {
		t.Errorf("WebhookURL = %q, want value from .env", cfg.Signals.WebhookURL)
	}
}

func TestLoadEnv_NoFiles(t *testing.T) {
	n, err := LoadEnv([]string{filepath.Join(t.TempDir(), ".env")})
	if err != nil || n != 0 {
		t.Errorf("LoadEnv() = %d, %v; want 0, nil", n, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"redis", func(c *Config) { c.General.Backend = "redis" }, true},
		{"unknown backend", func(c *Config) { c.General.Backend = "mongo" }, false},
		{"redis without url", func(c *Config) { c.General.Backend = "redis"; c.General.RedisURL = "" }, false},
		{"no ai", func(c *Config) { c.AI.Provider = "none" }, true},
		{"unknown provider", func(c *Config) { c.AI.Provider = "gemini" }, false},
		{"negative retries", func(c *Config) { c.AI.MaxRetries = -1 }, false},
		{"descriptor cron", func(c *Config) { c.Sweep.Cron = "@hourly" }, true},
		{"bad cron", func(c *Config) { c.Sweep.Cron = "every quarter hour" }, false},
		{"json logs", func(c *Config) { c.Log.Format = "json" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if filepath.Base(path) != "config.toml" || filepath.Base(filepath.Dir(path)) != "factory-coordinator" {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}
