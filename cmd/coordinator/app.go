package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/ai"
	"github.com/hochfrequenz/factory-coordinator/internal/config"
	"github.com/hochfrequenz/factory-coordinator/internal/interpret"
	"github.com/hochfrequenz/factory-coordinator/internal/notify"
	"github.com/hochfrequenz/factory-coordinator/internal/prompts"
	"github.com/hochfrequenz/factory-coordinator/internal/store"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// backend is a workflow store that owns a connection
type backend interface {
	workflow.Store
	Close() error
}

// app bundles what every command needs
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      backend
	engine     *workflow.Engine
	registry   *prometheus.Registry
	dispatcher *notify.Dispatcher
	relay      *relay
}

// relay lets observers subscribe to the engine after it is built
type relay struct {
	mu        sync.RWMutex
	observers []workflow.Observer
}

func (r *relay) Add(o workflow.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *relay) Observe(res *workflow.Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.Observe(res)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func openStore(cfg config.GeneralConfig) (backend, error) {
	switch cfg.Backend {
	case "redis":
		return store.NewRedisStore(cfg.RedisURL)
	default:
		if dir := dirOf(cfg.DatabasePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return store.New(cfg.DatabasePath)
	}
}

func dirOf(path string) string {
	if path == ":memory:" {
		return ""
	}
	i := strings.LastIndex(path, string(os.PathSeparator))
	if i <= 0 {
		return ""
	}
	return path[:i]
}

// newSender drops signals when they are disabled. Otherwise each signal is
// logged, and posted to the webhook when one is set.
func newSender(cfg config.SignalsConfig, log logrus.FieldLogger) notify.Sender {
	if !cfg.Enabled {
		return notify.NoopSender{}
	}
	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.WebhookURL != "" {
		sender = notify.NewMultiSender(sender,
			notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookKey, cfg.Timeout.Duration))
	}
	return sender
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg.General)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.General.Backend, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher := notify.NewDispatcher(newSender(cfg.Signals, log), log, cfg.Signals.Timeout.Duration)

	rl := &relay{}
	engine := workflow.NewEngine(st,
		workflow.WithLogger(log),
		workflow.WithMetrics(workflow.NewMetrics(reg)),
		workflow.WithStoreTimeout(cfg.General.StoreTimeout.Duration),
		workflow.WithObserver(dispatcher),
		workflow.WithObserver(rl),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      st,
		engine:     engine,
		registry:   reg,
		dispatcher: dispatcher,
		relay:      rl,
	}, nil
}

// interpreter builds the response interpreter for the configured provider.
// Without a provider the keyword fallback does all the work.
func (a *app) interpreter() (*interpret.Interpreter, error) {
	client, err := ai.New(ai.Options{
		Provider:   a.cfg.AI.Provider,
		Model:      a.cfg.AI.Model,
		BaseURL:    a.cfg.AI.BaseURL,
		APIKey:     a.cfg.AI.APIKey,
		MaxTokens:  a.cfg.AI.MaxTokens,
		MaxRetries: a.cfg.AI.MaxRetries,
		Prompts:    prompts.DefaultLoader(a.cfg.Prompts.OverrideDir),
		Log:        a.log,
	})
	if err != nil {
		return nil, err
	}

	var extractor interpret.Extractor
	if client != nil {
		extractor = client
	}
	return interpret.NewInterpreter(extractor,
		interpret.WithTimeout(a.cfg.AI.Timeout.Duration),
		interpret.WithLogger(a.log),
		interpret.WithRegisterer(a.registry),
	), nil
}

// Close waits for in-flight signals, then releases the store
func (a *app) Close() error {
	a.dispatcher.Wait()
	return a.store.Close()
}
