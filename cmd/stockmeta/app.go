package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/metrics"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
	"github.com/ubuygold/stockmeta/internal/trends"
)

// app wires the services shared by the server and the CLI commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       db.Service
	keys     *keymanager.KeyManager
	gen      *generator.Generator
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	sessions *runner.Registry
	trends   *trends.Service
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	database, err := db.NewService(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	km, err := keymanager.NewKeyManager(database, cfg.Credentials, log)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("error creating key manager: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       database,
		keys:     km,
		gen:      generator.New(cfg.Generator, log),
		registry: reg,
		metrics:  m,
	}
	a.sessions = runner.NewRegistry(a.newRunner)
	a.trends = trends.NewService(database, keymanager.AdminSource(km), a.gen, log, m)
	return a, nil
}

func (a *app) newRunner(ownerID uint) *runner.Runner {
	queue := runner.NewQueue(a.cfg.Runner.MaxQueueItems)
	return runner.New(queue, keymanager.UserSource(a.keys, ownerID), a.gen, a.log.With("user_id", ownerID), a.metrics)
}

// userByEmail resolves the --user flag of CLI commands.
func (a *app) userByEmail(email string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("--user is required")
	}
	user, err := a.db.FindUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", email, err)
	}
	return user, nil
}

func (a *app) close() {
	a.sessions.StopAll()
	a.keys.Close()
	if err := a.db.Close(); err != nil {
		a.log.Error("Error closing database", "error", err)
	}
}

// withApp loads configuration, builds the app and runs fn with it.
func (c *commandContext) withApp(fn func(ctx context.Context, a *app) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cfg, log, err := c.load()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}
}
