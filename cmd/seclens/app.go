package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/executor"
	"github.com/seclens/seclens/pkg/llms"
	"github.com/seclens/seclens/pkg/observability"
	"github.com/seclens/seclens/pkg/orchestrator"
	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/resolver"
)

// app holds the wired collaborators for one process.
type app struct {
	cfg          *config.Config
	store        registry.Store
	resolver     *resolver.Resolver
	executor     *executor.Executor
	provider     llms.Provider
	orchestrator *orchestrator.Orchestrator

	db            *sql.DB
	shutdownTrace func(context.Context) error
}

// driverNames maps config driver names onto database/sql driver names.
var driverNames = map[string]string{
	"sqlite":   "sqlite3",
	"postgres": "postgres",
	"mysql":    "mysql",
}

// newApp wires the full stack from config.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	_, shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
		Enabled:  cfg.Observability.TracingEnabled,
		Endpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.shutdownTrace = shutdown

	if _, err := observability.InitMetrics(cfg.Observability.MetricsEnabled); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	if cfg.Database.Driver != "" {
		db, err := sql.Open(driverNames[cfg.Database.Driver], cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store, err := registry.NewSQLStore(db, cfg.Database.Driver)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.store = store
	} else {
		store, err := cfg.Tools.BuildStore()
		if err != nil {
			return nil, fmt.Errorf("invalid tools section: %w", err)
		}
		a.store = store
	}

	a.provider, err = llms.NewProvider(cfg.Model)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.resolver = resolver.New(a.store, slog.Default())
	a.executor = executor.New(executor.WithLogger(slog.Default()))
	a.orchestrator = orchestrator.New(a.provider, a.executor, a.resolver, cfg.Orchestrator, slog.Default())
	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.shutdownTrace != nil {
		_ = a.shutdownTrace(context.Background())
	}
}
