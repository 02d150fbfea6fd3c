// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the chat backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"pocketllm/config"
	"pocketllm/internal/cache"
	"pocketllm/internal/core"
	"pocketllm/internal/engine"
	"pocketllm/internal/inference"
	"pocketllm/internal/server"
	"pocketllm/internal/session"
	"pocketllm/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	storage  storage.Storage
	sessions core.SessionStore
	cache    core.ResponseCache
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{
		config: cfg,
	}

	store, err := storage.New(ctx, storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL: cfg.Storage.PostgresURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = store

	sessions, err := session.New(ctx, store)
	if err != nil {
		closeErr := app.closeStorage()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w (also: storage close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	app.sessions = sessions

	responseCache, err := buildCache(cfg.Cache)
	if err != nil {
		closeErr := errors.Join(app.sessions.Close(), app.closeStorage())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = responseCache

	engineClient := engine.New(engine.Config{
		BaseURL:     cfg.Engine.BaseURL,
		Model:       cfg.Engine.Model,
		MaxTokens:   cfg.Engine.MaxTokens,
		Temperature: cfg.Engine.Temperature,
		TopP:        cfg.Engine.TopP,
		ContextSize: cfg.Engine.ContextSize,
		BatchSize:   cfg.Engine.BatchSize,
	}, nil)

	orchestrator := inference.New(sessions, responseCache, engineClient, inference.Options{
		SystemPromptPath:   cfg.Chat.SystemPromptPath,
		HistoryBudget:      cfg.Chat.HistoryTokenBudget,
		CacheEnabled:       cfg.Cache.Enabled,
		DefaultMaxTokens:   cfg.Engine.MaxTokens,
		DefaultTemperature: cfg.Engine.Temperature,
		ReplayPause:        cfg.Chat.ReplayPause,
	})

	app.logStartupInfo()

	app.server = server.New(orchestrator, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	return app, nil
}

// buildCache constructs the configured response cache backend. A disabled
// cache yields nil; the orchestrator treats every lookup as a miss.
func buildCache(cfg config.CacheConfig) (core.ResponseCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisCache(cfg.RedisURL, cfg.TTL)
	case "memory", "":
		return cache.NewMemoryCache(cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown via server.Shutdown(ctx), honoring the passed context timeout/cancellation.
// 2. Response cache close (releases the redis connection when configured).
// 3. Session store close.
// 4. Storage close (the owning database connection or pool).
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Close the response cache
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	// 3. Close the session store
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			slog.Error("session store close error", "error", err)
			errs = append(errs, fmt.Errorf("session store close: %w", err))
		}
	}

	// 4. Close storage (the owning connection)
	if err := a.closeStorage(); err != nil {
		slog.Error("storage close error", "error", err)
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeStorage() error {
	if a.storage == nil {
		return nil
	}
	return a.storage.Close()
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set MASTER_KEY environment variable to secure this backend")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	// Metrics configuration
	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)

	if cfg.Cache.Enabled {
		slog.Info("response cache enabled",
			"backend", cfg.Cache.Backend,
			"ttl", cfg.Cache.TTL,
		)
	} else {
		slog.Info("response cache disabled")
	}

	slog.Info("engine configured",
		"url", cfg.Engine.BaseURL,
		"max_tokens", cfg.Engine.MaxTokens,
		"temperature", cfg.Engine.Temperature,
		"context_size", cfg.Engine.ContextSize,
	)
}
