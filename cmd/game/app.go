package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/config"
	"github.com/tatianab/trainer-tales/internal/dexcache"
	"github.com/tatianab/trainer-tales/internal/encounter"
	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/orchestrator"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/sessionlock"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/file"
	"github.com/tatianab/trainer-tales/internal/storage/sqlite"
)

// app holds the process-wide components. Commands build only what they need.
type app struct {
	validator *schema.Validator
	store     storage.Store
	locks     *sessionlock.Locker
	memory    *dexcache.Memory
	source    dexcache.Source

	gemini *engine.Gemini
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	v, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load session schema: %w", err)
	}
	store, err := openStore(cfg, v, logger)
	if err != nil {
		return nil, err
	}
	return &app{
		validator: v,
		store:     store,
		locks:     sessionlock.New(),
		memory:    dexcache.NewMemory(cfg.MemoryCacheSize),
		source:    dexcache.NewHTTPSource(cfg.DexBaseURL),
	}, nil
}

func openStore(cfg *config.Config, v *schema.Validator, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return sqlite.Open(cfg.SQLitePath, v, logger)
	default:
		return file.Open(cfg.SaveDir, v, logger)
	}
}

func (a *app) Close() error {
	var errs []error
	if a.gemini != nil {
		errs = append(errs, a.gemini.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func (a *app) dexService(logger *zap.Logger) *dexcache.Service {
	return dexcache.NewService(a.store, a.locks, a.memory, a.source, logger)
}

// orchestrator connects to the model and wires a turn orchestrator.
func (a *app) orchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(cfg.EncounterCatalog)
	if err != nil {
		return nil, err
	}
	gemini, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	a.gemini = gemini

	gen := engine.WithRetry(timeoutGenerator(gemini, cfg.GenerationTimeout), engine.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Initial:     cfg.RetryInitial,
	}, logger)
	eng, err := engine.New(gen, logger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(&orchestrator.Config{
		Store:     a.store,
		Validator: a.validator,
		Agents:    eng,
		Encounter: encounter.New(catalog),
		Locks:     a.locks,
		Canon:     dexcache.NewResolver(a.memory, a.source, logger),
		Memory:    a.memory,
		CachePolicy: models.CachePolicy{
			TTLHours:          cfg.CacheTTLHours,
			MaxEntriesPerKind: cfg.CacheMaxEntries,
		},
		Logger: logger,
	})
}

func loadCatalog(path string) (*encounter.Catalog, error) {
	if path == "" {
		return encounter.DefaultCatalog()
	}
	return encounter.LoadCatalog(path)
}

// timeoutGenerator bounds each generation attempt.
func timeoutGenerator(gen engine.Generator, timeout time.Duration) engine.Generator {
	if timeout <= 0 {
		return gen
	}
	return engine.GeneratorFunc(func(ctx context.Context, req engine.Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return gen.Generate(ctx, req)
	})
}
