// Package app owns the long-lived application state shared by the HTTP layer:
// the loaded configuration and the annotation data store.
package app

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-annotator/internal/annotation"
	"github.com/JakeFAU/page-annotator/internal/config"
)

// App holds the current config and store behind a lock. Reload builds a
// complete replacement and swaps it in atomically; readers always observe
// either the old state or the new one, never a mix.
type App struct {
	configPath string
	logger     *zap.Logger

	mu    sync.RWMutex
	cfg   *config.Config
	store *annotation.Store
}

// New loads the configuration and constructs the initial store. Any failure
// is fatal: the service never starts with an invalid store.
func New(configPath string, logger *zap.Logger) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := annotation.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("load data store: %w", err)
	}
	logger.Info("data store loaded",
		zap.String("data_file", cfg.DataFile),
		zap.Int("entries", store.Len()),
	)
	return &App{
		configPath: configPath,
		logger:     logger,
		cfg:        cfg,
		store:      store,
	}, nil
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Store returns the current data store. Callers should grab the handle once
// per request so a concurrent reload cannot split their view.
func (a *App) Store() *annotation.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

// Reload re-reads the configuration and dataset from disk and swaps both in
// atomically. The previous state stays live when any part of the rebuild
// fails.
func (a *App) Reload() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	store, err := annotation.New(cfg)
	if err != nil {
		return fmt.Errorf("reload data store: %w", err)
	}
	a.mu.Lock()
	a.cfg = cfg
	a.store = store
	a.mu.Unlock()
	a.logger.Info("application state reloaded", zap.Int("entries", store.Len()))
	return nil
}
