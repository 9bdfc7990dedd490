package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/config"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/engine"
	"github.com/haukened/rr-shield/internal/shield/gateways/fetch"
	"github.com/haukened/rr-shield/internal/shield/repos/enginecache"
	"github.com/haukened/rr-shield/internal/shield/repos/sources"
	"github.com/haukened/rr-shield/internal/shield/services/shield"
	"github.com/haukened/rr-shield/internal/shield/session"
)

// Application holds all the components of the shield host
type Application struct {
	config  *config.AppConfig
	logger  log.Logger
	sources domain.RuleSourceSet
	codec   *engine.Codec
	cache   *enginecache.Store
	manager *shield.Manager
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	set, err := sources.Resolve(cfg.SourcesFile, cfg.URLs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rule sources: %w", err)
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:   cfg.FetchTimeout,
		MaxBytes:  cfg.MaxListBytes,
		UserAgent: appName + "/" + version,
		Logger:    logger,
	})

	codec, err := engine.NewCodec(engine.CodecOptions{
		Fetcher:     fetcher,
		Compression: cfg.Compression,
		Engine: engine.Options{
			DecisionCacheSize: cfg.DecisionCacheSize,
			BloomFPRate:       cfg.BloomFPRate,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine codec: %w", err)
	}

	cache, err := enginecache.New(enginecache.Options{
		Path:   cfg.CachePath(),
		Codec:  codec,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine cache: %w", err)
	}

	manager, err := shield.NewManager(shield.Options{
		Compiler:       codec,
		Cache:          cache,
		Sources:        set,
		UpdateInterval: cfg.UpdateInterval,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build shield manager: %w", err)
	}

	return &Application{
		config:  cfg,
		logger:  logger,
		sources: set,
		codec:   codec,
		cache:   cache,
		manager: manager,
	}, nil
}

// Run enables filtering on the default session and keeps the engine fresh
// until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer func() { _ = a.manager.Close() }()

	def := session.NewMemory("default")
	if err := a.manager.Enable(ctx, def); err != nil {
		// fail open: the host keeps running unfiltered
		a.logger.Warn(map[string]any{"error": err}, "Filtering unavailable for default session")
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.config.WatchSources && a.config.SourcesFile != "" {
		w, err := sources.NewWatcher(sources.WatchOptions{
			Path:     a.config.SourcesFile,
			OnChange: func() { a.reloadSources(gctx, def) },
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// reloadSources re-reads the sources file and rebuilds the engine from it.
// When no engine was ever acquired, it retries enabling def instead.
func (a *Application) reloadSources(ctx context.Context, def domain.Session) {
	set, err := sources.LoadFile(a.config.SourcesFile)
	if err != nil {
		a.logger.Warn(map[string]any{"path": a.config.SourcesFile, "error": err}, "Ignoring invalid sources file")
		return
	}
	if err := a.manager.SetSources(set); err != nil {
		a.logger.Warn(map[string]any{"error": err}, "Failed to apply rule sources")
		return
	}
	err = a.manager.UpdateListsNow(ctx)
	switch {
	case err == nil:
	case errors.Is(err, shield.ErrNotReady):
		if err := a.manager.Enable(ctx, def); err != nil {
			a.logger.Warn(map[string]any{"error": err}, "Filtering still unavailable for default session")
		}
	default:
		a.logger.Warn(map[string]any{"error": err}, "Rebuild after sources change failed")
	}
}
