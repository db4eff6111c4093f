// Package app builds the long-lived services from configuration and owns
// their shutdown. It is the only place that knows which backend implements
// each capability.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/api"
	"github.com/JakeFAU/bookmeta/internal/book"
	memorycache "github.com/JakeFAU/bookmeta/internal/cache/memory"
	pgcache "github.com/JakeFAU/bookmeta/internal/cache/postgres"
	"github.com/JakeFAU/bookmeta/internal/config"
	"github.com/JakeFAU/bookmeta/internal/cover"
	"github.com/JakeFAU/bookmeta/internal/detector"
	collyfetcher "github.com/JakeFAU/bookmeta/internal/fetcher/colly"
	"github.com/JakeFAU/bookmeta/internal/hash/sha256"
	"github.com/JakeFAU/bookmeta/internal/id/uuid"
	"github.com/JakeFAU/bookmeta/internal/lookup"
	"github.com/JakeFAU/bookmeta/internal/resolver"
	"github.com/JakeFAU/bookmeta/internal/storage/gcs"
	"github.com/JakeFAU/bookmeta/internal/storage/local"
	memorystore "github.com/JakeFAU/bookmeta/internal/storage/memory"
)

const handlerMargin = 5 * time.Second

// App holds the shared services.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	session book.Session
	cache   book.Cache
	store   book.BlobStore
	lookups *lookup.Orchestrator
	covers  *cover.Resolver
	checks  map[string]api.ReadinessCheck
	closers []func() error
}

// New initializes every service named by cfg, failing fast when a backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, checks: map[string]api.ReadinessCheck{}}

	if err := a.initCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.session = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
	}, detector.NewSoftNotFound())

	res := resolver.New(resolver.Config{
		SearchBase:          cfg.Lookup.SearchBase,
		MaxSearchCandidates: cfg.Lookup.MaxSearchCandidates,
		Timeout:             cfg.HTTP.Timeout,
	}, a.session, a.cache, logger)

	a.lookups = lookup.New(lookup.Config{
		StartDelay:   cfg.Lookup.StartDelay,
		FetchTimeout: cfg.HTTP.Timeout,
		Parsing:      cfg.Parsing.Options(),
	}, res, a.session, a.cache, uuid.New(), logger)

	a.covers = cover.New(cover.Config{
		Timeout: cfg.HTTP.CoverTimeout,
		Prefix:  cfg.Storage.Prefix,
	}, a.lookups, a.cache, a.cache, a.session, a.store, sha256.New(), logger)

	return a, nil
}

func (a *App) initCache(ctx context.Context) error {
	switch a.cfg.Cache.Backend {
	case config.CachePostgres:
		pg := a.cfg.Cache.Postgres
		c, err := pgcache.New(ctx, pgcache.Config{
			DSN:             pg.DSN,
			CoverTable:      pg.CoverTable,
			ISBNTable:       pg.ISBNTable,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init postgres cache: %w", err)
		}
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		if pg.EnsureSchema {
			if err := c.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("init postgres cache: %w", err)
			}
		}
		a.cache = c
		a.checks["cache"] = c.Ping
		a.logger.Info("using postgres cache")
	default:
		a.cache = memorycache.New()
		a.logger.Info("using in-memory cache")
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	st := a.cfg.Storage
	switch st.Backend {
	case config.StorageGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: st.GCS.Bucket, CheckBucket: st.GCS.CheckBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.store = s
		a.logger.Info("storing covers in gcs", zap.String("bucket", st.GCS.Bucket))
	case config.StorageLocal:
		s, err := local.New(local.Config{BaseDir: st.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.store = s
		a.logger.Info("storing covers on disk", zap.String("dir", st.Local.BaseDir))
	case config.StorageMemory:
		a.store = memorystore.NewBlobStore()
		a.logger.Info("storing covers in memory")
	default:
		a.logger.Info("cover storage disabled")
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Lookups returns the lookup orchestrator.
func (a *App) Lookups() *lookup.Orchestrator {
	return a.lookups
}

// Covers returns the cover resolver.
func (a *App) Covers() *cover.Resolver {
	return a.covers
}

// Store returns the configured cover store, or nil when storage is disabled.
func (a *App) Store() book.BlobStore {
	return a.store
}

// Identify runs a metadata lookup into sink.
func (a *App) Identify(ctx context.Context, req book.LookupRequest, sink book.Sink) error {
	return a.lookups.Identify(ctx, req, sink)
}

// Download fetches the cover for req.
func (a *App) Download(ctx context.Context, req book.LookupRequest) (*cover.Result, error) {
	return a.covers.Download(ctx, req)
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.Server().Handler()
}

// Server builds the HTTP API over the app's services. Handlers time out
// shortly before the server's write deadline so clients still get a response.
func (a *App) Server() *api.Server {
	timeout := a.cfg.Server.WriteTimeout - handlerMargin
	if timeout <= 0 {
		timeout = a.cfg.Server.WriteTimeout
	}
	return api.NewServer(api.Config{RequestTimeout: timeout}, a.lookups, a.covers, a.checks, a.logger)
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
