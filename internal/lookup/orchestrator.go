// Package lookup runs one metadata lookup: resolve candidates, scrape each in
// its own goroutine and wait for them while honoring cancellation.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/metrics"
	"github.com/JakeFAU/bookmeta/internal/parser"
	"github.com/JakeFAU/bookmeta/internal/ratelimit"
	"github.com/JakeFAU/bookmeta/internal/worker"
)

// ErrInvalidRequest reports a malformed lookup request.
var ErrInvalidRequest = errors.New("invalid lookup request")

// Defaults for Config.
const (
	DefaultStartDelay = time.Second
)

// Resolver produces ranked candidates for a request.
type Resolver interface {
	Resolve(ctx context.Context, req book.LookupRequest) []book.Candidate
}

// Config controls worker scheduling.
type Config struct {
	StartDelay   time.Duration
	FetchTimeout time.Duration
	Parsing      parser.Options
}

// Orchestrator coordinates lookups. It is safe for concurrent use; every
// Identify call gets its own workers, parser and start schedule.
type Orchestrator struct {
	cfg      Config
	resolver Resolver
	session  book.Session
	cache    book.Cache
	ids      book.IDGenerator
	logger   *zap.Logger
}

// New constructs an Orchestrator. cache and ids may be nil.
func New(
	cfg Config,
	resolver Resolver,
	session book.Session,
	cache book.Cache,
	ids book.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = worker.DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		session:  session,
		cache:    cache,
		ids:      ids,
		logger:   logger.Named("lookup"),
	}
}

// Identify scrapes every candidate for req and pushes complete records to
// sink. It returns once all workers finish or ctx is canceled; workers still
// in flight after cancellation finish in the background. Only a malformed
// request is reported as an error.
func (o *Orchestrator) Identify(ctx context.Context, req book.LookupRequest, sink book.Sink) error {
	if req.Timeout < 0 {
		return fmt.Errorf("identify: %w: negative timeout", ErrInvalidRequest)
	}
	if sink == nil {
		return fmt.Errorf("identify: %w: nil sink", ErrInvalidRequest)
	}

	log := o.logger.With(zap.String("lookup_id", o.lookupID()))
	metrics.ObserveLookup(mode(req))

	candidates := o.resolver.Resolve(ctx, req)
	if ctx.Err() != nil {
		log.Info("lookup canceled before scraping", zap.Int("candidates", len(candidates)))
		return nil
	}
	if len(candidates) == 0 {
		log.Info("no candidates", zap.String("title", req.Title), zap.String("identifier", req.Identifier))
		return nil
	}
	log.Info("scraping candidates", zap.Int("candidates", len(candidates)))

	timeout := req.Timeout
	if timeout == 0 {
		timeout = o.cfg.FetchTimeout
	}
	p := parser.New(o.cfg.Parsing, o.cache, o.cache, log)
	stagger := ratelimit.NewStagger(o.cfg.StartDelay)

	var g errgroup.Group
	started := 0
	for _, c := range candidates {
		if err := stagger.Wait(ctx); err != nil {
			log.Info("stopped starting workers", zap.Int("started", started), zap.Error(err))
			break
		}
		w := worker.New(c, o.session, p, sink, worker.Config{Timeout: timeout}, log)
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
		started++
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	waitForWorkers(ctx, done, log)
	return nil
}

func waitForWorkers(ctx context.Context, done <-chan struct{}, log *zap.Logger) {
	select {
	case <-done:
		log.Debug("all workers finished")
	case <-ctx.Done():
		log.Info("lookup canceled while waiting for workers")
	}
}

func (o *Orchestrator) lookupID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("lookup id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func mode(req book.LookupRequest) string {
	switch {
	case req.Identifier != "":
		return "identifier"
	case req.Title != "":
		return "search"
	case req.ISBN != "":
		return "isbn"
	default:
		return "empty"
	}
}
