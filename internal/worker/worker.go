// Package worker scrapes a single candidate detail page into a record.
package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/metrics"
	"github.com/JakeFAU/bookmeta/internal/parser"
)

// State is a step of the scrape state machine.
type State int

// Worker states. Emitted, Empty and Failed are terminal.
const (
	StateCreated State = iota
	StateFetchingPrimary
	StateFetchingSupplementary
	StateParsing
	StateEmitted
	StateEmpty
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFetchingPrimary:
		return "fetching_primary"
	case StateFetchingSupplementary:
		return "fetching_supplementary"
	case StateParsing:
		return "parsing"
	case StateEmitted:
		return "emitted"
	case StateEmpty:
		return "empty"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s >= StateEmitted
}

const (
	// DefaultTimeout bounds each fetch when the request sets none.
	DefaultTimeout = 20 * time.Second

	supplementaryKey  = "//span[@id='abinfo']/@bid"
	supplementaryPath = "books/book-detail-more-info-ajax.php?bid="
)

// Config controls a Worker.
type Config struct {
	Timeout time.Duration
	BaseURL string
}

// Worker scrapes one candidate. It is single-use.
type Worker struct {
	candidate book.Candidate
	session   book.Session
	parser    *parser.Parser
	sink      book.Sink
	cfg       Config
	logger    *zap.Logger
	state     State
}

// New constructs a Worker. The session is cloned so concurrent workers never
// share cookie state.
func New(
	candidate book.Candidate,
	template book.Session,
	p *parser.Parser,
	sink book.Sink,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = book.BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		candidate: candidate,
		session:   template.Clone(),
		parser:    p,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With(zap.String("url", candidate.URL), zap.Int("rank", candidate.Rank)),
		state:     StateCreated,
	}
}

// Run drives the worker to a terminal state and returns it. Fetches are
// detached from ctx cancellation and end only on completion or timeout.
// A panic anywhere in the scrape ends the worker as Failed.
func (w *Worker) Run(ctx context.Context) (state State) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked", zap.Any("panic", r))
			w.finish(StateFailed)
			state = w.state
		}
	}()

	fetchCtx := context.WithoutCancel(ctx)
	w.finish(w.run(fetchCtx))
	return w.state
}

func (w *Worker) run(ctx context.Context) State {
	w.state = StateFetchingPrimary
	primary, err := w.fetch(ctx, w.candidate.URL)
	if err != nil {
		w.logger.Error("cannot fetch detail page", zap.Error(err))
		return StateFailed
	}

	docs := parser.Documents{URL: w.candidate.URL, Primary: primary}
	if key := supplementaryID(primary); key != "" {
		w.state = StateFetchingSupplementary
		moreURL := w.cfg.BaseURL + supplementaryPath + key
		if more, err := w.fetch(ctx, moreURL); err != nil {
			w.logger.Warn("supplementary fetch failed", zap.String("more_info_url", moreURL), zap.Error(err))
		} else {
			docs.Supplementary = more
		}
	}

	w.state = StateParsing
	record, err := w.parser.Parse(ctx, docs)
	if err != nil {
		if errors.Is(err, book.ErrIncompleteRecord) {
			return StateEmpty
		}
		w.logger.Error("parse failed", zap.Error(err))
		return StateFailed
	}
	record.Relevance = w.candidate.Rank
	w.sink.Put(record)
	return StateEmitted
}

func (w *Worker) finish(state State) {
	w.state = state
	metrics.ObserveWorkerOutcome(state.String())
	w.logger.Debug("worker finished", zap.Stringer("state", state))
}

func (w *Worker) fetch(ctx context.Context, rawURL string) (*html.Node, error) {
	body, err := w.session.Fetch(ctx, rawURL, w.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return parser.ParseDocument(body)
}

func supplementaryID(doc *html.Node) string {
	node, err := htmlquery.Query(doc, supplementaryKey)
	if err != nil || node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}
