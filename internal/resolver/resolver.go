// Package resolver turns a lookup request into an ordered list of detail-page candidates.
package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/isbn"
	"github.com/JakeFAU/bookmeta/internal/metrics"
	"github.com/JakeFAU/bookmeta/internal/parser"
)

const (
	// DefaultSearchBase scopes a web search to the catalog domain. The query is appended verbatim.
	DefaultSearchBase = "https://www.google.com/search?q=site:databazeknih.cz+"
	// DefaultMaxSearchCandidates caps the number of search-derived candidates.
	// Larger configured values are clamped to it.
	DefaultMaxSearchCandidates = 2

	searchResultLinks = "//div[@class='g']//a/@href"
	placeholderHref   = "#"
)

var plusRun = regexp.MustCompile(`\+{2,}`)

// Config controls candidate discovery.
type Config struct {
	SearchBase          string
	MaxSearchCandidates int
	Timeout             time.Duration
}

// Resolver discovers candidate detail pages for a request.
type Resolver struct {
	cfg     Config
	session book.Session
	isbns   book.ISBNCache
	logger  *zap.Logger
}

// New constructs a Resolver. The session is used as a template and is never fetched from directly.
func New(cfg Config, session book.Session, isbns book.ISBNCache, logger *zap.Logger) *Resolver {
	if cfg.SearchBase == "" {
		cfg.SearchBase = DefaultSearchBase
	}
	if cfg.MaxSearchCandidates <= 0 || cfg.MaxSearchCandidates > DefaultMaxSearchCandidates {
		cfg.MaxSearchCandidates = DefaultMaxSearchCandidates
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, session: session, isbns: isbns, logger: logger.Named("resolver")}
}

// Resolve returns candidates in rank order: the direct identifier first, then
// search results. An empty list means no match. Cancellation returns the
// candidates collected so far.
func (r *Resolver) Resolve(ctx context.Context, req book.LookupRequest) []book.Candidate {
	var candidates []book.Candidate

	if id := r.Identifier(ctx, req); id != "" {
		r.logger.Info("found direct identifier", zap.String("url", book.CanonicalURL(id)))
		candidates = append(candidates, book.Candidate{URL: book.CanonicalURL(id), Rank: 0})
		metrics.ObserveCandidates("identifier", 1)
	}

	if ctx.Err() != nil {
		return candidates
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return candidates
	}

	found := r.search(ctx, req, title)
	for _, href := range found {
		candidates = append(candidates, book.Candidate{URL: href, Rank: len(candidates)})
	}
	metrics.ObserveCandidates("search", len(found))
	return candidates
}

// Identifier returns the request's direct identifier, falling back to the
// identifier cached for its ISBN.
func (r *Resolver) Identifier(ctx context.Context, req book.LookupRequest) string {
	if id := strings.TrimSpace(req.Identifier); id != "" {
		return id
	}
	if r.isbns == nil || req.ISBN == "" {
		return ""
	}
	normalized := isbn.Normalize(req.ISBN)
	if normalized == "" {
		r.logger.Debug("ignoring invalid isbn", zap.String("isbn", req.ISBN))
		return ""
	}
	id, ok, err := r.isbns.IdentifierByISBN(ctx, normalized)
	if err != nil {
		r.logger.Warn("isbn cache lookup failed", zap.String("isbn", normalized), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (r *Resolver) search(ctx context.Context, req book.LookupRequest, title string) []string {
	searchURL := r.cfg.SearchBase + url.QueryEscape(SearchQuery(title, req.Authors))
	log := r.logger.With(zap.String("url", searchURL))
	log.Info("searching", zap.String("title", title), zap.Strings("authors", req.Authors))

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	body, err := r.session.Clone().Fetch(ctx, searchURL, timeout)
	if err != nil {
		log.Warn("search fetch failed", zap.Error(err))
		return nil
	}
	doc, err := parser.ParseDocument(body)
	if err != nil {
		log.Warn("search page unparseable", zap.Error(err))
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, searchResultLinks)
	if err != nil {
		log.Warn("search result query failed", zap.Error(err))
		return nil
	}

	var hrefs []string
	for _, n := range nodes {
		href := strings.TrimSpace(htmlquery.InnerText(n))
		if href == "" || href == placeholderHref {
			continue
		}
		hrefs = append(hrefs, href)
		if len(hrefs) == r.cfg.MaxSearchCandidates {
			break
		}
	}
	log.Info("search matches", zap.Strings("urls", hrefs))
	return hrefs
}

// SearchQuery joins the first author's tokens and the title's tokens with '+'.
// Hyphens in the title count as separators.
func SearchQuery(title string, authors []string) string {
	query := strings.NewReplacer(" ", "+", "-", "+").Replace(strings.TrimSpace(title))
	if len(authors) > 0 {
		if author := strings.TrimSpace(authors[0]); author != "" {
			query = strings.ReplaceAll(author, " ", "+") + "+" + query
		}
	}
	return CollapsePlus(query)
}

// CollapsePlus replaces every run of two or more '+' with a single '+'.
func CollapsePlus(s string) string {
	return plusRun.ReplaceAllString(s, "+")
}
