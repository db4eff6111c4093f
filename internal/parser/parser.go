// Package parser turns databazeknih.cz detail pages into book records.
//
// Extraction is driven by a table of rules (see rules.go). Each rule locates
// nodes with XPath, normalizes the matched text and assigns it to the record.
// Rules run in isolation: a failing or panicking rule leaves its field empty
// and never prevents the remaining rules from running.
package parser

import (
	"bytes"
	"context"
	"fmt"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/bookmeta/internal/book"
)

// Options toggles optional extraction steps. A disabled step is skipped
// entirely rather than attempted and discarded.
type Options struct {
	ParseSeries    bool
	ParseComments  bool
	ParseRating    bool
	AddIdentifier  bool
	VerboseLogging bool
}

// DefaultOptions mirrors the shipped configuration defaults.
func DefaultOptions() Options {
	return Options{
		ParseSeries:   true,
		ParseComments: true,
		ParseRating:   true,
		AddIdentifier: true,
	}
}

// Parser extracts records from parsed documents.
type Parser struct {
	opts   Options
	covers book.CoverURLCache
	isbns  book.ISBNCache
	rules  []Rule
	logger *zap.Logger
}

// New constructs a Parser. Either cache may be nil, in which case the
// corresponding best-effort write is skipped.
func New(opts Options, covers book.CoverURLCache, isbns book.ISBNCache, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		opts:   opts,
		covers: covers,
		isbns:  isbns,
		rules:  DefaultRules(),
		logger: logger,
	}
}

// Documents groups the inputs of a single parse.
type Documents struct {
	URL           string
	Primary       *html.Node
	Supplementary *html.Node
}

// ParseDocument parses raw HTML.
func ParseDocument(body []byte) (*html.Node, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("parse document: %w: empty body", book.ErrMalformed)
	}
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w: %v", book.ErrMalformed, err)
	}
	return doc, nil
}

// Parse runs the required rules, checks that title, authors and identifier
// are present, then runs every optional rule. It returns book.ErrIncompleteRecord
// when a required field is missing.
func (p *Parser) Parse(ctx context.Context, docs Documents) (book.Record, error) {
	a := &assembly{
		ctx:    ctx,
		parser: p,
		docs:   docs,
		record: book.Record{Identifiers: map[string]string{}},
		logger: p.logger.With(zap.String("url", docs.URL)),
	}

	for _, rule := range p.rules {
		if rule.Required {
			a.run(rule)
		}
	}
	if !a.record.Complete() {
		a.logger.Error("could not find title/authors/identifier",
			zap.String("identifier", a.record.Identifier),
			zap.String("title", a.record.Title),
			zap.Strings("authors", a.record.Authors),
		)
		return book.Record{}, fmt.Errorf("parse %s: %w", docs.URL, book.ErrIncompleteRecord)
	}

	for _, rule := range p.rules {
		if !rule.Required {
			a.run(rule)
		}
	}

	if p.opts.AddIdentifier {
		a.record.Identifiers[book.IdentifierName] = a.record.Identifier
	}
	return a.record, nil
}

// assembly is the per-parse state threaded through rules.
type assembly struct {
	ctx    context.Context
	parser *Parser
	docs   Documents
	record book.Record
	logger *zap.Logger
}

func (a *assembly) run(rule Rule) {
	if rule.Enabled != nil && !rule.Enabled(a.parser.opts) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("field extraction panicked", zap.String("field", rule.Field), zap.Any("panic", r))
		}
	}()

	m, ok, err := a.locate(rule)
	if err != nil {
		a.logger.Warn("field locator failed", zap.String("field", rule.Field), zap.Error(err))
		return
	}
	if !ok {
		a.debug("field not present", zap.String("field", rule.Field))
		return
	}
	if err := rule.Assign(a, m); err != nil {
		a.logger.Warn("field extraction failed", zap.String("field", rule.Field), zap.Error(err))
		return
	}
	a.debug("field parsed", zap.String("field", rule.Field), zap.Strings("values", m.Values))
}

func (a *assembly) locate(rule Rule) (Match, bool, error) {
	if rule.Source == SourceURL {
		id := book.IdentifierFromURL(a.docs.URL)
		if id == "" {
			return Match{}, false, nil
		}
		return Match{Values: []string{id}}, true, nil
	}

	doc := a.docs.Primary
	if rule.Source == SourceSupplementary {
		doc = a.docs.Supplementary
	}
	if doc == nil {
		return Match{}, false, nil
	}

	values, err := texts(doc, rule.Locator)
	if err != nil {
		return Match{}, false, err
	}
	if len(values) == 0 && rule.Fallback != "" {
		if values, err = texts(doc, rule.Fallback); err != nil {
			return Match{}, false, err
		}
	}
	if len(values) == 0 {
		return Match{}, false, nil
	}

	m := Match{Values: values}
	for _, expr := range rule.Related {
		related, err := texts(doc, expr)
		if err != nil {
			return Match{}, false, err
		}
		m.Related = append(m.Related, related)
	}
	return m, true, nil
}

func (a *assembly) debug(msg string, fields ...zap.Field) {
	if a.parser.opts.VerboseLogging {
		a.logger.Debug(msg, fields...)
	}
}

// texts evaluates expr and returns the inner text of every match, in document order.
func texts(doc *html.Node, expr string) ([]string, error) {
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, htmlquery.InnerText(n))
	}
	return out, nil
}
