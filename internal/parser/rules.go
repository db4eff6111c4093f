package parser

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/isbn"
)

// Source selects the document a rule reads from.
type Source int

// Rule sources.
const (
	SourceURL Source = iota
	SourcePrimary
	SourceSupplementary
)

// Match carries the values a rule located. Related holds one slice per
// Rule.Related expression, in order.
type Match struct {
	Values  []string
	Related [][]string
}

// Rule is one row of the extraction table.
type Rule struct {
	Field    string
	Source   Source
	Locator  string
	Fallback string
	Related  []string
	Required bool
	Enabled  func(Options) bool
	Assign   func(a *assembly, m Match) error
}

// Series links point at series pages; the info node means something else otherwise.
const seriesMarker = "serie"

// DefaultRules returns the extraction table for databazeknih.cz. Required rules
// come first so optional rules (cover, ISBN) can rely on the identifier.
func DefaultRules() []Rule {
	return []Rule{
		{
			Field:    "identifier",
			Source:   SourceURL,
			Required: true,
			Assign: func(a *assembly, m Match) error {
				a.record.Identifier = strings.TrimSpace(m.Values[0])
				return nil
			},
		},
		{
			Field:    "title",
			Source:   SourcePrimary,
			Locator:  "//h1[@itemprop='name']/text()",
			Required: true,
			Assign: func(a *assembly, m Match) error {
				a.record.Title = CleanTitle(m.Values[0])
				return nil
			},
		},
		{
			Field:    "authors",
			Source:   SourcePrimary,
			Locator:  "//h2[@class='jmenaautoru']/span[@itemprop='author']/a/text()",
			Required: true,
			Assign: func(a *assembly, m Match) error {
				a.record.Authors = nonEmpty(m.Values)
				return nil
			},
		},
		{
			Field:   "series",
			Source:  SourcePrimary,
			Locator: "//em[@class='info']/../a/text()",
			Related: []string{
				"//em[@class='info']/../a/@href",
				"//em[@class='info']/text()",
			},
			Enabled: func(o Options) bool { return o.ParseSeries },
			Assign:  assignSeries,
		},
		{
			Field:    "comments",
			Source:   SourcePrimary,
			Locator:  "//p[@itemprop='description']/span/text()",
			Fallback: "//p[@itemprop='description']/text()",
			Enabled:  func(o Options) bool { return o.ParseComments },
			Assign: func(a *assembly, m Match) error {
				a.record.Comments = CommentsToHTML(strings.Join(m.Values, "\r\n"))
				return nil
			},
		},
		{
			Field:   "publisher",
			Source:  SourcePrimary,
			Locator: "//span[@itemprop='publisher']/a/text()",
			Assign: func(a *assembly, m Match) error {
				a.record.Publisher = strings.TrimSpace(m.Values[0])
				return nil
			},
		},
		{
			Field:   "pubdate",
			Source:  SourcePrimary,
			Locator: "//span[@itemprop='datePublished']/text()",
			Assign: func(a *assembly, m Match) error {
				date, err := ParseDate(m.Values[0])
				if err != nil {
					return err
				}
				a.record.PubDate = &date
				return nil
			},
		},
		{
			Field:   "tags",
			Source:  SourcePrimary,
			Locator: "//h5[@itemprop='genre']/a/text()",
			Assign: func(a *assembly, m Match) error {
				a.record.Tags = nonEmpty(m.Values)
				return nil
			},
		},
		{
			Field:   "rating",
			Source:  SourcePrimary,
			Locator: "//a[@class='bpoints']/div/text()",
			Enabled: func(o Options) bool { return o.ParseRating },
			Assign: func(a *assembly, m Match) error {
				a.record.Rating = Rating(m.Values[0])
				return nil
			},
		},
		{
			Field:   "isbn",
			Source:  SourceSupplementary,
			Locator: "//span[@itemprop='isbn']/text()",
			Assign:  assignISBN,
		},
		{
			Field:   "language",
			Source:  SourceSupplementary,
			Locator: "//span[@itemprop='language']/text()",
			Assign: func(a *assembly, m Match) error {
				a.record.Languages = append(a.record.Languages, LanguageCode(m.Values[0]))
				return nil
			},
		},
		{
			Field:   "cover",
			Source:  SourcePrimary,
			Locator: "//*[@id='icover_mid']//img[@class='kniha_img']/@src",
			Assign:  assignCover,
		},
	}
}

func assignSeries(a *assembly, m Match) error {
	hrefs, infos := m.Related[0], m.Related[1]
	if len(hrefs) == 0 || !strings.Contains(hrefs[0], seriesMarker) || len(infos) == 0 {
		a.debug("series info is not a series link", zap.Strings("hrefs", hrefs))
		return nil
	}
	a.record.Series = strings.TrimSpace(m.Values[0])
	a.record.SeriesIndex = SeriesIndex(infos[0])
	return nil
}

func assignISBN(a *assembly, m Match) error {
	normalized := isbn.Normalize(m.Values[0])
	if normalized == "" {
		a.debug("isbn failed validation", zap.String("raw", m.Values[0]))
		return nil
	}
	a.record.ISBN = normalized
	a.record.Identifiers["isbn"] = normalized
	if cache := a.parser.isbns; cache != nil {
		if err := cache.SetIdentifierByISBN(a.ctx, normalized, a.record.Identifier); err != nil {
			a.logger.Debug("isbn cache write failed", zap.Error(err))
		}
	}
	return nil
}

func assignCover(a *assembly, m Match) error {
	coverURL := absoluteURL(strings.TrimSpace(m.Values[0]))
	if coverURL == "" {
		return nil
	}
	a.record.CoverURL = coverURL
	a.record.HasCover = true
	if cache := a.parser.covers; cache != nil {
		if err := cache.SetCoverURL(a.ctx, a.record.Identifier, coverURL); err != nil {
			a.logger.Debug("cover cache write failed", zap.Error(err))
		}
	}
	return nil
}

func absoluteURL(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(book.BaseURL)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
