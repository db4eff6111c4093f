// Package book defines the types and capabilities shared by the metadata lookup pipeline.
package book

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

// Site constants for databazeknih.cz.
const (
	IdentifierName   = "databazeknih"
	BaseURL          = "https://www.databazeknih.cz/"
	DetailPathPrefix = "knihy/"
	detailPathMarker = "/" + DetailPathPrefix
)

// LookupRequest is the immutable input to a lookup. Cancellation travels in the
// context passed alongside it.
type LookupRequest struct {
	Identifier string        `json:"identifier,omitempty"`
	ISBN       string        `json:"isbn,omitempty"`
	Title      string        `json:"title,omitempty"`
	Authors    []string      `json:"authors,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// Empty reports whether the request carries nothing to search for.
func (r LookupRequest) Empty() bool {
	return strings.TrimSpace(r.Identifier) == "" &&
		strings.TrimSpace(r.Title) == "" &&
		strings.TrimSpace(r.ISBN) == ""
}

// Candidate is a resolved detail-page URL eligible for one scrape attempt.
type Candidate struct {
	URL  string `json:"url"`
	Rank int    `json:"rank"`
}

// Record is the metadata scraped from one detail page.
type Record struct {
	Title       string            `json:"title"`
	Authors     []string          `json:"authors"`
	Identifier  string            `json:"-"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	Series      string            `json:"series,omitempty"`
	SeriesIndex *big.Rat          `json:"-"`
	Comments    string            `json:"comments,omitempty"`
	Publisher   string            `json:"publisher,omitempty"`
	PubDate     *time.Time        `json:"pubdate,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Rating      int               `json:"rating,omitempty"`
	ISBN        string            `json:"isbn,omitempty"`
	Languages   []string          `json:"languages,omitempty"`
	CoverURL    string            `json:"cover_url,omitempty"`
	HasCover    bool              `json:"has_cover"`
	Relevance   int               `json:"relevance"`
}

// Complete reports whether the required fields are present.
func (r Record) Complete() bool {
	return r.Title != "" && len(r.Authors) > 0 && r.Identifier != ""
}

// MarshalJSON renders SeriesIndex as a plain number.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	out := struct {
		plain
		SeriesIndex *float64 `json:"series_index,omitempty"`
	}{plain: plain(r)}
	if r.SeriesIndex != nil {
		f, _ := r.SeriesIndex.Float64()
		out.SeriesIndex = &f
	}
	return json.Marshal(out)
}

// CanonicalURL builds the detail-page URL for a site identifier.
func CanonicalURL(identifier string) string {
	return BaseURL + DetailPathPrefix + identifier
}

// IdentifierFromURL returns everything after the detail path marker, or "" when
// the URL is not a detail page.
func IdentifierFromURL(rawURL string) string {
	idx := strings.Index(rawURL, detailPathMarker)
	if idx < 0 {
		return ""
	}
	return rawURL[idx+len(detailPathMarker):]
}
