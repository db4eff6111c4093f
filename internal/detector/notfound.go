// Package detector holds content-sniffing predicates applied to fetched pages.
package detector

import (
	"bytes"
	"strings"

	"github.com/antchfx/htmlquery"
)

// DefaultNotFoundHeading is the heading databazeknih.cz renders on its custom
// not-found page, served with HTTP 200.
const DefaultNotFoundHeading = "Stránka 404"

// SoftNotFound recognizes "soft 404" pages: success responses whose first
// heading announces a missing page.
type SoftNotFound struct {
	Headings []string
}

// NewSoftNotFound creates a detector. With no headings it falls back to the
// site default.
func NewSoftNotFound(headings ...string) *SoftNotFound {
	if len(headings) == 0 {
		headings = []string{DefaultNotFoundHeading}
	}
	return &SoftNotFound{Headings: headings}
}

// IsNotFound decides whether body is a not-found page.
func (d *SoftNotFound) IsNotFound(body []byte) bool {
	if len(body) == 0 || !d.mentionsHeading(body) {
		return false
	}
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	h1 := htmlquery.FindOne(doc, "//h1")
	if h1 == nil {
		return false
	}
	text := htmlquery.InnerText(h1)
	for _, heading := range d.Headings {
		if strings.Contains(text, heading) {
			return true
		}
	}
	return false
}

// mentionsHeading is a cheap byte scan so binary bodies (covers) never reach the parser.
func (d *SoftNotFound) mentionsHeading(body []byte) bool {
	for _, heading := range d.Headings {
		if bytes.Contains(body, []byte(heading)) {
			return true
		}
	}
	return false
}
