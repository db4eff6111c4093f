package parser

import (
	"fmt"
	"html"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// PrimaryLanguage is assigned to any language label the table does not know.
// Most titles on the site are Czech, so an unknown label defaults to Czech
// rather than leaving the field empty.
const PrimaryLanguage = "ces"

var languageLabels = map[string]string{
	"English":  "eng",
	"anglický": "eng",
	"Czech":    "ces",
	"český":    "ces",
}

var (
	seriesIndexPattern = regexp.MustCompile(`(\d*)\.`)
	yearOnly           = regexp.MustCompile(`^\d{4}$`)
)

var dateLayouts = []string{
	"2.1.2006",
	"2. 1. 2006",
	"2006-01-02",
}

// CleanTitle strips the non-breaking space artifact and surrounding whitespace.
func CleanTitle(raw string) string {
	s := strings.ReplaceAll(raw, "&nbsp;", "")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// Rating maps a percentage such as "85%" to a 1–5 scale. Absent or
// unparseable input yields 0, meaning unrated.
func Rating(raw string) int {
	s := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(raw), "%"))
	if s == "" {
		return 0
	}
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(pct) {
		return 0
	}
	return RatingFromPercent(pct)
}

// RatingFromPercent applies the descending thresholds 80/60/40/20/0.
func RatingFromPercent(pct float64) int {
	switch {
	case pct >= 80:
		return 5
	case pct >= 60:
		return 4
	case pct >= 40:
		return 3
	case pct >= 20:
		return 2
	case pct >= 0:
		return 1
	default:
		return 0
	}
}

// SeriesIndex extracts the integer before the first period ("3. díl" → 3).
// It returns nil when there is no parseable number.
func SeriesIndex(info string) *big.Rat {
	m := seriesIndexPattern.FindStringSubmatch(info)
	if m == nil || m[1] == "" {
		return nil
	}
	idx, ok := new(big.Rat).SetString(m[1])
	if !ok {
		return nil
	}
	return idx
}

// CommentsToHTML escapes plain text and wraps it in paragraphs. Blank lines
// separate paragraphs; single line breaks become <br>.
func CommentsToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			paragraphs = append(paragraphs, "<p>"+strings.Join(lines, "<br>")+"</p>")
			lines = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, html.EscapeString(line))
	}
	flush()
	return strings.Join(paragraphs, "\n")
}

// ParseDate parses a publication date, assuming UTC when no zone is given.
// Bare years resolve to January 1st.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if yearOnly.MatchString(s) {
		year, _ := strconv.Atoi(s)
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// LanguageCode maps a site language label to an ISO 639-2 code.
func LanguageCode(label string) string {
	if code, ok := languageLabels[strings.TrimSpace(label)]; ok {
		return code
	}
	return PrimaryLanguage
}
