// Package isbn validates and normalizes ISBN-10 and ISBN-13 strings.
package isbn

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Normalize keeps only digits and X (so labels such as "ISBN " and separators
// are dropped) and returns the ISBN when its checksum is valid, or "" otherwise.
// A lowercase x is upper-cased.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		}
	}
	candidate := b.String()
	switch len(candidate) {
	case 10:
		if validate.Var(candidate, "isbn10") == nil {
			return candidate
		}
	case 13:
		if validate.Var(candidate, "isbn13") == nil {
			return candidate
		}
	}
	return ""
}

// Valid reports whether raw normalizes to a valid ISBN.
func Valid(raw string) bool {
	return Normalize(raw) != ""
}
