package book

import "errors"

// Failure classes. Fetchers and parsers wrap these with %w.
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timed out")
	ErrNetwork          = errors.New("network failure")
	ErrMalformed        = errors.New("malformed document")
	ErrIncompleteRecord = errors.New("incomplete record")
)
