// Package uuid generates lookup IDs used to correlate log lines of one request.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements book.IDGenerator with time-ordered UUIDs.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string, so IDs sort by creation time in logs.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate lookup id: %w", err)
	}
	return id.String(), nil
}
