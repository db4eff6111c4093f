// Package sha256 names stored covers by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errEmpty = errors.New("hash: empty content")

// Hasher implements book.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex SHA-256 digest of data. Empty content is an error.
func (Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errEmpty
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
