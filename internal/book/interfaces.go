package book

import (
	"context"
	"io"
	"time"
)

// Session fetches pages with cookie continuity. Clone returns an independent
// copy so concurrent workers never share mutable connection state.
type Session interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
	Clone() Session
}

// CoverURLCache maps site identifiers to cover image URLs.
type CoverURLCache interface {
	CoverURL(ctx context.Context, identifier string) (string, bool, error)
	SetCoverURL(ctx context.Context, identifier, url string) error
}

// ISBNCache maps validated ISBNs to site identifiers.
type ISBNCache interface {
	IdentifierByISBN(ctx context.Context, isbn string) (string, bool, error)
	SetIdentifierByISBN(ctx context.Context, isbn, identifier string) error
}

// Cache bundles both lookups, as the cache backends implement them together.
type Cache interface {
	CoverURLCache
	ISBNCache
}

// Sink receives finished records. Implementations must accept concurrent Put calls.
type Sink interface {
	Put(record Record)
}

// BlobStore writes downloaded artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces lookup IDs for log correlation.
type IDGenerator interface {
	NewID() (string, error)
}
