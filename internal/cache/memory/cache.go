// Package memory provides an in-process cover URL and ISBN cache.
package memory

import (
	"context"
	"sync"
)

// Cache implements book.Cache with two guarded maps.
type Cache struct {
	mu     sync.RWMutex
	covers map[string]string
	isbns  map[string]string
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		covers: make(map[string]string),
		isbns:  make(map[string]string),
	}
}

// CoverURL returns the cover URL cached for identifier.
func (c *Cache) CoverURL(_ context.Context, identifier string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.covers[identifier]
	return url, ok, nil
}

// SetCoverURL caches url for identifier.
func (c *Cache) SetCoverURL(_ context.Context, identifier, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.covers[identifier] = url
	return nil
}

// IdentifierByISBN returns the identifier cached for isbn.
func (c *Cache) IdentifierByISBN(_ context.Context, isbn string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.isbns[isbn]
	return id, ok, nil
}

// SetIdentifierByISBN caches identifier for isbn.
func (c *Cache) SetIdentifierByISBN(_ context.Context, isbn, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isbns[isbn] = identifier
	return nil
}
