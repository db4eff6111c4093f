// Package ratelimit spaces out worker starts within a lookup.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Stagger admits one start immediately and each further start after delay.
type Stagger struct {
	limiter *rate.Limiter
}

// NewStagger creates a Stagger. A non-positive delay disables spacing.
func NewStagger(delay time.Duration) *Stagger {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Stagger{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next start is allowed or ctx ends.
func (s *Stagger) Wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("stagger wait: %w", err)
	}
	return nil
}
