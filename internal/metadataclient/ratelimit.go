// Package metadataclient implements the unified Metadata Client: a thin
// interface over the bibliographic aggregator, the DOI registry, and the
// OA locator, consulted in priority order to produce a normalized
// metadata record and an ordered list of candidate download URLs.
package metadataclient

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token-bucket rate limiter for one upstream
// service. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter sustaining ratePerSecond requests with
// the given burst size.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a request may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
