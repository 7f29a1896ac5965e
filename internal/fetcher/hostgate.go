package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// hostGate bounds outbound concurrency to a single host and enforces a
// cooldown window after that host returns 403 or 429, so one
// rate-limiting publisher cannot monopolize every download worker.
type hostGate struct {
	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	cooldown map[string]time.Time
	perHost  int64
}

func newHostGate(perHost int64) *hostGate {
	if perHost <= 0 {
		perHost = 2
	}
	return &hostGate{
		sems:     make(map[string]*semaphore.Weighted),
		cooldown: make(map[string]time.Time),
		perHost:  perHost,
	}
}

func (g *hostGate) semFor(host string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[host]
	if !ok {
		s = semaphore.NewWeighted(g.perHost)
		g.sems[host] = s
	}
	return s
}

// inCooldown reports whether host is still in a post-403/429 cooldown
// window, and until when.
func (g *hostGate) inCooldown(host string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldown[host]
	if !ok || time.Now().After(until) {
		return time.Time{}, false
	}
	return until, true
}

func (g *hostGate) markCooldown(host string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown[host] = time.Now().Add(d)
}

// acquire blocks until host has a free slot, respecting ctx.
func (g *hostGate) acquire(ctx context.Context, host string) error {
	return g.semFor(host).Acquire(ctx, 1)
}

func (g *hostGate) release(host string) {
	g.semFor(host).Release(1)
}
