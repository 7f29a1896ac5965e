package orchestrator

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// defaultBreakerSettings names the circuit breaker defaults for every
// upstream this harvester calls out to.
var defaultBreakerSettings = map[string]gobreaker.Settings{
	"aggregator": {
		Name:        "aggregator",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
	},
	"doi_registry": {
		Name:        "doi_registry",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
	},
	"oa_locator": {
		Name:        "oa_locator",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
	},
	"grobid": {
		Name:        "grobid",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     90 * time.Second,
	},
}

func withConsecutiveFailureTrip(s gobreaker.Settings, threshold uint32) gobreaker.Settings {
	s.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= threshold
	}
	return s
}

// BreakerRegistry provides named circuit breakers for every external
// dependency the orchestrator calls, lazily creating one on first
// access. Safe for concurrent use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	configs  map[string]gobreaker.Settings
}

// NewBreakerRegistry creates a BreakerRegistry with default settings for
// every known upstream (5 consecutive failures trips the breaker).
func NewBreakerRegistry() *BreakerRegistry {
	configs := make(map[string]gobreaker.Settings, len(defaultBreakerSettings))
	for name, s := range defaultBreakerSettings {
		configs[name] = withConsecutiveFailureTrip(s, 5)
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
		configs:  configs,
	}
}

// Get returns the circuit breaker for name, creating it with a sensible
// default if this is the first access.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker[[]byte] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	settings, ok := r.configs[name]
	if !ok {
		settings = withConsecutiveFailureTrip(gobreaker.Settings{Name: name, Timeout: 60 * time.Second}, 5)
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](settings)
	r.breakers[name] = cb
	return cb
}

// State returns the current state of the named breaker, or StateClosed
// if the breaker has not been created yet.
func (r *BreakerRegistry) State(name string) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
