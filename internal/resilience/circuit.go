// Package resilience provides the circuit breaker and retry plumbing used for
// calls to flaky external dependencies.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means calls are rejected without touching the dependency.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// DefaultCooldown is how long a breaker stays open after a timeout.
const DefaultCooldown = 120 * time.Second

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// Cooldown is how long the breaker stays open after a trip. Default: 120s.
	Cooldown time.Duration

	// ShouldTrip decides which errors open the breaker. If nil, only
	// timeouts (IsTimeout) trip it.
	ShouldTrip func(err error) bool

	// OnTrip is called after the breaker opens with the new open-until time.
	OnTrip func(name string, openUntil time.Time)
}

// DefaultCircuitBreakerConfig returns the product defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Cooldown: DefaultCooldown}
}

// CircuitBreaker guards a single dependency. It has no half-open probing:
// once now >= openUntil the next call is a normal attempt, which may trip
// the breaker again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	openUntil time.Time
	trips     int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.nowFunc = now
	return cb
}

// Name returns the dependency name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Allow returns ErrCircuitOpen while now < openUntil.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.nowFunc().Before(cb.openUntil) {
		return eris.Wrapf(ErrCircuitOpen, "%s open until %s", cb.cfg.Name, cb.openUntil.Format(time.RFC3339))
	}
	return nil
}

// Trip opens the breaker for one cooldown from now. Re-tripping an open
// breaker only ever moves openUntil forward.
func (cb *CircuitBreaker) Trip() time.Time {
	cb.mu.Lock()
	until := cb.nowFunc().Add(cb.cfg.Cooldown)
	if until.After(cb.openUntil) {
		cb.openUntil = until
	}
	cb.trips++
	until = cb.openUntil
	cb.mu.Unlock()

	zap.L().Warn("circuit breaker tripped",
		zap.String("dependency", cb.cfg.Name),
		zap.Time("open_until", until),
	)
	if cb.cfg.OnTrip != nil {
		cb.cfg.OnTrip(cb.cfg.Name, until)
	}
	return until
}

// Execute runs fn through the breaker. An open breaker rejects the call
// without running fn. Errors that should trip (timeouts by default) open
// the breaker; success leaves its state unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	if err != nil && cb.shouldTrip(err) {
		cb.Trip()
	}
	return val, err
}

func (cb *CircuitBreaker) shouldTrip(err error) bool {
	if cb.cfg.ShouldTrip != nil {
		return cb.cfg.ShouldTrip(err)
	}
	return IsTimeout(err)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.nowFunc().Before(cb.openUntil) {
		return CircuitOpen
	}
	return CircuitClosed
}

// OpenUntil returns the time the breaker closes again (zero if never tripped).
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openUntil
}

// Trips returns how many times the breaker has been tripped.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

// Reset forces the circuit back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.openUntil = time.Time{}
}

// ServiceBreakers holds one breaker per external dependency so a noisy
// dependency cannot starve the others.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-dependency circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for the named dependency, creating one if needed.
func (sb *ServiceBreakers) Get(name string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[name]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[name]; ok {
		return cb
	}
	cfg := sb.cfg
	cfg.Name = name
	cb = NewCircuitBreaker(cfg)
	sb.breakers[name] = cb
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}
