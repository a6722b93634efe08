package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func timeoutCall(_ context.Context) error {
	return context.DeadlineExceeded
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_TimeoutOpensForCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "perplexity"}).WithClock(clock.Now)
	tripAt := clock.Now()

	err := cb.Execute(context.Background(), timeoutCall)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, tripAt.Add(120*time.Second), cb.OpenUntil())

	clock.Advance(119 * time.Second)
	err = cb.Execute(context.Background(), func(_ context.Context) error {
		t.Fatal("dependency must not be called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(time.Second)
	var calls int
	err = cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_NonTimeoutErrorDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("bad request")
		})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Trips())
}

func TestCircuitBreaker_SuccessLeavesStateUnchanged(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig()).WithClock(clock.Now)

	until := cb.Trip()
	clock.Advance(DefaultCooldown)
	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, until, cb.OpenUntil())
	assert.Equal(t, 1, cb.Trips())
}

func TestCircuitBreaker_RetripOnlyExtends(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Cooldown: time.Minute}).WithClock(clock.Now)

	first := cb.Trip()
	clock.Advance(30 * time.Second)
	second := cb.Trip()
	assert.True(t, second.After(first))

	cb.WithClock(func() time.Time { return first.Add(-time.Hour) })
	third := cb.Trip()
	assert.Equal(t, second, third)
	assert.Equal(t, 3, cb.Trips())
}

func TestCircuitBreaker_CustomShouldTrip(t *testing.T) {
	errBoom := errors.New("boom")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ShouldTrip: func(err error) bool { return errors.Is(err, errBoom) },
	})

	_ = cb.Execute(context.Background(), timeoutCall)
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errBoom })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OnTripCallback(t *testing.T) {
	var gotName string
	var gotUntil time.Time
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "jina",
		OnTrip: func(name string, openUntil time.Time) {
			gotName = name
			gotUntil = openUntil
		},
	}).WithClock(clock.Now)

	_ = cb.Execute(context.Background(), timeoutCall)
	assert.Equal(t, "jina", gotName)
	assert.Equal(t, clock.Now().Add(DefaultCooldown), gotUntil)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.Trip()
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestExecuteVal_PreservesValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "£45", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "£45", val)

	cb.Trip()
	val, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "unreachable", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, val)
}

func TestCircuitBreaker_ConcurrentTrips(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), timeoutCall)
		}()
	}
	wg.Wait()

	assert.Equal(t, CircuitOpen, cb.State())
	assert.GreaterOrEqual(t, cb.Trips(), 1)
}

func TestServiceBreakers_IsolatesDependencies(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())

	pplx := sb.Get("perplexity")
	jina := sb.Get("jina")
	assert.Same(t, pplx, sb.Get("perplexity"))
	assert.Equal(t, "perplexity", pplx.Name())

	_ = pplx.Execute(context.Background(), timeoutCall)

	states := sb.States()
	assert.Equal(t, CircuitOpen, states["perplexity"])
	assert.Equal(t, CircuitClosed, states["jina"])
	assert.NoError(t, jina.Allow())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestFromCircuitConfig(t *testing.T) {
	assert.Equal(t, DefaultCooldown, FromCircuitConfig(0).Cooldown)
	assert.Equal(t, 30*time.Second, FromCircuitConfig(30).Cooldown)
}
