package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, open).WithClock(clock.Now), clock
}

var errBoom = errors.New("boom")

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	assert.True(t, b.Allow("etherscan"))
	assert.Equal(t, StateClosed, b.State("etherscan"))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("etherscan")
	b.RecordFailure("etherscan")
	assert.True(t, b.Allow("etherscan"), "still closed below threshold")

	b.RecordFailure("etherscan")
	assert.False(t, b.Allow("etherscan"))
	assert.Equal(t, StateOpen, b.State("etherscan"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure("coingecko")
	b.RecordFailure("coingecko")
	require.False(t, b.Allow("coingecko"))

	clock.Advance(time.Minute)
	assert.True(t, b.Allow("coingecko"), "one probe after open duration")
	assert.Equal(t, StateHalfOpen, b.State("coingecko"))
	assert.False(t, b.Allow("coingecko"), "second caller rejected while probing")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.RecordFailure("p")
	clock.Advance(time.Second)
	require.True(t, b.Allow("p"))

	b.RecordSuccess("p")
	assert.Equal(t, StateClosed, b.State("p"))
	assert.True(t, b.Allow("p"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.RecordFailure("p")
	clock.Advance(time.Second)
	require.True(t, b.Allow("p"))

	b.RecordFailure("p")
	assert.Equal(t, StateOpen, b.State("p"))
	assert.False(t, b.Allow("p"))
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure("p")
	b.RecordFailure("p")
	b.RecordSuccess("p")
	b.RecordFailure("p")
	b.RecordFailure("p")
	assert.Equal(t, StateClosed, b.State("p"))
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	calls := 0
	fail := func() error { calls++; return errBoom }

	assert.ErrorIs(t, b.Execute("p", fail), errBoom)
	assert.ErrorIs(t, b.Execute("p", fail), errBoom)
	assert.ErrorIs(t, b.Execute("p", fail), ErrOpen)
	assert.Equal(t, 2, calls, "fn not called while open")

	require.NoError(t, b.Execute("q", func() error { return nil }))
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	got := make(chan [2]State, 1)
	b.OnTransition(func(key string, from, to State) {
		got <- [2]State{from, to}
	})
	b.RecordFailure("p")

	select {
	case tr := <-got:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, tr)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
