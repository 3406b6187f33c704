package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test", cfg)
	b.now = clk.Now
	return b, clk
}

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }

func succeeding(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
		MonitoringWindow: time.Minute,
	})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(context.Background(), failing), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	require.Error(t, b.Do(context.Background(), failing))
	require.Equal(t, StateOpen, b.State())

	// Before the recovery timeout the breaker stays shut.
	clk.Advance(29 * time.Second)
	require.ErrorIs(t, b.Do(context.Background(), succeeding), ErrCircuitOpen)

	// After the timeout the next call probes in half-open.
	clk.Advance(2 * time.Second)
	require.NoError(t, b.Do(context.Background(), succeeding))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(context.Background(), succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	require.Error(t, b.Do(context.Background(), failing))
	clk.Advance(2 * time.Second)
	require.ErrorIs(t, b.Do(context.Background(), failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenCallLimit(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	require.Error(t, b.Do(context.Background(), failing))
	clk.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// One probe is in flight; a second concurrent call is rejected.
	require.ErrorIs(t, b.Do(context.Background(), succeeding), ErrTooManyCalls)

	close(release)
	require.NoError(t, <-done)
}

func TestBreakerMonitoringWindowExpiry(t *testing.T) {
	cfg := BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
		MonitoringWindow: time.Minute,
	}
	b, clk := newTestBreaker(cfg)

	require.Error(t, b.Do(context.Background(), failing))
	require.Error(t, b.Do(context.Background(), failing))

	// The window rolls over; stale failures no longer count.
	clk.Advance(2 * time.Minute)
	require.Error(t, b.Do(context.Background(), failing))
	assert.Equal(t, StateClosed, b.State())
}
