// Package resilience wraps calls to unreliable downstream dependencies
// (the AI provider, the database) with a circuit breaker and a retry
// mechanism. The two compose explicitly: callers pick the nesting order,
// typically retry around breaker so that rapid repeated failures trip the
// breaker instead of burning the whole retry budget against a dead
// dependency.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned synchronously while the breaker is open;
	// the wrapped operation is not invoked.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrTooManyCalls is returned when a half-open breaker has already
	// admitted its maximum number of probe calls.
	ErrTooManyCalls = errors.New("too many calls in half-open state")
)

// BreakerConfig tunes a single Breaker.
type BreakerConfig struct {
	FailureThreshold int           // failures within MonitoringWindow that open the breaker
	RecoveryTimeout  time.Duration // open -> half-open after this much quiet time
	HalfOpenMaxCalls int           // probe calls admitted while half-open
	SuccessThreshold int           // consecutive successes that close a half-open breaker
	MonitoringWindow time.Duration // failure-counting window while closed
}

// DefaultBreakerConfig matches the provider-call defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
	}
}

// Breaker protects one named operation class. Safe for concurrent use; all
// state transitions happen atomically with the counters they read.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	halfOpenCalls int
	windowStart   time.Time
	lastFailureAt time.Time
}

// NewBreaker creates a closed breaker for the given operation class.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the operation class the breaker protects.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for recovery-timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn through the breaker. While open, calls are rejected with
// ErrCircuitOpen without invoking fn. Once the recovery timeout has elapsed
// the next call moves the breaker to half-open before executing.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.toHalfOpen()
		b.halfOpenCalls++
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCalls
		}
		b.halfOpenCalls++
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			slog.Info("circuit breaker closed", "name", b.name)
			b.toClosed()
		}
	case StateClosed:
		// Failures are counted per monitoring window, not consecutively;
		// a success while closed does not reset the counter.
	}
}

func (b *Breaker) onFailure() {
	now := b.now()
	switch b.state {
	case StateHalfOpen:
		slog.Warn("circuit breaker reopened", "name", b.name)
		b.toOpen(now)
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.MonitoringWindow {
			b.failureCount = 0
			b.windowStart = now
		}
		b.failureCount++
		b.lastFailureAt = now
		if b.failureCount >= b.cfg.FailureThreshold {
			slog.Warn("circuit breaker opened", "name", b.name, "failures", b.failureCount)
			b.toOpen(now)
		}
	case StateOpen:
		b.lastFailureAt = now
	}
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
	b.windowStart = b.now()
}

func (b *Breaker) toOpen(now time.Time) {
	b.state = StateOpen
	b.lastFailureAt = now
	b.successCount = 0
	b.halfOpenCalls = 0
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.successCount = 0
	b.halfOpenCalls = 0
}
