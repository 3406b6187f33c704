package resilience

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{ retry bool }

func (e *transientErr) Error() string   { return "transient" }
func (e *transientErr) Retryable() bool { return e.retry }

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &transientErr{retry: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("validation failed")
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	transient := &transientErr{retry: true}
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return transient
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, transient)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetryConfig()
	cfg.BaseDelay = time.Minute
	cfg.MaxDelay = time.Minute

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, func(context.Context) error {
		return &transientErr{retry: true}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelaySchedule(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, cfg.Delay(i+1), "retry %d", i+1)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"self-classified transient", &transientErr{retry: true}, true},
		{"self-classified permanent", &transientErr{retry: false}, false},
		{"wrapped transient", errors.Wrap(&transientErr{retry: true}, "call provider"), true},
		{"dns failure", &net.DNSError{Err: "no such host"}, true},
		{"connection reset", errors.Wrap(syscall.ECONNRESET, "read"), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancellation", context.Canceled, false},
		{"plain error", errors.New("bad input"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
