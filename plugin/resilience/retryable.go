package resilience

import (
	"context"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// retryable is implemented by errors that carry their own transience
// verdict, e.g. aiprovider.ProviderError (5xx/429/408 are transient).
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err looks transient: connection resets,
// timeouts, DNS failures, and errors that classify themselves as retryable.
// Validation, authorization and other 4xx-class failures are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
