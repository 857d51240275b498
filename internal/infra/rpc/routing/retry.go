package routing

import (
	"math"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// RetryPolicy defines per-endpoint retry behavior.
type RetryPolicy struct {
	// MaxAttempts caps the tries against one endpoint, first try included.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// HonorRetryAfter lets a rate-limited response's hint replace the
	// computed delay.
	HonorRetryAfter bool
}

// DefaultRetryPolicy provides the stock defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        30 * time.Second,
	Multiplier:      1.5,
	HonorRetryAfter: true,
}

// ShouldRetry reports whether another try on the same endpoint is allowed
// after attempt (1-based) ended with class, and how long to wait first.
func (p RetryPolicy) ShouldRetry(attempt int, class domain.Classification, retryAfter time.Duration) (bool, time.Duration) {
	if !class.Policy().Retryable {
		return false, 0
	}
	if attempt >= p.maxAttempts() {
		return false, 0
	}

	if class == domain.ClassRateLimited && p.HonorRetryAfter && retryAfter > 0 {
		return true, retryAfter
	}
	return true, p.Backoff(attempt)
}

// Backoff is the delay after the given attempt: InitialDelay x Multiplier^(attempt-1),
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = DefaultRetryPolicy.Multiplier
	}

	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
