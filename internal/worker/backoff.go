package worker

import (
	"math"
	"time"
)

// RetryPolicy decides what happens after a transient delivery failure
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries up to 3 times, waiting 2, 4, 8... minutes
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Base:       time.Minute,
		MaxDelay:   24 * time.Hour,
	}
}

// Delay returns Base * 2^retryCount, capped at MaxDelay
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(p.Base) * math.Pow(2, float64(retryCount))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Next returns the new retry count and whether another attempt is allowed
func (p RetryPolicy) Next(retryCount int) (int, bool) {
	next := retryCount + 1
	return next, next < p.MaxRetries
}
