package models

import "time"

// RetryConfig controls how a failed workflow state is rescheduled. The engine
// retries the state up to MaxRetryCount times, spacing the attempts on a
// linear ramp from RetryIntervalMin to RetryIntervalMax.
type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
}

// SlidingInterval returns the delay before retry attempt retryNum. The first
// retry waits RetryIntervalMin, the final one RetryIntervalMax, and the
// attempts between are spaced linearly across the range.
func (rc *RetryConfig) SlidingInterval(retryNum int) time.Duration {
	if retryNum <= 0 {
		return rc.RetryIntervalMin
	}
	if retryNum >= rc.MaxRetryCount {
		return rc.RetryIntervalMax
	}
	scale := float64(retryNum) / float64(rc.MaxRetryCount)
	return rc.RetryIntervalMin + time.Duration(scale*float64(rc.RetryIntervalMax-rc.RetryIntervalMin))
}
