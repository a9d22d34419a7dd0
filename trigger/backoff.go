package trigger

import (
	"errors"
	"time"
)

var ErrFinished = errors.New("no more retries")

// Backoff is the Backoff interface to calculate the next fire time after a failed execution
type Backoff interface {
	// NextRetryTime returns the next time at which the retry should happen.
	NextRetryTime(prev time.Time, retry int) (time.Time, error)
}

type ExponentialBackoff struct {
	incBackoff time.Duration
	maxBackoff time.Duration
}

func NewExponentialBackoff(options ...ExponentialBackoffOption) ExponentialBackoff {
	b := ExponentialBackoff{
		incBackoff: 10 * time.Second,
		maxBackoff: 10 * time.Minute,
	}
	for _, o := range options {
		o(&b)
	}

	return b
}

// NextRetryTime doubles the increment for every retry, capped by the max backoff.
func (b ExponentialBackoff) NextRetryTime(prev time.Time, retry int) (time.Time, error) {
	var backoff time.Duration
	factor := time.Duration(1)
	for i := 1; i <= retry; i++ {
		backoff = factor * b.incBackoff
		if backoff >= b.maxBackoff {
			backoff = b.maxBackoff
			break
		}
		factor = factor * 2
	}
	return prev.Add(backoff), nil
}

type ExponentialBackoffOption func(*ExponentialBackoff)

func IncBackoffOption(backoff time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		b.incBackoff = backoff
	}
}

func MaxBackoffOption(backoff time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		b.maxBackoff = backoff
	}
}

// FixedBackoff retries after each of the given delays, in order, and then gives up.
type FixedBackoff struct {
	retries []time.Duration
}

func NewFixedBackoff(retries ...time.Duration) FixedBackoff {
	return FixedBackoff{retries: retries}
}

func (b FixedBackoff) NextRetryTime(prev time.Time, retry int) (time.Time, error) {
	if retry > 0 && retry <= len(b.retries) {
		return prev.Add(b.retries[retry-1]), nil
	}
	return time.Time{}, ErrFinished
}
