package bus

import "time"

// RetryPolicy controls redelivery of failed messages.
type RetryPolicy struct {
	// Base is the delay before the first redelivery.
	Base time.Duration

	// Cap bounds the exponential growth of the delay.
	Cap time.Duration

	// MaxAge is how long after first publish a message keeps being retried.
	// Once exceeded, the message is dead-lettered.
	MaxAge time.Duration
}

// DefaultRetryPolicy returns the production policy: 1s base, 60s cap,
// 10 minute retry window.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:   time.Second,
		Cap:    60 * time.Second,
		MaxAge: 10 * time.Minute,
	}
}

// Delay returns the backoff before redelivery number attempt+1. Attempts are
// 1-based: Delay(1) is the wait after the first failure.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Expired reports whether a message first published at publishedAt has
// outlived the retry window.
func (p RetryPolicy) Expired(publishedAt time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	return time.Since(publishedAt) > p.MaxAge
}
