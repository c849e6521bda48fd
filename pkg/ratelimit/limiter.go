// Package ratelimit provides request throttling for hook dispatches and host operations.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate is Events admitted per Per. The zero Rate is unlimited.
type Rate struct {
	Events int
	Per    time.Duration
}

// Unlimited reports whether r imposes no limit.
func (r Rate) Unlimited() bool {
	return r.Events <= 0 || r.Per <= 0
}

// Limit converts r to a token refill rate.
func (r Rate) Limit() rate.Limit {
	if r.Unlimited() {
		return rate.Inf
	}
	return rate.Limit(float64(r.Events) / r.Per.Seconds())
}

// Burst is the number of requests admitted back to back: one interval's worth.
func (r Rate) Burst() int {
	if r.Unlimited() {
		return 0
	}
	return r.Events
}

func (r Rate) String() string {
	return FormatRate(r)
}

// Limiter interface defines the contract for request limiting.
type Limiter interface {
	// Wait blocks until the limiter admits one request.
	// Returns an error if the context is cancelled.
	Wait(ctx context.Context) error

	// Allow reports whether one request can proceed immediately.
	Allow() bool

	// Rate returns the current rate.
	Rate() Rate

	// SetRate updates the rate. The zero Rate means unlimited.
	SetRate(r Rate)
}

// RequestLimiter implements thread-safe request limiting using a token bucket algorithm.
type RequestLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	rate    Rate
}

// NewRequestLimiter creates a limiter admitting r. The zero Rate is unlimited.
func NewRequestLimiter(r Rate) *RequestLimiter {
	rl := &RequestLimiter{}
	rl.SetRate(r)
	return rl
}

// Wait blocks until the limiter admits one request.
func (rl *RequestLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	limiter := rl.limiter
	rl.mu.RUnlock()

	if limiter == nil {
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether one request can proceed immediately.
func (rl *RequestLimiter) Allow() bool {
	rl.mu.RLock()
	limiter := rl.limiter
	rl.mu.RUnlock()

	if limiter == nil {
		return true
	}

	return limiter.AllowN(time.Now(), 1)
}

// Rate returns the current rate.
func (rl *RequestLimiter) Rate() Rate {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.rate
}

// SetRate updates the rate. The zero Rate means unlimited.
func (rl *RequestLimiter) SetRate(r Rate) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.rate = r

	if r.Unlimited() {
		rl.limiter = nil
		return
	}
	rl.limiter = rate.NewLimiter(r.Limit(), r.Burst())
}

// NullLimiter is a no-op limiter that admits everything.
type NullLimiter struct{}

// NewNullLimiter creates a limiter that imposes no limits.
func NewNullLimiter() *NullLimiter {
	return &NullLimiter{}
}

// Wait always returns immediately without blocking.
func (nl *NullLimiter) Wait(ctx context.Context) error {
	return nil
}

// Allow always returns true.
func (nl *NullLimiter) Allow() bool {
	return true
}

// Rate always returns the zero (unlimited) Rate.
func (nl *NullLimiter) Rate() Rate {
	return Rate{}
}

// SetRate is a no-op for the null limiter.
func (nl *NullLimiter) SetRate(Rate) {}
