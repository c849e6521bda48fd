// Package retry provides backoff strategies for transient failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Strategy defines the interface for retry strategies.
type Strategy interface {
	// ShouldRetry determines if an operation should be retried based on the error and attempt number
	ShouldRetry(err error, attempt int) bool

	// NextDelay calculates the delay before the next retry attempt
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of retry attempts allowed
	MaxAttempts() int
}

// ExponentialStrategy implements exponential backoff with optional jitter.
type ExponentialStrategy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	JitterFactor  float64 // How much randomness to add (0.0 to 1.0)
	RetryChecker  func(error) bool
}

// NewExponentialStrategy creates a new exponential backoff strategy with sensible defaults.
func NewExponentialStrategy() *ExponentialStrategy {
	return &ExponentialStrategy{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		JitterFactor:  0.1,
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func (s *ExponentialStrategy) WithMaxRetries(maxRetries int) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.MaxRetries = maxRetries

	return &newStrategy
}

// WithBaseDelay sets the base delay for the first retry.
func (s *ExponentialStrategy) WithBaseDelay(baseDelay time.Duration) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.BaseDelay = baseDelay

	return &newStrategy
}

// WithMaxDelay sets the maximum delay between retries.
func (s *ExponentialStrategy) WithMaxDelay(maxDelay time.Duration) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.MaxDelay = maxDelay

	return &newStrategy
}

// WithBackoffFactor sets the multiplier for exponential backoff.
func (s *ExponentialStrategy) WithBackoffFactor(factor float64) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.BackoffFactor = factor

	return &newStrategy
}

// WithJitter enables or disables jitter and sets the jitter factor.
func (s *ExponentialStrategy) WithJitter(enabled bool, factor float64) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.Jitter = enabled
	newStrategy.JitterFactor = factor

	return &newStrategy
}

// WithRetryChecker sets a custom function to determine if an error should be retried.
func (s *ExponentialStrategy) WithRetryChecker(checker func(error) bool) *ExponentialStrategy {
	newStrategy := *s
	newStrategy.RetryChecker = checker

	return &newStrategy
}

// ShouldRetry determines if an operation should be retried.
func (s *ExponentialStrategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxRetries {
		return false
	}

	if s.RetryChecker != nil {
		return s.RetryChecker(err)
	}

	return err != nil
}

// NextDelay returns BaseDelay * BackoffFactor^attempt, capped at MaxDelay.
func (s *ExponentialStrategy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := s.MaxDelay

	// Past this point the power overflows the ratio check; the cap applies anyway
	if attempt <= 50 && s.BaseDelay > 0 {
		power := math.Pow(s.BackoffFactor, float64(attempt))
		if power <= float64(s.MaxDelay)/float64(s.BaseDelay) {
			delay = time.Duration(float64(s.BaseDelay) * power)
		}
	}

	if delay > s.MaxDelay || delay < 0 {
		delay = s.MaxDelay
	}

	if s.Jitter {
		delay = s.addJitter(delay)
	}

	return delay
}

// MaxAttempts returns the maximum number of retry attempts.
func (s *ExponentialStrategy) MaxAttempts() int {
	return s.MaxRetries
}

// addJitter adds randomness to the delay to prevent thundering herd problems.
func (s *ExponentialStrategy) addJitter(delay time.Duration) time.Duration {
	// #nosec G404 - Jitter for retry delays doesn't require cryptographic randomness
	jitter := time.Duration(float64(delay) * s.JitterFactor * (rand.Float64()*2 - 1))
	jitteredDelay := delay + jitter

	if jitteredDelay < delay/2 {
		jitteredDelay = delay / 2
	}

	if jitteredDelay > delay*2 {
		jitteredDelay = delay * 2
	}

	return jitteredDelay
}

// ConstantStrategy implements constant delay backoff.
type ConstantStrategy struct {
	MaxRetries   int
	Delay        time.Duration
	RetryChecker func(error) bool
}

// NewConstantStrategy creates a new constant delay strategy.
func NewConstantStrategy(maxRetries int, delay time.Duration) *ConstantStrategy {
	return &ConstantStrategy{
		MaxRetries: maxRetries,
		Delay:      delay,
	}
}

// ShouldRetry determines if an operation should be retried.
func (s *ConstantStrategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxRetries {
		return false
	}

	if s.RetryChecker != nil {
		return s.RetryChecker(err)
	}

	return err != nil
}

// NextDelay returns the constant delay.
func (s *ConstantStrategy) NextDelay(int) time.Duration {
	return s.Delay
}

// MaxAttempts returns the maximum number of retry attempts.
func (s *ConstantStrategy) MaxAttempts() int {
	return s.MaxRetries
}

// LinearStrategy grows the delay by Step on every attempt, capped at MaxDelay.
type LinearStrategy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	Step         time.Duration
	MaxDelay     time.Duration
	RetryChecker func(error) bool
}

// NewLinearStrategy creates a linear strategy with an uncapped delay.
func NewLinearStrategy(maxRetries int, base, step time.Duration) *LinearStrategy {
	return &LinearStrategy{
		MaxRetries: maxRetries,
		BaseDelay:  base,
		Step:       step,
	}
}

// ShouldRetry determines if an operation should be retried.
func (s *LinearStrategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxRetries {
		return false
	}

	if s.RetryChecker != nil {
		return s.RetryChecker(err)
	}

	return err != nil
}

// NextDelay returns BaseDelay + Step*attempt.
func (s *LinearStrategy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := s.BaseDelay + s.Step*time.Duration(attempt)
	if s.MaxDelay > 0 && (delay > s.MaxDelay || delay < 0) {
		delay = s.MaxDelay
	}

	return delay
}

// MaxAttempts returns the maximum number of retry attempts.
func (s *LinearStrategy) MaxAttempts() int {
	return s.MaxRetries
}

// MatchPatterns returns a checker that accepts errors whose message contains
// one of patterns, case-insensitively. No patterns accepts every non-nil error.
func MatchPatterns(patterns []string) func(error) bool {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			lowered = append(lowered, strings.ToLower(p))
		}
	}

	return func(err error) bool {
		if err == nil {
			return false
		}
		if len(lowered) == 0 {
			return true
		}
		msg := strings.ToLower(err.Error())
		for _, p := range lowered {
			if strings.Contains(msg, p) {
				return true
			}
		}
		return false
	}
}

// Do runs operation until it succeeds, the strategy gives up, or ctx is done.
func Do(ctx context.Context, strategy Strategy, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= strategy.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !strategy.ShouldRetry(err, attempt) {
			break
		}

		timer := time.NewTimer(strategy.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
