package builtin

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine/internal/retry"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
)

// RetryConfig configures the retry annotation.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	// RetryableErrors filters by case-insensitive substring. Empty retries every error.
	RetryableErrors []string `mapstructure:"retryable_errors"`
}

// DefaultRetryConfig returns 3 attempts starting at 1s, doubling up to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryPlugin annotates ON_ERROR contexts with the next attempt number and
// backoff delay. It never re-runs the failed operation; that is left to the
// host, which reads KeyShouldRetry and KeyRetryDelay.
type RetryPlugin struct {
	plugin.BasePlugin

	cfg       RetryConfig
	strategy  *retry.ExponentialStrategy
	retryable func(error) bool
}

// NewRetryPlugin creates the retry plugin. Zero fields take their defaults.
func NewRetryPlugin(cfg RetryConfig) *RetryPlugin {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}

	strategy := retry.NewExponentialStrategy().
		WithMaxRetries(cfg.MaxAttempts).
		WithBaseDelay(cfg.InitialDelay).
		WithMaxDelay(cfg.MaxDelay).
		WithBackoffFactor(cfg.BackoffMultiplier).
		WithJitter(false, 0)

	return &RetryPlugin{
		BasePlugin: plugin.NewBasePlugin("retry", Version, "Provides automatic retry functionality for failed operations"),
		cfg:        cfg,
		strategy:   strategy,
		retryable:  retry.MatchPatterns(cfg.RetryableErrors),
	}
}

// Bindings decides on ON_ERROR whether the failed operation should be retried.
func (p *RetryPlugin) Bindings() []plugin.Binding {
	return []plugin.Binding{
		plugin.On(hooks.OnError, 5, plugin.Observe(p.handleError)),
	}
}

// IsHealthy always reports true.
func (p *RetryPlugin) IsHealthy() bool { return true }

// MetadataKeys lists the retry decision entries the plugin writes.
func (p *RetryPlugin) MetadataKeys() []string {
	return []string{KeyRetryAttempt, KeyRetryDelay, KeyShouldRetry, KeyRetryExhausted}
}

// Config returns the effective configuration.
func (p *RetryPlugin) Config() RetryConfig {
	return p.cfg
}

func (p *RetryPlugin) handleError(_ context.Context, hc *hooks.HookContext, payload any) error {
	meta := hc.Meta()

	if err, ok := payload.(error); ok && !p.retryable(err) {
		meta.Set(KeyShouldRetry, false)
		return nil
	}

	attempt := meta.Int(KeyRetryAttempt)
	if attempt >= p.cfg.MaxAttempts {
		meta.Set(KeyShouldRetry, false)
		meta.Set(KeyRetryExhausted, true)
		log.Warn().
			Str("request_id", hc.RequestID).
			Int("max_attempts", p.cfg.MaxAttempts).
			Msg("retry attempts exhausted")
		return nil
	}

	delay := p.strategy.NextDelay(attempt)
	meta.Set(KeyRetryAttempt, attempt+1)
	meta.Set(KeyRetryDelay, delay)
	meta.Set(KeyShouldRetry, true)

	log.Debug().
		Str("request_id", hc.RequestID).
		Int("attempt", attempt+1).
		Int("max_attempts", p.cfg.MaxAttempts).
		Dur("delay", delay).
		Msg("retry scheduled")
	return nil
}
