package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hypersim/hookengine/pkg/builtin"
	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/ratelimit"
	"github.com/hypersim/hookengine/pkg/storage"
	"github.com/hypersim/hookengine/pkg/storage/backends"
)

// BuildOptions carries the runtime collaborators of the built-in plugins.
type BuildOptions struct {
	Logger  *zerolog.Logger
	Emitter *events.EventEmitter
}

// Plugins holds the built-in plugin instances created from a Config, plus the
// registration configs in PluginNames order.
type Plugins struct {
	Configs []plugin.Config

	RateLimit *builtin.RateLimitPlugin
	Logging   *builtin.LoggingPlugin
	Caching   *builtin.CachingPlugin
	Metrics   *builtin.MetricsPlugin
	Retry     *builtin.RetryPlugin

	// Store is the persistent cache tier, nil when caching.store.type is empty.
	Store storage.Backend
}

// Close releases the cache store.
func (p *Plugins) Close() error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

// BuildPlugins instantiates every built-in plugin described by c. Plugins
// disabled in the configuration are still built and registered disabled, so
// they can be enabled at runtime.
func (c *Config) BuildPlugins(opts BuildOptions) (*Plugins, error) {
	out := &Plugins{}

	r, err := ratelimit.ParseRate(c.RateLimit.Rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	out.RateLimit, err = builtin.NewRateLimitPlugin(ratelimit.NewRequestLimiter(r), c.RateLimit.Mode)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}

	loggingOpts := []builtin.LoggingOption{builtin.WithIncludeData(c.LoggingPlugin.IncludeData)}
	if opts.Logger != nil {
		loggingOpts = append(loggingOpts, builtin.WithPluginLogger(opts.Logger.With().Str("plugin", "logging").Logger()))
	}
	out.Logging = builtin.NewLoggingPlugin(loggingOpts...)

	if c.Caching.Store.Type != "" {
		out.Store, err = backends.New(c.Caching.Store)
		if err != nil {
			return nil, fmt.Errorf("caching store: %w", err)
		}
	}
	out.Caching = builtin.NewCachingPlugin(builtin.CacheConfig{
		TTL:          c.Caching.TTL,
		MaxEntries:   c.Caching.MaxEntries,
		CleanupEvery: c.Caching.CleanupEvery,
		Store:        out.Store,
		Emitter:      opts.Emitter,
	})

	out.Metrics = builtin.NewMetricsPlugin()

	out.Retry = builtin.NewRetryPlugin(builtin.RetryConfig{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialDelay:      c.Retry.InitialDelay,
		MaxDelay:          c.Retry.MaxDelay,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		RetryableErrors:   c.Retry.RetryableErrors,
	})

	byName := map[string]plugin.Plugin{
		"ratelimit": out.RateLimit,
		"logging":   out.Logging,
		"caching":   out.Caching,
		"metrics":   out.Metrics,
		"retry":     out.Retry,
	}
	for _, name := range PluginNames {
		settings := c.Plugin(name)
		cfg := plugin.NewConfig(byName[name]).
			WithEnabled(settings.Enabled).
			WithAutoInitialize(settings.AutoInitialize)
		if settings.Priority != nil {
			cfg = cfg.WithPriority(*settings.Priority)
		}
		out.Configs = append(out.Configs, cfg)
	}

	return out, nil
}

// RegisterPlugins builds the plugins and registers them on engine. On failure
// the plugins registered so far are unregistered again.
func (c *Config) RegisterPlugins(ctx context.Context, engine *plugin.Engine, opts BuildOptions) (*Plugins, error) {
	built, err := c.BuildPlugins(opts)
	if err != nil {
		return nil, err
	}

	for i, cfg := range built.Configs {
		if err := engine.Register(ctx, cfg); err != nil {
			var errs []error
			for _, done := range built.Configs[:i] {
				if uerr := engine.Unregister(ctx, done.Plugin.Name()); uerr != nil {
					errs = append(errs, uerr)
				}
			}
			errs = append(errs, built.Close())
			return nil, errors.Join(append([]error{err}, errs...)...)
		}
	}
	return built, nil
}
