package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine"
	"github.com/hypersim/hookengine/pkg/config"
	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/middleware"
	"github.com/hypersim/hookengine/pkg/monitoring"
	"github.com/hypersim/hookengine/pkg/plugin"
)

// session is an engine with the configured plugins behind a client.
type session struct {
	client    *hookengine.Client
	plugins   *config.Plugins
	collector *monitoring.MetricsCollector
	emitter   *events.EventEmitter
}

func newSession(ctx context.Context, cfg *config.Config, opts ...hookengine.Option) (*session, error) {
	collector := monitoring.NewMetricsCollector(cfg.Engine.MetricsPrefix)
	emitter := events.NewEventEmitter()

	engine := plugin.NewEngine(
		plugin.WithLogger(log.Logger),
		plugin.WithObserver(collector),
		plugin.WithEmitter(emitter),
		plugin.WithHandlerTimeout(cfg.Engine.HandlerTimeout),
	)
	built, err := cfg.RegisterPlugins(ctx, engine, config.BuildOptions{Logger: &log.Logger, Emitter: emitter})
	if err != nil {
		emitter.Close()
		return nil, fmt.Errorf("failed to register plugins: %w", err)
	}

	opts = append([]hookengine.Option{
		hookengine.WithEngine(engine),
		hookengine.WithEventEmitter(emitter),
		hookengine.WithClientLogger(log.Logger),
	}, opts...)
	client := hookengine.New(opts...)
	client.UseMiddleware(middleware.RecoverMiddleware())
	client.UseMiddleware(middleware.MetricsMiddleware(collector))
	if cfg.Engine.Debug {
		client.UseMiddleware(middleware.LoggingMiddleware(log.Logger))
	}

	return &session{client: client, plugins: built, collector: collector, emitter: emitter}, nil
}

// close shuts the engine down even when ctx is already cancelled.
func (s *session) close(ctx context.Context) {
	if err := s.client.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("engine shutdown")
	}
	if err := s.plugins.Close(); err != nil {
		log.Warn().Err(err).Msg("closing cache store")
	}
	s.emitter.Close()
}
