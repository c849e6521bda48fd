package builtin

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/types"
)

// LoggingPlugin logs simulations and errors. It never halts.
type LoggingPlugin struct {
	plugin.BasePlugin

	includeData bool
	logger      atomic.Pointer[zerolog.Logger]
	requests    atomic.Int64
	now         func() time.Time
}

// LoggingOption configures a LoggingPlugin.
type LoggingOption func(*LoggingPlugin)

// WithIncludeData logs transaction addresses and gas figures at debug level.
func WithIncludeData(include bool) LoggingOption {
	return func(p *LoggingPlugin) { p.includeData = include }
}

// WithPluginLogger pins the logger instead of taking the host's at Initialize.
func WithPluginLogger(logger zerolog.Logger) LoggingOption {
	return func(p *LoggingPlugin) { p.logger.Store(&logger) }
}

// NewLoggingPlugin creates the logging plugin.
func NewLoggingPlugin(opts ...LoggingOption) *LoggingPlugin {
	p := &LoggingPlugin{
		BasePlugin: plugin.NewBasePlugin("logging", Version, "Logs SDK operations for debugging and monitoring"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bindings logs the start and end of every simulation and every error.
func (p *LoggingPlugin) Bindings() []plugin.Binding {
	return []plugin.Binding{
		plugin.On(hooks.BeforeSimulation, 1, plugin.Observe(p.beforeSimulation)),
		plugin.On(hooks.AfterSimulation, 1, plugin.Observe(p.afterSimulation)),
		plugin.On(hooks.OnError, 1, plugin.Observe(p.onError)),
	}
}

func (p *LoggingPlugin) Initialize(_ context.Context, host plugin.Host) error {
	if p.logger.Load() == nil && host != nil {
		if l := host.Logger(); l != nil {
			scoped := l.With().Str("plugin", p.Name()).Logger()
			p.logger.Store(&scoped)
		}
	}
	p.log().Debug().Msg("logging plugin initialized")
	return nil
}

// IsHealthy always reports true.
func (p *LoggingPlugin) IsHealthy() bool { return true }

// MetadataKeys lists the timing entries the plugin writes.
func (p *LoggingPlugin) MetadataKeys() []string {
	return []string{KeyStartTime, KeyDuration, KeyRequestCount}
}

// RequestCount is the number of simulations seen so far.
func (p *LoggingPlugin) RequestCount() int64 {
	return p.requests.Load()
}

func (p *LoggingPlugin) log() *zerolog.Logger {
	if l := p.logger.Load(); l != nil {
		return l
	}
	return &log.Logger
}

func (p *LoggingPlugin) beforeSimulation(_ context.Context, hc *hooks.HookContext, payload any) error {
	n := p.requests.Add(1)
	meta := hc.Meta()
	meta.Set(KeyStartTime, p.now())
	meta.Set(KeyRequestCount, n)

	p.log().Info().
		Str("request_id", hc.RequestID).
		Int64("count", n).
		Msg("simulation started")

	if tx, ok := payload.(*types.TransactionRequest); ok && p.includeData && tx != nil {
		p.log().Debug().
			Str("request_id", hc.RequestID).
			Str("from", tx.From).
			Str("to", tx.To).
			Msg("transaction")
	}
	return nil
}

func (p *LoggingPlugin) afterSimulation(_ context.Context, hc *hooks.HookContext, payload any) error {
	meta := hc.Meta()
	event := p.log().Info().
		Str("request_id", hc.RequestID).
		Int("count", meta.Int(KeyRequestCount))

	if start, ok := meta.Time(KeyStartTime); ok {
		d := p.now().Sub(start)
		meta.Set(KeyDuration, d)
		event = event.Dur("duration", d)
	}

	result, ok := payload.(*types.SimulationResult)
	if !ok || result == nil {
		event.Msg("simulation finished")
		return nil
	}

	status := "SUCCESS"
	if !result.Success {
		status = "FAILED"
	}
	event.Str("status", status).Msg("simulation finished")

	if p.includeData {
		p.log().Debug().
			Str("request_id", hc.RequestID).
			Str("gas_used", result.GasUsed).
			Int64("block", result.EstimatedBlock).
			Msg("simulation result")
	}
	return nil
}

func (p *LoggingPlugin) onError(_ context.Context, hc *hooks.HookContext, payload any) error {
	event := p.log().Error().Str("request_id", hc.RequestID)
	if err, ok := payload.(error); ok {
		event = event.Err(err)
	}
	event.Msg("operation failed")
	return nil
}
