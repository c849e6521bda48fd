package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/ratelimit"
)

// Rate limit modes.
const (
	// RateLimitWait blocks the dispatch until the limiter admits it.
	RateLimitWait = "wait"
	// RateLimitReject halts the dispatch and sets KeyRateLimited.
	RateLimitReject = "reject"
)

// RateLimitPlugin throttles outgoing operations ahead of every other plugin.
type RateLimitPlugin struct {
	plugin.BasePlugin

	limiter  ratelimit.Limiter
	mode     string
	rejected atomic.Int64
}

// NewRateLimitPlugin creates the plugin. mode is RateLimitWait or RateLimitReject.
func NewRateLimitPlugin(limiter ratelimit.Limiter, mode string) (*RateLimitPlugin, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "":
		mode = RateLimitWait
	case RateLimitWait, RateLimitReject:
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", mode)
	}
	if limiter == nil {
		limiter = ratelimit.NewNullLimiter()
	}

	return &RateLimitPlugin{
		BasePlugin: plugin.NewBasePlugin("ratelimit", Version, "Limits the rate of outgoing requests"),
		limiter:    limiter,
		mode:       mode,
	}, nil
}

// Bindings admits requests, simulations and analyses ahead of every other plugin.
func (p *RateLimitPlugin) Bindings() []plugin.Binding {
	return []plugin.Binding{
		plugin.On(hooks.BeforeRequest, 0, plugin.Observe(p.admit)),
		plugin.On(hooks.BeforeSimulation, 0, plugin.Observe(p.admit)),
		plugin.On(hooks.BeforeAnalysis, 0, plugin.Observe(p.admit)),
	}
}

// IsHealthy always reports true.
func (p *RateLimitPlugin) IsHealthy() bool { return true }

// MetadataKeys lists the metadata entries the plugin writes.
func (p *RateLimitPlugin) MetadataKeys() []string {
	return []string{KeyRateLimited}
}

// Mode returns the configured mode.
func (p *RateLimitPlugin) Mode() string { return p.mode }

// Rejected counts dispatches halted in reject mode.
func (p *RateLimitPlugin) Rejected() int64 { return p.rejected.Load() }

func (p *RateLimitPlugin) admit(ctx context.Context, hc *hooks.HookContext, _ any) error {
	if p.mode == RateLimitWait {
		return p.limiter.Wait(ctx)
	}

	if !p.limiter.Allow() {
		p.rejected.Add(1)
		hc.Meta().Set(KeyRateLimited, true)
		hc.Halt()
	}
	return nil
}
