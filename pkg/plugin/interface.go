package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hypersim/hookengine/pkg/hooks"
)

// DefaultPriority is used by On when a plugin does not care where it runs.
const DefaultPriority = 10

// Plugin is the contract every extension implements. Name and Version must be
// non-empty. Embed BasePlugin to get no-op lifecycle callbacks.
type Plugin interface {
	Name() string
	Version() string
	Description() string

	// Bindings declares the handlers of the plugin. It is read once per
	// registration and once per enable, so it must be stable.
	Bindings() []Binding

	Initialize(ctx context.Context, host Host) error
	Cleanup(ctx context.Context) error
}

// HealthChecker is implemented by plugins that can report their own health.
type HealthChecker interface {
	IsHealthy() bool
}

// Host is the view of the engine handed to Initialize. It exposes dispatch
// only; lifecycle calls from inside Initialize would deadlock.
type Host interface {
	Execute(ctx context.Context, hookType hooks.HookType, hc *hooks.HookContext, payload any) (*hooks.HookContext, error)
	Logger() *zerolog.Logger
}

// Binding ties one handler to one hook type at a priority. Lower runs earlier.
type Binding struct {
	Hook     hooks.HookType
	Priority int
	Handler  hooks.Handler
}

// On builds a binding. Pass DefaultPriority when order does not matter.
func On(hook hooks.HookType, priority int, handler hooks.Handler) Binding {
	return Binding{Hook: hook, Priority: priority, Handler: handler}
}

// Observe adapts a handler that only reads or mutates the context in place.
func Observe(fn func(ctx context.Context, hc *hooks.HookContext, payload any) error) hooks.Handler {
	return func(ctx context.Context, hc *hooks.HookContext, payload any) (*hooks.HookContext, error) {
		return nil, fn(ctx, hc, payload)
	}
}

// BasePlugin provides the identity fields and no-op lifecycle callbacks.
type BasePlugin struct {
	PluginName        string
	PluginVersion     string
	PluginDescription string
}

// NewBasePlugin returns a BasePlugin for embedding.
func NewBasePlugin(name, version, description string) BasePlugin {
	return BasePlugin{PluginName: name, PluginVersion: version, PluginDescription: description}
}

func (b BasePlugin) Name() string        { return b.PluginName }
func (b BasePlugin) Version() string     { return b.PluginVersion }
func (b BasePlugin) Description() string { return b.PluginDescription }
func (b BasePlugin) Bindings() []Binding { return nil }

func (b BasePlugin) Initialize(context.Context, Host) error { return nil }
func (b BasePlugin) Cleanup(context.Context) error          { return nil }
