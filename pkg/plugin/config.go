package plugin

// Config wraps a plugin with the operator's registration settings.
type Config struct {
	Plugin Plugin

	// Priority, when set, overrides the priority of every binding of the plugin.
	Priority *int

	Enabled        bool
	AutoInitialize bool
}

// NewConfig returns an enabled, auto-initializing config for p.
func NewConfig(p Plugin) Config {
	return Config{Plugin: p, Enabled: true, AutoInitialize: true}
}

// WithPriority returns a copy of c whose bindings all run at priority n.
func (c Config) WithPriority(n int) Config {
	c.Priority = &n
	return c
}

// WithEnabled returns a copy of c with the enabled flag set.
func (c Config) WithEnabled(enabled bool) Config {
	c.Enabled = enabled
	return c
}

// WithAutoInitialize returns a copy of c with the auto-initialize flag set.
func (c Config) WithAutoInitialize(auto bool) Config {
	c.AutoInitialize = auto
	return c
}

// priorityFor resolves the effective priority of b under c.
func (c Config) priorityFor(b Binding) int {
	if c.Priority != nil {
		return *c.Priority
	}
	return b.Priority
}

// EffectivePriority is the priority reported by ListPlugins: the override when
// set, otherwise the lowest binding priority, otherwise DefaultPriority.
func (c Config) EffectivePriority() int {
	if c.Priority != nil {
		return *c.Priority
	}
	bindings := c.Plugin.Bindings()
	if len(bindings) == 0 {
		return DefaultPriority
	}
	lowest := bindings[0].Priority
	for _, b := range bindings[1:] {
		if b.Priority < lowest {
			lowest = b.Priority
		}
	}
	return lowest
}

func (c Config) validate() error {
	if c.Plugin == nil {
		return ErrInvalidPluginError("", "plugin is nil")
	}
	name := c.Plugin.Name()
	if name == "" {
		return ErrInvalidPluginError("", "plugin name is empty")
	}
	if c.Plugin.Version() == "" {
		return ErrInvalidPluginError(name, "plugin version is empty")
	}
	for _, b := range c.Plugin.Bindings() {
		if !b.Hook.Valid() {
			return ErrInvalidPluginError(name, "binding to unknown hook type "+string(b.Hook))
		}
		if b.Handler == nil {
			return ErrInvalidPluginError(name, "binding to "+string(b.Hook)+" has no handler")
		}
	}
	return nil
}

// Info is the ListPlugins view of one registered plugin.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Initialized bool   `json:"initialized"`
	Healthy     bool   `json:"healthy"`
	Hooks       int    `json:"hooks"`
}
