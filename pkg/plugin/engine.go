package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/middleware"
)

var tracer = otel.Tracer("github.com/hypersim/hookengine/plugin")

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for lifecycle and dispatch messages.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver receives every dispatch event, typically a metrics collector.
func WithObserver(o hooks.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithEmitter publishes lifecycle events on em.
func WithEmitter(em *events.EventEmitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithHandlerTimeout bounds each handler. Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.executor.Timeout = d }
}

// WithTracer replaces the package tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

type registration struct {
	cfg         Config
	seq         uint64
	initialized bool
}

// dispatchTable is never mutated after it is published.
type dispatchTable map[hooks.HookType]hooks.Chain

// Engine owns the plugin registry and the dispatch table.
//
// Register, Unregister, Enable, Disable, Initialize and Shutdown are serialized
// by one lock and are all-or-nothing. Execute takes no lock: it reads the
// current table snapshot, which mutations replace atomically. Initialize and
// Shutdown dispatch ON_STARTUP and ON_SHUTDOWN while holding the lock, so
// handlers of those hooks must not call lifecycle methods.
type Engine struct {
	mu          sync.RWMutex
	plugins     map[string]*registration
	seq         uint64
	initialized bool
	errors      *ErrorCollector

	table atomic.Pointer[dispatchTable]

	executor   hooks.Executor
	logger     zerolog.Logger
	observer   hooks.Observer
	emitter    *events.EventEmitter
	tracer     trace.Tracer
	middleware *middleware.MiddlewareChain
}

// NewEngine creates an engine with no plugins.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		plugins:    make(map[string]*registration),
		errors:     NewErrorCollector(),
		executor:   hooks.Executor{Timeout: DefaultHandlerTimeout},
		logger:     log.Logger,
		tracer:     tracer,
		middleware: middleware.NewMiddlewareChain(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table.Store(&dispatchTable{})
	return e
}

// Logger implements Host.
func (e *Engine) Logger() *zerolog.Logger {
	return &e.logger
}

// Register adds a plugin. When the config is enabled its bindings become
// dispatchable, and when the engine is already initialized an auto-initializing
// plugin is initialized first; a failed initialization leaves the engine unchanged.
func (e *Engine) Register(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	name := cfg.Plugin.Name()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.plugins[name]; exists {
		return ErrPluginAlreadyExists(name)
	}

	reg := &registration{cfg: cfg, seq: e.seq + 1}
	if cfg.Enabled && cfg.AutoInitialize && e.initialized {
		if err := e.initializeLocked(ctx, reg); err != nil {
			return err
		}
	}

	e.seq = reg.seq
	e.plugins[name] = reg
	if cfg.Enabled {
		e.bindLocked(reg)
	}

	e.logger.Info().
		Str("plugin", name).
		Str("version", cfg.Plugin.Version()).
		Bool("enabled", cfg.Enabled).
		Msg("plugin registered")
	e.emit(events.EventPluginRegistered, name)
	return nil
}

// Unregister removes a plugin, cleaning it up first when it is enabled.
// A cleanup failure is logged and does not keep the plugin registered.
func (e *Engine) Unregister(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, exists := e.plugins[name]
	if !exists {
		return ErrPluginNotFoundError(name)
	}

	if reg.cfg.Enabled {
		e.unbindLocked(name)
		e.cleanupLocked(ctx, reg)
	}
	delete(e.plugins, name)

	e.logger.Info().Str("plugin", name).Msg("plugin unregistered")
	e.emit(events.EventPluginUnregistered, name)
	return nil
}

// Enable re-inserts the bindings of a disabled plugin at their original
// relative position. If the engine is initialized the plugin is initialized
// again, whatever its AutoInitialize setting. On failure it stays disabled.
func (e *Engine) Enable(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, exists := e.plugins[name]
	if !exists {
		return ErrPluginNotFoundError(name)
	}
	if reg.cfg.Enabled {
		return nil
	}

	if e.initialized && !reg.initialized {
		if err := e.initializeLocked(ctx, reg); err != nil {
			return err
		}
	}

	reg.cfg.Enabled = true
	e.bindLocked(reg)

	e.logger.Info().Str("plugin", name).Msg("plugin enabled")
	e.emit(events.EventPluginEnabled, name)
	return nil
}

// Disable removes the bindings of a plugin and cleans it up.
func (e *Engine) Disable(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, exists := e.plugins[name]
	if !exists {
		return ErrPluginNotFoundError(name)
	}
	if !reg.cfg.Enabled {
		return nil
	}

	e.unbindLocked(name)
	e.cleanupLocked(ctx, reg)
	reg.cfg.Enabled = false

	e.logger.Info().Str("plugin", name).Msg("plugin disabled")
	e.emit(events.EventPluginDisabled, name)
	return nil
}

// InitializePlugin initializes one plugin on demand, for plugins registered
// with AutoInitialize off. Already initialized plugins are left alone.
func (e *Engine) InitializePlugin(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, exists := e.plugins[name]
	if !exists {
		return ErrPluginNotFoundError(name)
	}
	if reg.initialized {
		return nil
	}
	return e.initializeLocked(ctx, reg)
}

// Initialize initializes every enabled auto-initializing plugin, then
// dispatches ON_STARTUP. A plugin failing to initialize is logged and skipped.
// Calling Initialize again is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	e.initialized = true

	for _, reg := range e.orderedLocked() {
		if !reg.cfg.Enabled || !reg.cfg.AutoInitialize || reg.initialized {
			continue
		}
		if err := e.initializeLocked(ctx, reg); err != nil {
			e.logger.Error().Err(err).Str("plugin", reg.cfg.Plugin.Name()).Msg("skipping plugin that failed to initialize")
		}
	}

	if _, err := e.Execute(ctx, hooks.OnStartup, hooks.SystemContext("startup"), nil); err != nil {
		return ErrEngineError("startup dispatch aborted", err)
	}

	e.logger.Info().Int("plugins", len(e.plugins)).Msg("plugin engine initialized")
	e.emit(events.EventEngineStarted, nil)
	return nil
}

// Shutdown dispatches ON_SHUTDOWN, cleans up every enabled plugin and resets
// the engine to its freshly constructed state. Cleanup failures are logged and
// collected. Calling Shutdown again is a no-op.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized && len(e.plugins) == 0 {
		return nil
	}

	var dispatchErr error
	if e.initialized {
		if _, err := e.Execute(ctx, hooks.OnShutdown, hooks.SystemContext("shutdown"), nil); err != nil {
			dispatchErr = err
			e.logger.Warn().Err(err).Msg("shutdown dispatch aborted, cleaning up anyway")
		}
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for _, reg := range e.orderedLocked() {
		if reg.cfg.Enabled {
			e.cleanupLocked(cleanupCtx, reg)
		}
	}

	e.plugins = make(map[string]*registration)
	e.table.Store(&dispatchTable{})
	e.seq = 0
	e.initialized = false
	e.middleware.Clear()

	e.logger.Info().Msg("plugin engine shut down")
	e.emit(events.EventEngineStopped, nil)

	if dispatchErr != nil {
		return ErrEngineError("shutdown dispatch aborted", dispatchErr)
	}
	return nil
}

// Execute dispatches hc through every binding of hookType in priority order.
// The returned context is the one to inspect for Halted. The error is non-nil
// only when the dispatch was cancelled; handler failures are logged and skipped.
func (e *Engine) Execute(ctx context.Context, hookType hooks.HookType, hc *hooks.HookContext, payload any) (*hooks.HookContext, error) {
	if hc == nil {
		hc = hooks.NewContext("", payload)
	}

	chain := (*e.table.Load())[hookType]
	if len(chain) == 0 {
		return hc, nil
	}

	ctx, span := e.tracer.Start(ctx, "hookengine.execute",
		trace.WithAttributes(
			attribute.String("hook.type", string(hookType)),
			attribute.String("request.id", hc.RequestID),
			attribute.Int("hook.handlers", len(chain)),
		))
	defer span.End()

	obs := &dispatchObserver{engine: e, span: span, requestID: hc.RequestID}
	out, err := e.executor.Run(ctx, hookType, chain, hc, payload, obs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn().
			Err(err).
			Str("hook", string(hookType)).
			Str("request_id", hc.RequestID).
			Msg("dispatch cancelled")
		return out, ErrEngineError(fmt.Sprintf("dispatch of %s cancelled", hookType), err)
	}

	span.SetAttributes(attribute.Bool("hook.halted", out.Halted()))
	return out, nil
}

// Use appends a middleware wrapping host operations run through RunMiddleware.
func (e *Engine) Use(m middleware.Middleware) {
	e.middleware.Use(m)
}

// RunMiddleware runs handler for op through the registered middleware.
func (e *Engine) RunMiddleware(ctx context.Context, op *middleware.Operation, handler middleware.Handler) (any, error) {
	return e.middleware.Run(ctx, op, handler)
}

// MiddlewareCount returns the number of registered middleware.
func (e *Engine) MiddlewareCount() int {
	return e.middleware.Count()
}

// ListPlugins describes every registered plugin in registration order.
func (e *Engine) ListPlugins() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	regs := e.orderedLocked()
	out := make([]Info, 0, len(regs))
	for _, reg := range regs {
		p := reg.cfg.Plugin
		healthy := true
		if hc, ok := p.(HealthChecker); ok {
			healthy = hc.IsHealthy()
		}
		out = append(out, Info{
			Name:        p.Name(),
			Version:     p.Version(),
			Description: p.Description(),
			Enabled:     reg.cfg.Enabled,
			Priority:    reg.cfg.EffectivePriority(),
			Initialized: reg.initialized,
			Healthy:     healthy,
			Hooks:       len(p.Bindings()),
		})
	}
	return out
}

// Plugin returns the registered plugin called name.
func (e *Engine) Plugin(name string) (Plugin, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	reg, exists := e.plugins[name]
	if !exists {
		return nil, ErrPluginNotFoundError(name)
	}
	return reg.cfg.Plugin, nil
}

// HasPlugin reports whether a plugin called name is registered.
func (e *Engine) HasPlugin(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, exists := e.plugins[name]
	return exists
}

// IsPluginEnabled reports whether name is registered and enabled.
func (e *Engine) IsPluginEnabled(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	reg, exists := e.plugins[name]
	return exists && reg.cfg.Enabled
}

// PluginConfig returns the current config of name.
func (e *Engine) PluginConfig(name string) (Config, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	reg, exists := e.plugins[name]
	if !exists {
		return Config{}, false
	}
	return reg.cfg, true
}

// Initialized reports whether Initialize ran since construction or the last Shutdown.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// HandlerOrder lists the owners of the bindings of hookType in dispatch order.
func (e *Engine) HandlerOrder(hookType hooks.HookType) []string {
	return (*e.table.Load())[hookType].Owners()
}

// Errors returns the lifecycle failures collected so far.
func (e *Engine) Errors() []*PluginError {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*PluginError, len(e.errors.GetErrors()))
	copy(out, e.errors.GetErrors())
	return out
}

// ClearErrors clears all collected errors
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = NewErrorCollector()
}

// Stats summarizes the registry.
type Stats struct {
	TotalPlugins   int            `json:"total_plugins"`
	EnabledPlugins int            `json:"enabled_plugins"`
	Initialized    bool           `json:"initialized"`
	ErrorCount     int            `json:"error_count"`
	HooksByType    map[string]int `json:"hooks_by_type"`
}

// GetStats returns statistics about registered plugins
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		TotalPlugins: len(e.plugins),
		Initialized:  e.initialized,
		ErrorCount:   len(e.errors.GetErrors()),
		HooksByType:  make(map[string]int),
	}
	for _, reg := range e.plugins {
		if reg.cfg.Enabled {
			stats.EnabledPlugins++
		}
	}
	for hookType, chain := range *e.table.Load() {
		stats.HooksByType[string(hookType)] = len(chain)
	}
	return stats
}

func (e *Engine) orderedLocked() []*registration {
	regs := make([]*registration, 0, len(e.plugins))
	for _, reg := range e.plugins {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	return regs
}

func (e *Engine) bindLocked(reg *registration) {
	name := reg.cfg.Plugin.Name()
	added := make(map[hooks.HookType][]hooks.Entry)
	for i, b := range reg.cfg.Plugin.Bindings() {
		added[b.Hook] = append(added[b.Hook], hooks.Entry{
			Owner:    name,
			Priority: reg.cfg.priorityFor(b),
			Seq:      reg.seq,
			Index:    i,
			Handler:  b.Handler,
		})
	}

	current := *e.table.Load()
	next := make(dispatchTable, len(current)+len(added))
	for hookType, chain := range current {
		next[hookType] = chain
	}
	for hookType, entries := range added {
		next[hookType] = next[hookType].With(entries...)
	}
	e.table.Store(&next)
}

func (e *Engine) unbindLocked(name string) {
	current := *e.table.Load()
	next := make(dispatchTable, len(current))
	for hookType, chain := range current {
		if kept := chain.Without(name); len(kept) > 0 {
			next[hookType] = kept
		}
	}
	e.table.Store(&next)
}

func (e *Engine) initializeLocked(ctx context.Context, reg *registration) error {
	name := reg.cfg.Plugin.Name()
	if err := guard(func() error { return reg.cfg.Plugin.Initialize(ctx, e) }); err != nil {
		pe := ErrPluginInitError(name, err)
		e.errors.Add(pe)
		e.logger.Error().Err(err).Str("plugin", name).Msg("plugin initialization failed")
		return pe
	}
	reg.initialized = true
	e.logger.Debug().Str("plugin", name).Msg("plugin initialized")
	return nil
}

func (e *Engine) cleanupLocked(ctx context.Context, reg *registration) {
	name := reg.cfg.Plugin.Name()
	reg.initialized = false
	if err := guard(func() error { return reg.cfg.Plugin.Cleanup(ctx) }); err != nil {
		e.errors.Add(ErrPluginCleanupError(name, err))
		e.logger.Error().Err(err).Str("plugin", name).Msg("plugin cleanup failed")
	}
}

func (e *Engine) emit(eventType events.EventType, data any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.CreateEvent(eventType, data, "engine"))
}

// guard converts a panic in a lifecycle callback into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// dispatchObserver logs and traces one dispatch before forwarding to the
// engine's observer.
type dispatchObserver struct {
	engine    *Engine
	span      trace.Span
	requestID string
}

func (o *dispatchObserver) DispatchStarted(hookType hooks.HookType, handlers int) {
	if o.engine.observer != nil {
		o.engine.observer.DispatchStarted(hookType, handlers)
	}
}

func (o *dispatchObserver) HandlerFinished(hookType hooks.HookType, owner string, elapsed time.Duration, err error) {
	if err != nil {
		failure := ErrHookExecutionError(owner, string(hookType), err)
		o.span.AddEvent("handler.failed", trace.WithAttributes(
			attribute.String("plugin.name", owner),
			attribute.String("error", err.Error()),
		))
		o.engine.logger.Warn().
			Err(err).
			Str("plugin", owner).
			Str("hook", string(hookType)).
			Str("request_id", o.requestID).
			Msg("hook handler failed")
		o.engine.emit(events.EventPluginError, failure)
	} else {
		o.engine.logger.Debug().
			Str("plugin", owner).
			Str("hook", string(hookType)).
			Dur("elapsed", elapsed).
			Msg("hook handler finished")
	}

	if o.engine.observer != nil {
		o.engine.observer.HandlerFinished(hookType, owner, elapsed, err)
	}
}

func (o *dispatchObserver) DispatchHalted(hookType hooks.HookType, owner string) {
	o.span.AddEvent("dispatch.halted", trace.WithAttributes(attribute.String("plugin.name", owner)))
	o.engine.logger.Debug().
		Str("plugin", owner).
		Str("hook", string(hookType)).
		Str("request_id", o.requestID).
		Msg("dispatch halted")
	o.engine.emit(events.EventDispatchHalted, owner)

	if o.engine.observer != nil {
		o.engine.observer.DispatchHalted(hookType, owner)
	}
}
