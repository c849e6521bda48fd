// Package hookengine is the host side of the plugin engine: a Client that
// wraps simulations, analyses, requests and connections in hook dispatches.
//
// Every operation follows the same shape. A BEFORE_* dispatch runs first and
// may halt; a halted dispatch skips the real work. The work itself runs
// through the engine's middleware chain. On success an AFTER_* dispatch runs
// with a fresh context that keeps the request id and metadata; on failure
// ON_ERROR runs with the failure as payload.
//
//	client := hookengine.New(hookengine.WithSimulator(sim))
//	defer client.Close(ctx)
//	_ = client.Use(ctx, builtin.NewCachingPlugin(builtin.DefaultCacheConfig()))
//	result, err := client.Simulate(ctx, &types.TransactionRequest{From: "0xA", To: "0xB"})
package hookengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine/pkg/builtin"
	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/middleware"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/types"
)

var (
	// ErrHalted is returned when a BEFORE_* handler halted without leaving a result.
	ErrHalted = errors.New("operation halted by plugin")
	// ErrNotConfigured is returned when the collaborator for an operation is missing.
	ErrNotConfigured = errors.New("collaborator not configured")
)

// Simulator runs a transaction simulation.
type Simulator interface {
	Simulate(ctx context.Context, tx *types.TransactionRequest) (*types.SimulationResult, error)
}

// Analyzer explains a simulation.
type Analyzer interface {
	Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error)
}

// Transport performs a raw request against a remote endpoint.
type Transport interface {
	Do(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Connector opens and closes connections to a network.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (*types.Connection, error)
	Disconnect(ctx context.Context, conn *types.Connection) error
}

// OperationError is returned when the operation itself failed. It carries the
// retry annotation left by ON_ERROR handlers.
type OperationError struct {
	Operation   string
	RequestID   string
	Err         error
	ShouldRetry bool
	RetryDelay  time.Duration
	Attempt     int
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed (request %s): %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Client dispatches hooks around host operations.
type Client struct {
	engine  *plugin.Engine
	emitter *events.EventEmitter
	ownsEm  bool
	logger  zerolog.Logger

	simulator Simulator
	analyzer  Analyzer
	transport Transport
	connector Connector
}

// Option configures a Client.
type Option func(*Client)

// WithEngine uses an existing engine. Events are then delivered only if the
// engine was built with the same emitter passed through WithEventEmitter.
func WithEngine(e *plugin.Engine) Option {
	return func(c *Client) { c.engine = e }
}

// WithEventEmitter shares an emitter with the engine the client builds.
func WithEventEmitter(em *events.EventEmitter) Option {
	return func(c *Client) { c.emitter = em }
}

// WithClientLogger sets the logger of the client and of the engine it builds.
func WithClientLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSimulator sets the backend Simulate runs. Without one Simulate fails
// with ErrNotConfigured.
func WithSimulator(s Simulator) Option {
	return func(c *Client) { c.simulator = s }
}

// WithAnalyzer sets the backend Analyze runs.
func WithAnalyzer(a Analyzer) Option {
	return func(c *Client) { c.analyzer = a }
}

// WithTransport sets the RPC transport Request sends through.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithConnector sets the connector Connect and Disconnect drive.
func WithConnector(k Connector) Option {
	return func(c *Client) { c.connector = k }
}

// New creates a client. Without WithEngine it builds its own engine.
func New(opts ...Option) *Client {
	c := &Client{logger: log.Logger}
	for _, opt := range opts {
		opt(c)
	}

	if c.emitter == nil {
		c.emitter = events.NewEventEmitter()
		c.ownsEm = true
	}
	if c.engine == nil {
		c.engine = plugin.NewEngine(
			plugin.WithLogger(c.logger),
			plugin.WithEmitter(c.emitter),
		)
	}
	return c
}

// Engine returns the underlying engine.
func (c *Client) Engine() *plugin.Engine {
	return c.engine
}

// Use registers p with default settings.
func (c *Client) Use(ctx context.Context, p plugin.Plugin) error {
	return c.engine.Register(ctx, plugin.NewConfig(p))
}

// UseConfig registers a plugin with explicit settings.
func (c *Client) UseConfig(ctx context.Context, cfg plugin.Config) error {
	return c.engine.Register(ctx, cfg)
}

// UseMiddleware wraps every host operation in m.
func (c *Client) UseMiddleware(m middleware.Middleware) {
	c.engine.Use(m)
}

// On subscribes to engine and plugin events.
func (c *Client) On(eventType events.EventType, listener events.EventListener) events.ListenerID {
	return c.emitter.On(eventType, listener)
}

// Close shuts the engine down and drains pending events.
func (c *Client) Close(ctx context.Context) error {
	err := c.engine.Shutdown(ctx)
	c.emitter.Wait()
	if c.ownsEm {
		c.emitter.Close()
	}
	return err
}

// CallOption adjusts a single operation.
type CallOption func(*callOptions)

type callOptions struct {
	requestID string
	metadata  hooks.Metadata
}

// WithRequestID sets the request id instead of generating one.
func WithRequestID(id string) CallOption {
	return func(o *callOptions) { o.requestID = id }
}

// WithMetadata seeds the BEFORE_* context, e.g. builtin.KeyRetryAttempt when
// the caller is retrying.
func WithMetadata(key string, value any) CallOption {
	return func(o *callOptions) {
		if o.metadata == nil {
			o.metadata = make(hooks.Metadata)
		}
		o.metadata.Set(key, value)
	}
}

func (c *Client) begin(ctx context.Context, payload any, opts []CallOption) (*hooks.HookContext, error) {
	if !c.engine.Initialized() {
		if err := c.engine.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	hc := hooks.NewContext(o.requestID, payload)
	for k, v := range o.metadata {
		hc.Metadata.Set(k, v)
	}
	return hc, nil
}

// run executes the real operation through the middleware chain.
func (c *Client) run(ctx context.Context, name string, hc *hooks.HookContext, input any, fn func(ctx context.Context) (any, error)) (any, error) {
	op := &middleware.Operation{Name: name, RequestID: hc.RequestID, Input: input}
	return c.engine.RunMiddleware(ctx, op, func(ctx context.Context, _ *middleware.Operation) (any, error) {
		return fn(ctx)
	})
}

// fail dispatches ON_ERROR and builds the error returned to the caller.
func (c *Client) fail(ctx context.Context, hc *hooks.HookContext, name string, input any, cause error) error {
	failure := &types.OperationFailure{Operation: name, Err: cause, Input: input}

	ehc, err := c.engine.Execute(ctx, hooks.OnError, hc.Next(failure), failure)
	if err != nil {
		return errors.Join(&OperationError{Operation: name, RequestID: hc.RequestID, Err: cause}, err)
	}

	meta := ehc.Meta()
	return &OperationError{
		Operation:   name,
		RequestID:   hc.RequestID,
		Err:         cause,
		ShouldRetry: meta.Bool(builtin.KeyShouldRetry),
		RetryDelay:  meta.Duration(builtin.KeyRetryDelay),
		Attempt:     meta.Int(builtin.KeyRetryAttempt),
	}
}

func halted(name string, hc *hooks.HookContext) error {
	if hc.Meta().Bool(builtin.KeyRateLimited) {
		return fmt.Errorf("%s %s rate limited: %w", name, hc.RequestID, ErrHalted)
	}
	return fmt.Errorf("%s %s: %w", name, hc.RequestID, ErrHalted)
}

// Simulate runs tx through BEFORE_SIMULATION, the simulator and
// AFTER_SIMULATION. A halted dispatch that left a cached result returns it.
func (c *Client) Simulate(ctx context.Context, tx *types.TransactionRequest, opts ...CallOption) (*types.SimulationResult, error) {
	const name = "simulate"

	hc, err := c.begin(ctx, tx, opts)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, c.fail(ctx, hc, name, tx, err)
	}
	if c.simulator == nil {
		return nil, fmt.Errorf("%s: simulator %w", name, ErrNotConfigured)
	}

	hc, err = c.engine.Execute(ctx, hooks.BeforeSimulation, hc, tx)
	if err != nil {
		return nil, err
	}
	if hc.Halted() {
		if cached, ok := hc.Meta()[builtin.KeyCachedResult].(*types.SimulationResult); ok {
			c.logger.Debug().Str("request_id", hc.RequestID).Msg("simulation answered from cache")
			return cached, nil
		}
		return nil, halted(name, hc)
	}

	out, err := c.run(ctx, name, hc, tx, func(ctx context.Context) (any, error) {
		return c.simulator.Simulate(ctx, tx)
	})
	if err != nil {
		return nil, c.fail(ctx, hc, name, tx, err)
	}
	result, _ := out.(*types.SimulationResult)

	if _, err := c.engine.Execute(ctx, hooks.AfterSimulation, hc.Next(result), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Analyze runs req through BEFORE_ANALYSIS, the analyzer and AFTER_ANALYSIS.
func (c *Client) Analyze(ctx context.Context, req *types.AnalysisRequest, opts ...CallOption) (*types.AnalysisResult, error) {
	const name = "analyze"

	hc, err := c.begin(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Result == nil {
		return nil, c.fail(ctx, hc, name, req, errors.New("analysis request needs a simulation result"))
	}
	if c.analyzer == nil {
		return nil, fmt.Errorf("%s: analyzer %w", name, ErrNotConfigured)
	}

	hc, err = c.engine.Execute(ctx, hooks.BeforeAnalysis, hc, req)
	if err != nil {
		return nil, err
	}
	if hc.Halted() {
		return nil, halted(name, hc)
	}

	out, err := c.run(ctx, name, hc, req, func(ctx context.Context) (any, error) {
		return c.analyzer.Analyze(ctx, req)
	})
	if err != nil {
		return nil, c.fail(ctx, hc, name, req, err)
	}
	result, _ := out.(*types.AnalysisResult)

	if _, err := c.engine.Execute(ctx, hooks.AfterAnalysis, hc.Next(result), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Request runs req through BEFORE_REQUEST, the transport and AFTER_RESPONSE.
func (c *Client) Request(ctx context.Context, req *types.Request, opts ...CallOption) (*types.Response, error) {
	const name = "request"

	hc, err := c.begin(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Endpoint == "" {
		return nil, c.fail(ctx, hc, name, req, errors.New("request endpoint is required"))
	}
	if c.transport == nil {
		return nil, fmt.Errorf("%s: transport %w", name, ErrNotConfigured)
	}

	hc, err = c.engine.Execute(ctx, hooks.BeforeRequest, hc, req)
	if err != nil {
		return nil, err
	}
	if hc.Halted() {
		return nil, halted(name, hc)
	}

	start := time.Now()
	out, err := c.run(ctx, name, hc, req, func(ctx context.Context) (any, error) {
		return c.transport.Do(ctx, req)
	})
	if err != nil {
		return nil, c.fail(ctx, hc, name, req, err)
	}
	resp, _ := out.(*types.Response)
	if resp != nil && resp.Latency == 0 {
		resp.Latency = time.Since(start)
	}

	if _, err := c.engine.Execute(ctx, hooks.AfterResponse, hc.Next(resp), resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Connect opens a connection and dispatches ON_CONNECT with it.
func (c *Client) Connect(ctx context.Context, endpoint string, opts ...CallOption) (*types.Connection, error) {
	const name = "connect"

	hc, err := c.begin(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	if c.connector == nil {
		return nil, fmt.Errorf("%s: connector %w", name, ErrNotConfigured)
	}

	out, err := c.run(ctx, name, hc, endpoint, func(ctx context.Context) (any, error) {
		return c.connector.Connect(ctx, endpoint)
	})
	if err != nil {
		return nil, c.fail(ctx, hc, name, endpoint, err)
	}
	conn, _ := out.(*types.Connection)

	if _, err := c.engine.Execute(ctx, hooks.OnConnect, hc.Next(conn), conn); err != nil {
		return conn, err
	}
	return conn, nil
}

// Disconnect dispatches ON_DISCONNECT and then closes conn. A halt keeps the
// connection open.
func (c *Client) Disconnect(ctx context.Context, conn *types.Connection, opts ...CallOption) error {
	const name = "disconnect"

	hc, err := c.begin(ctx, conn, opts)
	if err != nil {
		return err
	}
	if c.connector == nil {
		return fmt.Errorf("%s: connector %w", name, ErrNotConfigured)
	}

	if conn != nil && !conn.ConnectedAt.IsZero() {
		conn.Duration = time.Since(conn.ConnectedAt)
	}
	hc, err = c.engine.Execute(ctx, hooks.OnDisconnect, hc, conn)
	if err != nil {
		return err
	}
	if hc.Halted() {
		return halted(name, hc)
	}

	if _, err := c.run(ctx, name, hc, conn, func(ctx context.Context) (any, error) {
		return nil, c.connector.Disconnect(ctx, conn)
	}); err != nil {
		return c.fail(ctx, hc, name, conn, err)
	}
	return nil
}
