package hookengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hypersim/hookengine/pkg/builtin"
	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/middleware"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/ratelimit"
	"github.com/hypersim/hookengine/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSimulator struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSimulator) Simulate(_ context.Context, tx *types.TransactionRequest) (*types.SimulationResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &types.SimulationResult{Success: true, GasUsed: "21000", ReturnData: tx.Data}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{Summary: "gas " + req.Result.GasUsed, RiskLevel: "low"}, nil
}

type fakeTransport struct{}

func (fakeTransport) Do(_ context.Context, req *types.Request) (*types.Response, error) {
	time.Sleep(time.Millisecond)
	return &types.Response{StatusCode: 200, Body: []byte(req.Method)}, nil
}

type fakeConnector struct {
	closed atomic.Bool
}

func (f *fakeConnector) Connect(_ context.Context, endpoint string) (*types.Connection, error) {
	return &types.Connection{Endpoint: endpoint, Network: "testnet", ConnectedAt: time.Now()}, nil
}

func (f *fakeConnector) Disconnect(context.Context, *types.Connection) error {
	f.closed.Store(true)
	return nil
}

// hookRecorder records the hook types it sees.
type hookRecorder struct {
	plugin.BasePlugin
	hooks []hooks.HookType

	mu   sync.Mutex
	seen []hooks.HookType
	halt bool
}

func newHookRecorder(hookTypes ...hooks.HookType) *hookRecorder {
	return &hookRecorder{BasePlugin: plugin.NewBasePlugin("recorder", "1.0.0", ""), hooks: hookTypes}
}

func (r *hookRecorder) Bindings() []plugin.Binding {
	var out []plugin.Binding
	for _, h := range r.hooks {
		h := h
		out = append(out, plugin.On(h, plugin.DefaultPriority, plugin.Observe(func(_ context.Context, hc *hooks.HookContext, _ any) error {
			r.mu.Lock()
			r.seen = append(r.seen, h)
			halt := r.halt
			r.mu.Unlock()
			if halt {
				hc.Halt()
			}
			return nil
		})))
	}
	return out
}

func (r *hookRecorder) get() []hooks.HookType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.HookType(nil), r.seen...)
}

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithClientLogger(zerolog.Nop())}, opts...)
	c := New(opts...)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func txn() *types.TransactionRequest {
	return &types.TransactionRequest{From: "0xA", To: "0xB", Value: "1"}
}

func TestSimulate_CacheHitSkipsSimulator(t *testing.T) {
	sim := &fakeSimulator{}
	c := newClient(t, WithSimulator(sim))
	ctx := context.Background()

	cache := builtin.NewCachingPlugin(builtin.DefaultCacheConfig())
	require.NoError(t, c.Use(ctx, cache))

	first, err := c.Simulate(ctx, txn())
	require.NoError(t, err)
	second, err := c.Simulate(ctx, txn())
	require.NoError(t, err)

	assert.EqualValues(t, 1, sim.calls.Load())
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, cache.CacheStats().Hits)
}

func TestSimulate_CachedResultOwnedByCaller(t *testing.T) {
	sim := &fakeSimulator{}
	c := newClient(t, WithSimulator(sim))
	ctx := context.Background()
	require.NoError(t, c.Use(ctx, builtin.NewCachingPlugin(builtin.DefaultCacheConfig())))

	stored, err := c.Simulate(ctx, txn())
	require.NoError(t, err)
	want := *stored
	stored.GasUsed = "1"

	hit, err := c.Simulate(ctx, txn())
	require.NoError(t, err)
	assert.Equal(t, &want, hit)
	hit.Success = false

	again, err := c.Simulate(ctx, txn())
	require.NoError(t, err)
	assert.Equal(t, &want, again)
	assert.EqualValues(t, 1, sim.calls.Load())
}

func TestSimulate_PhasesInOrder(t *testing.T) {
	rec := newHookRecorder(hooks.BeforeSimulation, hooks.AfterSimulation, hooks.OnError)
	c := newClient(t, WithSimulator(&fakeSimulator{}))
	require.NoError(t, c.Use(context.Background(), rec))

	_, err := c.Simulate(context.Background(), txn())
	require.NoError(t, err)
	assert.Equal(t, []hooks.HookType{hooks.BeforeSimulation, hooks.AfterSimulation}, rec.get())
}

func TestSimulate_FailureRunsOnError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	sim := &fakeSimulator{err: boom}
	c := newClient(t, WithSimulator(sim))
	ctx := context.Background()

	require.NoError(t, c.Use(ctx, builtin.NewRetryPlugin(builtin.RetryConfig{MaxAttempts: 2})))
	rec := newHookRecorder(hooks.AfterSimulation, hooks.OnError)
	require.NoError(t, c.Use(ctx, rec))

	_, err := c.Simulate(ctx, txn())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []hooks.HookType{hooks.OnError}, rec.get())

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "simulate", opErr.Operation)
	assert.True(t, opErr.ShouldRetry)
	assert.Equal(t, time.Second, opErr.RetryDelay)
	assert.Equal(t, 1, opErr.Attempt)

	// The host owns the retry loop and feeds the attempt back in.
	for opErr.ShouldRetry {
		_, err = c.Simulate(ctx, txn(), WithMetadata(builtin.KeyRetryAttempt, opErr.Attempt))
		require.ErrorAs(t, err, &opErr)
	}
	assert.Equal(t, 2, opErr.Attempt)
	assert.EqualValues(t, 3, sim.calls.Load())
}

func TestSimulate_ValidationRunsOnError(t *testing.T) {
	sim := &fakeSimulator{}
	rec := newHookRecorder(hooks.BeforeSimulation, hooks.OnError)
	c := newClient(t, WithSimulator(sim))
	require.NoError(t, c.Use(context.Background(), rec))

	_, err := c.Simulate(context.Background(), &types.TransactionRequest{To: "0xB"})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, opErr.Err.Error(), "from address is required")
	assert.Equal(t, []hooks.HookType{hooks.OnError}, rec.get())
	assert.Zero(t, sim.calls.Load())
}

func TestSimulate_HaltWithoutResult(t *testing.T) {
	sim := &fakeSimulator{}
	c := newClient(t, WithSimulator(sim))
	ctx := context.Background()

	limiter, err := builtin.NewRateLimitPlugin(ratelimit.NewRequestLimiter(ratelimit.Rate{Events: 1, Per: time.Hour}), builtin.RateLimitReject)
	require.NoError(t, err)
	require.NoError(t, c.Use(ctx, limiter))

	_, err = c.Simulate(ctx, txn())
	require.NoError(t, err)

	_, err = c.Simulate(ctx, txn())
	assert.ErrorIs(t, err, ErrHalted)
	assert.Contains(t, err.Error(), "rate limited")
	assert.EqualValues(t, 1, sim.calls.Load())
}

func TestSimulate_Cancelled(t *testing.T) {
	sim := &fakeSimulator{}
	c := newClient(t, WithSimulator(sim))
	require.NoError(t, c.Use(context.Background(), newHookRecorder(hooks.BeforeSimulation)))
	require.NoError(t, c.Engine().Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Simulate(ctx, txn())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sim.calls.Load())
}

func TestSimulate_NotConfigured(t *testing.T) {
	c := newClient(t)
	_, err := c.Simulate(context.Background(), txn())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSimulate_Middleware(t *testing.T) {
	c := newClient(t, WithSimulator(&fakeSimulator{}))

	var ops []string
	c.UseMiddleware(func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, op *middleware.Operation) (any, error) {
			ops = append(ops, op.Name+":"+op.RequestID)
			return next(ctx, op)
		}
	})

	_, err := c.Simulate(context.Background(), txn(), WithRequestID("req-7"))
	require.NoError(t, err)
	assert.Equal(t, []string{"simulate:req-7"}, ops)
}

func TestAnalyze(t *testing.T) {
	rec := newHookRecorder(hooks.BeforeAnalysis, hooks.AfterAnalysis)
	c := newClient(t, WithAnalyzer(fakeAnalyzer{}))
	require.NoError(t, c.Use(context.Background(), rec))

	res, err := c.Analyze(context.Background(), &types.AnalysisRequest{Transaction: txn(), Result: &types.SimulationResult{GasUsed: "5"}})
	require.NoError(t, err)
	assert.Equal(t, "gas 5", res.Summary)
	assert.Equal(t, []hooks.HookType{hooks.BeforeAnalysis, hooks.AfterAnalysis}, rec.get())

	_, err = c.Analyze(context.Background(), &types.AnalysisRequest{})
	var opErr *OperationError
	assert.ErrorAs(t, err, &opErr)
}

func TestRequest(t *testing.T) {
	rec := newHookRecorder(hooks.BeforeRequest, hooks.AfterResponse)
	c := newClient(t, WithTransport(fakeTransport{}))
	require.NoError(t, c.Use(context.Background(), rec))

	resp, err := c.Request(context.Background(), &types.Request{Method: "eth_call", Endpoint: "http://node"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Positive(t, resp.Latency)
	assert.Equal(t, []hooks.HookType{hooks.BeforeRequest, hooks.AfterResponse}, rec.get())
}

func TestConnectDisconnect(t *testing.T) {
	conn := &fakeConnector{}
	rec := newHookRecorder(hooks.OnConnect, hooks.OnDisconnect)
	c := newClient(t, WithConnector(conn))
	require.NoError(t, c.Use(context.Background(), rec))

	link, err := c.Connect(context.Background(), "ws://node")
	require.NoError(t, err)
	assert.Equal(t, "ws://node", link.Endpoint)

	require.NoError(t, c.Disconnect(context.Background(), link))
	assert.True(t, conn.closed.Load())
	assert.Equal(t, []hooks.HookType{hooks.OnConnect, hooks.OnDisconnect}, rec.get())
}

func TestDisconnect_HaltKeepsConnection(t *testing.T) {
	conn := &fakeConnector{}
	rec := newHookRecorder(hooks.OnDisconnect)
	rec.halt = true
	c := newClient(t, WithConnector(conn))
	require.NoError(t, c.Use(context.Background(), rec))

	err := c.Disconnect(context.Background(), &types.Connection{Endpoint: "ws://node"})
	assert.ErrorIs(t, err, ErrHalted)
	assert.False(t, conn.closed.Load())
}

func TestClientEventsAndClose(t *testing.T) {
	c := New(WithClientLogger(zerolog.Nop()), WithSimulator(&fakeSimulator{}))

	var registered, stopped atomic.Int32
	c.On(events.EventPluginRegistered, func(events.Event) { registered.Add(1) })
	c.On(events.EventEngineStopped, func(events.Event) { stopped.Add(1) })

	require.NoError(t, c.Use(context.Background(), builtin.NewMetricsPlugin()))
	_, err := c.Simulate(context.Background(), txn())
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	assert.EqualValues(t, 1, registered.Load())
	assert.EqualValues(t, 1, stopped.Load())
	assert.False(t, c.Engine().Initialized())
	assert.Empty(t, c.Engine().ListPlugins())
}
