package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/types"
)

func newMetrics(clock *fakeClock) *MetricsPlugin {
	p := NewMetricsPlugin()
	p.now = clock.Now
	p.started = clock.Now()
	return p
}

func runTimed(t *testing.T, engine interface {
	Execute(context.Context, hooks.HookType, *hooks.HookContext, any) (*hooks.HookContext, error)
}, clock *fakeClock, d time.Duration, success bool) {
	t.Helper()
	ctx := context.Background()

	hc, err := engine.Execute(ctx, hooks.BeforeSimulation, hooks.NewContext("", nil), nil)
	require.NoError(t, err)
	clock.Advance(d)

	result := &types.SimulationResult{Success: success}
	_, err = engine.Execute(ctx, hooks.AfterSimulation, hc.Next(result), result)
	require.NoError(t, err)
}

func TestMetricsPlugin(t *testing.T) {
	clock := newFakeClock()
	p := newMetrics(clock)
	engine := newEngine(t, p)

	runTimed(t, engine, clock, 10*time.Millisecond, true)
	runTimed(t, engine, clock, 30*time.Millisecond, false)

	_, err := engine.Execute(context.Background(), hooks.OnError, hooks.NewContext("", nil), nil)
	require.NoError(t, err)

	m := p.GetMetrics()
	assert.EqualValues(t, 2, m.TotalRequests)
	assert.EqualValues(t, 1, m.SuccessfulRequests)
	assert.EqualValues(t, 1, m.FailedRequests)
	assert.EqualValues(t, 1, m.Errors)
	assert.Equal(t, 20*time.Millisecond, m.AverageResponseTime)
	assert.Equal(t, 40*time.Millisecond, m.Uptime)
}

func TestMetricsPlugin_AfterWithoutStart(t *testing.T) {
	p := newMetrics(newFakeClock())
	engine := newEngine(t, p)

	result := &types.SimulationResult{Success: true}
	_, err := engine.Execute(context.Background(), hooks.AfterSimulation, hooks.NewContext("", result), result)
	require.NoError(t, err)

	m := p.GetMetrics()
	assert.Zero(t, m.SuccessfulRequests+m.FailedRequests, "completion without a start is not counted")
}

func TestMetricsPlugin_Reset(t *testing.T) {
	clock := newFakeClock()
	p := newMetrics(clock)
	engine := newEngine(t, p)

	runTimed(t, engine, clock, time.Second, true)
	p.ResetMetrics()
	clock.Advance(time.Second)

	m := p.GetMetrics()
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.AverageResponseTime)
	assert.Equal(t, time.Second, m.Uptime)
}

func TestMetricsPlugin_Prometheus(t *testing.T) {
	clock := newFakeClock()
	p := newMetrics(clock)
	engine := newEngine(t, p)

	reg := prometheus.NewRegistry()
	require.NoError(t, p.Register(reg, "test"))

	runTimed(t, engine, clock, 2*time.Second, true)

	collectors := p.Collectors("other")
	require.Len(t, collectors, 5)
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors[0]))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors[1]))
	assert.Equal(t, 0.0, testutil.ToFloat64(collectors[2]))
	assert.Equal(t, 2.0, testutil.ToFloat64(collectors[4]))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
