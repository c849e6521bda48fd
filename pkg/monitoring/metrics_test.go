package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypersim/hookengine/pkg/hooks"
)

func TestNewMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector("")

	assert.True(t, mc.IsEnabled())
	agg := mc.GetAggregatedMetrics()
	assert.Zero(t, agg.TotalDispatches)
	assert.Empty(t, agg.Hooks)
}

func TestMetricsCollector_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector("test")

	require.NoError(t, mc.Register(reg))
	assert.Error(t, mc.Register(reg), "registering twice must fail")

	mc.DispatchStarted(hooks.BeforeSimulation, 1)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_dispatches_total"], "got %v", names)
}

func TestMetricsCollector_Observer(t *testing.T) {
	mc := NewMetricsCollector("")

	mc.DispatchStarted(hooks.BeforeSimulation, 3)
	mc.HandlerFinished(hooks.BeforeSimulation, "caching", 2*time.Millisecond, nil)
	mc.HandlerFinished(hooks.BeforeSimulation, "logging", 4*time.Millisecond, errors.New("boom"))
	mc.HandlerFinished(hooks.BeforeSimulation, "metrics", time.Millisecond, &hooks.PanicError{Owner: "metrics", Value: "x"})
	mc.DispatchHalted(hooks.BeforeSimulation, "caching")

	mc.DispatchStarted(hooks.AfterSimulation, 1)
	mc.HandlerFinished(hooks.AfterSimulation, "caching", time.Millisecond, nil)

	agg := mc.GetAggregatedMetrics()
	assert.EqualValues(t, 2, agg.TotalDispatches)
	assert.EqualValues(t, 2, agg.TotalFailures)
	assert.EqualValues(t, 1, agg.TotalHalts)
	assert.InDelta(t, 0.5, agg.FailureRate, 1e-9)
	assert.InDelta(t, 0.5, agg.HaltRate, 1e-9)

	before := agg.Hooks[string(hooks.BeforeSimulation)]
	assert.EqualValues(t, 3, before.HandlerCalls)
	assert.Equal(t, 4*time.Millisecond, before.MaxDuration)
	assert.Equal(t, 7*time.Millisecond, before.TotalDuration)
	assert.Equal(t, map[string]int64{"error": 1, "panic": 1}, before.ErrorsByType)
	assert.Equal(t, map[string]int64{"caching": 1}, before.HaltedBy)

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.dispatches.WithLabelValues("before_simulation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.handlerCalls.WithLabelValues("after_simulation", "caching")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.handlerFailures.WithLabelValues("before_simulation", "metrics", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.halts.WithLabelValues("before_simulation", "caching")))
}

func TestMetricsCollector_Disabled(t *testing.T) {
	mc := NewMetricsCollector("")
	mc.Disable()
	assert.False(t, mc.IsEnabled())

	mc.DispatchStarted(hooks.OnError, 1)
	mc.HandlerFinished(hooks.OnError, "retry", time.Millisecond, errors.New("x"))
	mc.DispatchHalted(hooks.OnError, "retry")
	mc.ObserveOperation("simulate", time.Millisecond, nil)

	agg := mc.GetAggregatedMetrics()
	assert.Zero(t, agg.TotalDispatches)
	assert.Empty(t, agg.Operations)
	assert.Zero(t, testutil.ToFloat64(mc.dispatches.WithLabelValues("on_error")))

	mc.Enable()
	mc.DispatchStarted(hooks.OnError, 1)
	assert.EqualValues(t, 1, mc.GetAggregatedMetrics().TotalDispatches)
}

func TestMetricsCollector_ObserveOperation(t *testing.T) {
	mc := NewMetricsCollector("")

	mc.ObserveOperation("simulate", 10*time.Millisecond, nil)
	mc.ObserveOperation("simulate", 30*time.Millisecond, errors.New("reverted"))
	mc.ObserveOperation("connect", time.Millisecond, nil)

	ops := mc.GetAggregatedMetrics().Operations
	require.Contains(t, ops, "simulate")
	assert.EqualValues(t, 2, ops["simulate"].Calls)
	assert.EqualValues(t, 1, ops["simulate"].Failures)
	assert.Equal(t, 40*time.Millisecond, ops["simulate"].TotalDuration)
	assert.EqualValues(t, 1, ops["connect"].Calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationsTotal.WithLabelValues("simulate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationsTotal.WithLabelValues("simulate", "failure")))
}

func TestMetricsCollector_AggregateIsACopy(t *testing.T) {
	mc := NewMetricsCollector("")
	mc.DispatchStarted(hooks.BeforeRequest, 1)
	mc.HandlerFinished(hooks.BeforeRequest, "a", time.Millisecond, errors.New("x"))

	agg := mc.GetAggregatedMetrics()
	agg.Hooks["before_request"].ErrorsByType["error"] = 99

	again := mc.GetAggregatedMetrics()
	assert.EqualValues(t, 1, again.Hooks["before_request"].ErrorsByType["error"])
}

func TestMetricsCollector_Reset(t *testing.T) {
	mc := NewMetricsCollector("")
	mc.DispatchStarted(hooks.BeforeRequest, 1)
	mc.ObserveOperation("request", time.Millisecond, nil)

	mc.Reset()

	agg := mc.GetAggregatedMetrics()
	assert.Zero(t, agg.TotalDispatches)
	assert.Empty(t, agg.Operations)
	// Prometheus counters stay monotonic.
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.dispatches.WithLabelValues("before_request")))
}

func TestMetricsCollector_StartPeriodicReset(t *testing.T) {
	mc := NewMetricsCollector("")
	mc.DispatchStarted(hooks.BeforeRequest, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mc.StartPeriodicReset(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return mc.GetAggregatedMetrics().TotalDispatches == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartPeriodicReset did not return after cancel")
	}
}

func TestExportMetrics(t *testing.T) {
	mc := NewMetricsCollector("")
	mc.DispatchStarted(hooks.AfterSimulation, 2)
	mc.HandlerFinished(hooks.AfterSimulation, "metrics", 2*time.Millisecond, nil)
	mc.HandlerFinished(hooks.AfterSimulation, "caching", 4*time.Millisecond, nil)
	mc.DispatchStarted(hooks.BeforeSimulation, 1)

	exported := mc.ExportMetrics()
	require.Contains(t, exported, "aggregated")
	require.Contains(t, exported, "hooks")
	require.Contains(t, exported, "operations")

	perHook, ok := exported["hooks"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, perHook, 2)
	assert.Equal(t, "after_simulation", perHook[0]["hook"])
	assert.Equal(t, "before_simulation", perHook[1]["hook"])
	assert.InDelta(t, 3.0, perHook[0]["avg_handler_ms"], 1e-9)
	assert.InDelta(t, 4.0, perHook[0]["max_handler_ms"], 1e-9)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&hooks.PanicError{Owner: "p", Value: 1}, "panic"},
		{fmt.Errorf("wrapped: %w", &hooks.PanicError{Owner: "p"}), "panic"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("handler: %w", context.Canceled), "cancelled"},
		{errors.New("i/o timeout"), "timeout"},
		{errors.New("dial tcp: connection refused"), "network"},
		{errors.New("rate limit exceeded"), "rate_limited"},
		{errors.New("contract not found"), "not_found"},
		{errors.New("execution reverted"), "error"},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}
