// Package monitoring collects dispatch and host-operation metrics and exports
// them to Prometheus.
package monitoring

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypersim/hookengine/pkg/hooks"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "hookengine"

// MetricsCollector implements hooks.Observer and middleware.OperationRecorder.
// It keeps an in-process aggregate alongside the Prometheus vectors, so the
// numbers are available without a scrape.
type MetricsCollector struct {
	mu         sync.RWMutex
	enabled    bool
	hooks      map[hooks.HookType]*HookMetrics
	operations map[string]*OperationMetrics

	dispatches      *prometheus.CounterVec
	handlerCalls    *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	halts           *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	operationsTotal *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
}

// HookMetrics aggregates the dispatches of one hook type.
type HookMetrics struct {
	Dispatches    int64            `json:"dispatches"`
	HandlerCalls  int64            `json:"handler_calls"`
	Failures      int64            `json:"failures"`
	Halts         int64            `json:"halts"`
	TotalDuration time.Duration    `json:"total_duration"`
	MaxDuration   time.Duration    `json:"max_duration"`
	ErrorsByType  map[string]int64 `json:"errors_by_type,omitempty"`
	HaltedBy      map[string]int64 `json:"halted_by,omitempty"`
}

// OperationMetrics aggregates one host operation run through middleware.
type OperationMetrics struct {
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AggregatedMetrics is a point-in-time copy of everything collected.
type AggregatedMetrics struct {
	TotalDispatches int64                       `json:"total_dispatches"`
	TotalFailures   int64                       `json:"total_failures"`
	TotalHalts      int64                       `json:"total_halts"`
	FailureRate     float64                     `json:"failure_rate"`
	HaltRate        float64                     `json:"halt_rate"`
	Hooks           map[string]HookMetrics      `json:"hooks"`
	Operations      map[string]OperationMetrics `json:"operations"`
	LastUpdated     time.Time                   `json:"last_updated"`
}

// NewMetricsCollector creates a collector whose metric names start with
// namespace, DefaultNamespace when empty.
func NewMetricsCollector(namespace string) *MetricsCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &MetricsCollector{
		enabled:    true,
		hooks:      make(map[hooks.HookType]*HookMetrics),
		operations: make(map[string]*OperationMetrics),

		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of hook dispatches with at least one handler",
		}, []string{"hook"}),
		handlerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_calls_total",
			Help:      "Total number of handler invocations",
		}, []string{"hook", "plugin"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total number of handler errors and panics",
		}, []string{"hook", "plugin", "error_type"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_halts_total",
			Help:      "Total number of dispatches short-circuited by a handler",
		}, []string{"hook", "plugin"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Histogram of handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"hook"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of host operations by outcome",
		}, []string{"operation", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Histogram of host operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Register adds every vector to reg.
func (mc *MetricsCollector) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		mc.dispatches, mc.handlerCalls, mc.handlerFailures, mc.halts,
		mc.handlerDuration, mc.operationsTotal, mc.operationTime,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Enable enables metrics collection
func (mc *MetricsCollector) Enable() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = true
}

// Disable disables metrics collection
func (mc *MetricsCollector) Disable() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = false
}

// IsEnabled reports whether observations are recorded.
func (mc *MetricsCollector) IsEnabled() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

func (mc *MetricsCollector) hookLocked(hookType hooks.HookType) *HookMetrics {
	m, ok := mc.hooks[hookType]
	if !ok {
		m = &HookMetrics{ErrorsByType: map[string]int64{}, HaltedBy: map[string]int64{}}
		mc.hooks[hookType] = m
	}
	return m
}

// DispatchStarted implements hooks.Observer.
func (mc *MetricsCollector) DispatchStarted(hookType hooks.HookType, _ int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.enabled {
		return
	}

	mc.hookLocked(hookType).Dispatches++
	mc.dispatches.WithLabelValues(string(hookType)).Inc()
}

// HandlerFinished implements hooks.Observer.
func (mc *MetricsCollector) HandlerFinished(hookType hooks.HookType, owner string, elapsed time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.enabled {
		return
	}

	m := mc.hookLocked(hookType)
	m.HandlerCalls++
	m.TotalDuration += elapsed
	if elapsed > m.MaxDuration {
		m.MaxDuration = elapsed
	}

	mc.handlerCalls.WithLabelValues(string(hookType), owner).Inc()
	mc.handlerDuration.WithLabelValues(string(hookType)).Observe(elapsed.Seconds())

	if err != nil {
		kind := classifyError(err)
		m.Failures++
		m.ErrorsByType[kind]++
		mc.handlerFailures.WithLabelValues(string(hookType), owner, kind).Inc()
	}
}

// DispatchHalted implements hooks.Observer.
func (mc *MetricsCollector) DispatchHalted(hookType hooks.HookType, owner string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.enabled {
		return
	}

	m := mc.hookLocked(hookType)
	m.Halts++
	m.HaltedBy[owner]++
	mc.halts.WithLabelValues(string(hookType), owner).Inc()
}

// ObserveOperation implements middleware.OperationRecorder.
func (mc *MetricsCollector) ObserveOperation(name string, elapsed time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.enabled {
		return
	}

	m, ok := mc.operations[name]
	if !ok {
		m = &OperationMetrics{}
		mc.operations[name] = m
	}
	m.Calls++
	m.TotalDuration += elapsed

	outcome := "success"
	if err != nil {
		m.Failures++
		outcome = "failure"
	}
	mc.operationsTotal.WithLabelValues(name, outcome).Inc()
	mc.operationTime.WithLabelValues(name).Observe(elapsed.Seconds())
}

// GetAggregatedMetrics returns a copy of the current aggregate.
func (mc *MetricsCollector) GetAggregatedMetrics() *AggregatedMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	agg := &AggregatedMetrics{
		Hooks:       make(map[string]HookMetrics, len(mc.hooks)),
		Operations:  make(map[string]OperationMetrics, len(mc.operations)),
		LastUpdated: time.Now(),
	}

	var calls int64
	for hookType, m := range mc.hooks {
		cp := *m
		cp.ErrorsByType = copyCounts(m.ErrorsByType)
		cp.HaltedBy = copyCounts(m.HaltedBy)
		agg.Hooks[string(hookType)] = cp

		agg.TotalDispatches += m.Dispatches
		agg.TotalFailures += m.Failures
		agg.TotalHalts += m.Halts
		calls += m.HandlerCalls
	}
	for name, m := range mc.operations {
		agg.Operations[name] = *m
	}

	if calls > 0 {
		agg.FailureRate = float64(agg.TotalFailures) / float64(calls)
	}
	if agg.TotalDispatches > 0 {
		agg.HaltRate = float64(agg.TotalHalts) / float64(agg.TotalDispatches)
	}
	return agg
}

// Reset clears the in-process aggregate. Prometheus counters are monotonic and
// keep their values.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.hooks = make(map[hooks.HookType]*HookMetrics)
	mc.operations = make(map[string]*OperationMetrics)
}

// StartPeriodicReset clears the aggregate every interval until ctx is done.
func (mc *MetricsCollector) StartPeriodicReset(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.Reset()
		case <-ctx.Done():
			return
		}
	}
}

// ExportMetrics exports metrics in a structured format
func (mc *MetricsCollector) ExportMetrics() map[string]any {
	agg := mc.GetAggregatedMetrics()

	hookNames := make([]string, 0, len(agg.Hooks))
	for name := range agg.Hooks {
		hookNames = append(hookNames, name)
	}
	sort.Strings(hookNames)

	perHook := make([]map[string]any, 0, len(hookNames))
	for _, name := range hookNames {
		m := agg.Hooks[name]
		var avg time.Duration
		if m.HandlerCalls > 0 {
			avg = m.TotalDuration / time.Duration(m.HandlerCalls)
		}
		perHook = append(perHook, map[string]any{
			"hook":           name,
			"dispatches":     m.Dispatches,
			"handler_calls":  m.HandlerCalls,
			"failures":       m.Failures,
			"halts":          m.Halts,
			"avg_handler_ms": float64(avg) / float64(time.Millisecond),
			"max_handler_ms": float64(m.MaxDuration) / float64(time.Millisecond),
			"errors_by_type": m.ErrorsByType,
			"halted_by":      m.HaltedBy,
		})
	}

	return map[string]any{
		"aggregated": map[string]any{
			"total_dispatches": agg.TotalDispatches,
			"total_failures":   agg.TotalFailures,
			"total_halts":      agg.TotalHalts,
			"failure_rate":     agg.FailureRate,
			"halt_rate":        agg.HaltRate,
			"last_updated":     agg.LastUpdated,
		},
		"hooks":      perHook,
		"operations": agg.Operations,
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// classifyError classifies errors into categories for metrics
func classifyError(err error) string {
	var panicErr *hooks.PanicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no route to host"):
		return "network"
	case strings.Contains(errStr, "rate limit"):
		return "rate_limited"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	default:
		return "error"
	}
}
