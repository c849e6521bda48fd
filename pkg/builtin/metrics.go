package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/types"
)

// PerformanceMetrics is a snapshot of the metrics plugin counters.
type PerformanceMetrics struct {
	TotalRequests       int64         `json:"totalRequests"`
	SuccessfulRequests  int64         `json:"successfulRequests"`
	FailedRequests      int64         `json:"failedRequests"`
	Errors              int64         `json:"errors"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	Uptime              time.Duration `json:"uptime"`
}

// MetricsPlugin counts simulations and keeps a running average latency.
type MetricsPlugin struct {
	plugin.BasePlugin

	mu      sync.Mutex
	metrics PerformanceMetrics
	started time.Time
	now     func() time.Time
}

// NewMetricsPlugin creates the metrics plugin.
func NewMetricsPlugin() *MetricsPlugin {
	p := &MetricsPlugin{
		BasePlugin: plugin.NewBasePlugin("metrics", Version, "Collects performance metrics and statistics"),
		now:        time.Now,
	}
	p.started = p.now()
	return p
}

// Bindings counts simulations and errors at priority 5, after logging and caching.
func (p *MetricsPlugin) Bindings() []plugin.Binding {
	return []plugin.Binding{
		plugin.On(hooks.BeforeSimulation, 5, plugin.Observe(p.beforeSimulation)),
		plugin.On(hooks.AfterSimulation, 5, plugin.Observe(p.afterSimulation)),
		plugin.On(hooks.OnError, 5, plugin.Observe(p.onError)),
	}
}

// IsHealthy always reports true.
func (p *MetricsPlugin) IsHealthy() bool { return true }

// MetadataKeys lists the metadata entries the plugin writes.
func (p *MetricsPlugin) MetadataKeys() []string {
	return []string{KeyMetricsStartTime}
}

// GetMetrics returns a snapshot.
func (p *MetricsPlugin) GetMetrics() PerformanceMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.metrics
	snap.Uptime = p.now().Sub(p.started)
	return snap
}

// ResetMetrics zeroes the counters and restarts the uptime clock.
func (p *MetricsPlugin) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics = PerformanceMetrics{}
	p.started = p.now()
}

// Collectors exposes the counters as Prometheus metrics read at scrape time.
func (p *MetricsPlugin) Collectors(namespace string) []prometheus.Collector {
	read := func(f func(m PerformanceMetrics) float64) func() float64 {
		return func() float64 { return f(p.GetMetrics()) }
	}

	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "requests_total",
			Help:      "Simulations started",
		}, read(func(m PerformanceMetrics) float64 { return float64(m.TotalRequests) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "successful_total",
			Help:      "Simulations that completed successfully",
		}, read(func(m PerformanceMetrics) float64 { return float64(m.SuccessfulRequests) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "failed_total",
			Help:      "Simulations that completed unsuccessfully",
		}, read(func(m PerformanceMetrics) float64 { return float64(m.FailedRequests) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "errors_total",
			Help:      "Errors dispatched through ON_ERROR",
		}, read(func(m PerformanceMetrics) float64 { return float64(m.Errors) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "average_response_seconds",
			Help:      "Running average simulation latency",
		}, read(func(m PerformanceMetrics) float64 { return m.AverageResponseTime.Seconds() })),
	}
}

// Register adds Collectors to reg.
func (p *MetricsPlugin) Register(reg prometheus.Registerer, namespace string) error {
	for _, c := range p.Collectors(namespace) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *MetricsPlugin) beforeSimulation(_ context.Context, hc *hooks.HookContext, _ any) error {
	hc.Meta().Set(KeyMetricsStartTime, p.now())

	p.mu.Lock()
	p.metrics.TotalRequests++
	p.mu.Unlock()
	return nil
}

func (p *MetricsPlugin) afterSimulation(_ context.Context, hc *hooks.HookContext, payload any) error {
	start, ok := hc.Meta().Time(KeyMetricsStartTime)
	if !ok {
		return nil
	}
	elapsed := p.now().Sub(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if result, ok := payload.(*types.SimulationResult); ok && result != nil && result.Success {
		p.metrics.SuccessfulRequests++
	} else {
		p.metrics.FailedRequests++
	}

	completed := p.metrics.SuccessfulRequests + p.metrics.FailedRequests
	p.metrics.AverageResponseTime += (elapsed - p.metrics.AverageResponseTime) / time.Duration(completed)
	return nil
}

func (p *MetricsPlugin) onError(context.Context, *hooks.HookContext, any) error {
	p.mu.Lock()
	p.metrics.Errors++
	p.mu.Unlock()
	return nil
}
