// Package metrics exposes the scheduler's Prometheus instrumentation. All
// collectors live in a private registry so tests and multiple instances
// never trip over global state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draas"

// AgentCounter reports the current number of registered agents.
// Implemented by *registry.Registry.
type AgentCounter interface {
	Count() int
}

// ActiveCounter reports the number of placements still running.
// Implemented by *placement.Map.
type ActiveCounter interface {
	ActiveCount() int
}

// Metrics bundles the scheduler's collectors. Create instances with New;
// the result labels on the operation counters are "ok" and "error".
type Metrics struct {
	registry *prometheus.Registry

	heartbeatsTotal    prometheus.Counter
	agentsExpiredTotal prometheus.Counter
	buildsTotal        *prometheus.CounterVec
	pushesTotal        *prometheus.CounterVec
	dispatchesTotal    *prometheus.CounterVec
}

// New creates the collectors and registers the two live gauges, which pull
// their values from the registry and placement map on every scrape.
func New(agents AgentCounter, active ActiveCounter) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		heartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats accepted by the scheduler.",
		}),
		agentsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_expired_total",
			Help:      "Agents dropped by the expiry sweep.",
		}),
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Image builds by result.",
		}, []string{"result"}),
		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Registry pushes by result.",
		}, []string{"result"}),
		dispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Deployment dispatches by result.",
		}, []string{"result"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agents_registered",
		Help:      "Agents currently present in the registry.",
	}, func() float64 { return float64(agents.Count()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deployments_active",
		Help:      "Placements currently reported running.",
	}, func() float64 { return float64(active.ActiveCount()) })

	return m
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MarkHeartbeat counts one accepted heartbeat.
func (m *Metrics) MarkHeartbeat() {
	m.heartbeatsTotal.Inc()
}

// MarkExpired counts agents dropped by one sweep pass.
func (m *Metrics) MarkExpired(n int) {
	m.agentsExpiredTotal.Add(float64(n))
}

// MarkBuild counts one build attempt by outcome.
func (m *Metrics) MarkBuild(err error) {
	m.buildsTotal.WithLabelValues(result(err)).Inc()
}

// MarkPush counts one push attempt by outcome.
func (m *Metrics) MarkPush(err error) {
	m.pushesTotal.WithLabelValues(result(err)).Inc()
}

// MarkDispatch counts one dispatch attempt by outcome.
func (m *Metrics) MarkDispatch(err error) {
	m.dispatchesTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
