// Package metrics exposes operation, refresh and ledger read metrics in the
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/refresh"
)

// Metrics holds the collectors. A nil *Metrics ignores every call.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	rejected     *prometheus.CounterVec
	refreshRuns  *prometheus.CounterVec
	refreshFails prometheus.Counter
	throttled    prometheus.Counter
	readRetries  *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates and registers the collectors on a fresh registry that also
// carries the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictstake",
			Name:      "operations_total",
			Help:      "Finished operations by intent, final state and error kind.",
		}, []string{"intent", "state", "kind"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "predictstake",
			Name:      "operation_duration_seconds",
			Help:      "Time from guard acquisition to a terminal state.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"intent"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictstake",
			Name:      "operations_in_flight",
			Help:      "Operations holding a guard.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictstake",
			Name:      "operations_rejected_total",
			Help:      "Operations refused by local validation before anything was broadcast.",
		}, []string{"intent", "kind"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictstake",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Coordinated refresh runs.",
		}, []string{"remote"}),
		refreshFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "predictstake",
			Subsystem: "refresh",
			Name:      "subscriber_failures_total",
			Help:      "Subscriber refreshes that returned an error.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "predictstake",
			Subsystem: "refresh",
			Name:      "throttled_total",
			Help:      "Refresh requests coalesced by the throttle.",
		}),
		readRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictstake",
			Subsystem: "ledger",
			Name:      "read_retries_total",
			Help:      "Ledger reads retried after a transient failure.",
		}, []string{"op"}),
		started: make(map[string]time.Time),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.opDuration, m.inFlight, m.rejected,
		m.refreshRuns, m.refreshFails, m.throttled, m.readRetries,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveTransition is an opstate.Registry observer.
func (m *Metrics) ObserveTransition(t opstate.Transition) {
	if m == nil {
		return
	}
	if t.From == "" {
		m.inFlight.Inc()
		m.mu.Lock()
		m.started[t.OperationID] = t.At
		m.mu.Unlock()
		return
	}
	if !t.To.Terminal() {
		return
	}
	m.inFlight.Dec()
	kind := string(t.Kind())
	if kind == "" {
		kind = "none"
	}
	m.operations.WithLabelValues(string(t.Intent), string(t.To), kind).Inc()
	if t.TxHash == (common.Hash{}) && domain.IsValidation(t.Kind()) {
		m.rejected.WithLabelValues(string(t.Intent), kind).Inc()
	}

	m.mu.Lock()
	start, ok := m.started[t.OperationID]
	delete(m.started, t.OperationID)
	m.mu.Unlock()
	if ok {
		m.opDuration.WithLabelValues(string(t.Intent)).Observe(t.At.Sub(start).Seconds())
	}
}

// RefreshHooks returns coordinator hooks that count runs and throttles.
func (m *Metrics) RefreshHooks() refresh.Hooks {
	if m == nil {
		return refresh.Hooks{}
	}
	return refresh.Hooks{
		OnRun: func(r refresh.Run) {
			m.refreshRuns.WithLabelValues(strconv.FormatBool(r.Remote)).Inc()
			m.refreshFails.Add(float64(r.Failed))
		},
		OnThrottled: func(string) { m.throttled.Inc() },
	}
}

// ReadRetried counts one retried ledger read.
func (m *Metrics) ReadRetried(op string, _ error) {
	if m == nil {
		return
	}
	m.readRetries.WithLabelValues(op).Inc()
}
