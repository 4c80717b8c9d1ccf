package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CartMetrics holds Prometheus metrics for the cart synchronization core.
type CartMetrics struct {
	// Engine operations
	Operations *prometheus.CounterVec
	Rollbacks  *prometheus.CounterVec
	Resyncs    *prometheus.CounterVec

	// Merge-on-login
	Merges     *prometheus.CounterVec
	MergeItems *prometheus.CounterVec

	// Debounced quantity updates
	DebounceIntents *prometheus.CounterVec
	DebounceFlushes *prometheus.CounterVec

	// Remote cart API
	GatewayLatency *prometheus.HistogramVec

	// Current state
	CartLines prometheus.Gauge
}

// NewCartMetrics creates and registers cart metrics on reg.
// A nil reg registers on the default Prometheus registry.
func NewCartMetrics(namespace string, reg prometheus.Registerer) *CartMetrics {
	if namespace == "" {
		namespace = "cartsync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	subsystem := "cart"

	return &CartMetrics{
		// =======================================================================
		// Engine
		// =======================================================================
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Total cart operations by mode and outcome",
			},
			[]string{"op", "mode", "outcome"}, // mode: guest, authenticated; outcome: ok, error
		),
		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rollbacks_total",
				Help:      "Optimistic updates restored after a failed server call",
			},
			[]string{"op"},
		),
		Resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "resyncs_total",
				Help:      "Background refetches of the server cart",
			},
			[]string{"outcome"},
		),

		// =======================================================================
		// Merge
		// =======================================================================
		Merges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "merges_total",
				Help:      "Guest cart merges performed on login",
			},
			[]string{"outcome"}, // outcome: complete, partial, fetch_failed
		),
		MergeItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "merge_items_total",
				Help:      "Guest cart lines pushed to the server on login",
			},
			[]string{"outcome"},
		),

		// =======================================================================
		// Debounce
		// =======================================================================
		DebounceIntents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "quantity_intents_total",
				Help:      "Quantity change intents received by the debouncer",
			},
			[]string{"kind"}, // kind: set, increment, decrement
		),
		DebounceFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "quantity_flushes_total",
				Help:      "Debounced quantity updates sent to the engine",
			},
			[]string{"outcome"},
		),

		// =======================================================================
		// Gateway
		// =======================================================================
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "api_request_duration_seconds",
				Help:      "Cart API request latency",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op", "status"}, // status: 2xx, 4xx, 5xx, error
		),

		CartLines: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lines",
				Help:      "Line items currently held in memory",
			},
		),
	}
}

// NewNopCartMetrics returns metrics registered on a private registry, for
// tests and for callers that do not export metrics.
func NewNopCartMetrics() *CartMetrics {
	return NewCartMetrics("cartsync", prometheus.NewRegistry())
}

// ObserveGateway records one cart API call.
func (m *CartMetrics) ObserveGateway(op string, status int, err error, started time.Time) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(op, statusClass(status, err)).Observe(time.Since(started).Seconds())
}

// ObserveOperation records the outcome of one engine operation.
func (m *CartMetrics) ObserveOperation(op, mode string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, mode, outcome).Inc()
}

func statusClass(status int, err error) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	case err != nil:
		return "error"
	default:
		return "other"
	}
}
