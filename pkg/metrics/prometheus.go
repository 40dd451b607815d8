package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusReporter exports latency measurements and call gauges.
type PrometheusReporter struct {
	registry *prometheus.Registry

	OperationDuration *prometheus.HistogramVec
	OperationsTotal   *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	CallsActive       prometheus.Gauge
	CallsTotal        *prometheus.CounterVec
	BargeInsTotal     prometheus.Counter
}

// NewPrometheusReporter creates a reporter with its own registry.
func NewPrometheusReporter(namespace string) *PrometheusReporter {
	if namespace == "" {
		namespace = "phone_assistant"
	}

	registry := prometheus.NewRegistry()

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of external operations and turns",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 60, 120},
		},
		[]string{"type", "name", "provider"},
	)

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of measured operations",
		},
		[]string{"type", "name", "status"},
	)

	alertsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_alerts_total",
			Help:      "Latency threshold breaches",
		},
		[]string{"type", "level"},
	)

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls by outcome",
		},
		[]string{"outcome"},
	)

	bargeIns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Times a caller interrupted the assistant",
		},
	)

	registry.MustRegister(
		operationDuration,
		operationsTotal,
		alertsTotal,
		callsActive,
		callsTotal,
		bargeIns,
	)

	return &PrometheusReporter{
		registry:          registry,
		OperationDuration: operationDuration,
		OperationsTotal:   operationsTotal,
		AlertsTotal:       alertsTotal,
		CallsActive:       callsActive,
		CallsTotal:        callsTotal,
		BargeInsTotal:     bargeIns,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (p *PrometheusReporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (p *PrometheusReporter) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusReporter) Report(m Metric) {
	p.OperationDuration.WithLabelValues(string(m.OperationType), m.OperationName, m.Provider).Observe(m.Latency.Seconds())
	p.OperationsTotal.WithLabelValues(string(m.OperationType), m.OperationName, string(m.Status)).Inc()
}

func (p *PrometheusReporter) ReportAlert(a Alert) {
	p.AlertsTotal.WithLabelValues(string(a.Metric.OperationType), string(a.Level)).Inc()
}

// CallStarted records a new call.
func (p *PrometheusReporter) CallStarted() {
	p.CallsActive.Inc()
}

// CallEnded records the end of a call.
func (p *PrometheusReporter) CallEnded(outcome string) {
	p.CallsActive.Dec()
	p.CallsTotal.WithLabelValues(outcome).Inc()
}

// BargeIn records an interruption.
func (p *PrometheusReporter) BargeIn() {
	p.BargeInsTotal.Inc()
}

var _ Reporter = (*PrometheusReporter)(nil)
