package infrastructure

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synthpanel/internal/synthesis"
)

const metricsNamespace = "synthpanel"

// Metrics holds the Prometheus collectors of the application. It implements
// synthesis.Recorder so a panel builder can report per-group outcomes.
type Metrics struct {
	registry *prometheus.Registry

	GroupsTotal       *prometheus.CounterVec
	NonconvergedTotal prometheus.Counter
	Residual          prometheus.Histogram
	Iterations        prometheus.Histogram
	GroupDuration     prometheus.Histogram
	PanelsTotal       *prometheus.CounterVec
	RecordsWritten    prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GroupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "groups_synthesized_total",
			Help:      "Groups synthesized, by the resolver rule that produced their targets.",
		}, []string{"source"}),
		NonconvergedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proportion_nonconverged_total",
			Help:      "Groups whose proportion calibration missed the tolerance.",
		}),
		Residual: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "proportion_residual",
			Help:      "Absolute residual of the calibrated weighted proportion.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1},
		}),
		Iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "proportion_iterations",
			Help:      "Flip iterations used by proportion calibration.",
			Buckets:   prometheus.LinearBuckets(0, 25, 9),
		}),
		GroupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "group_duration_seconds",
			Help:      "Time to synthesize one group.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		PanelsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "panels_total",
			Help:      "Panel builds, by outcome.",
		}, []string{"outcome"}),
		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_written_total",
			Help:      "Records persisted to the table store.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ObserveGroup implements synthesis.Recorder
func (m *Metrics) ObserveGroup(source synthesis.TargetSource, result synthesis.ProportionResult, elapsed time.Duration) {
	m.GroupsTotal.WithLabelValues(string(source)).Inc()
	if !result.Converged {
		m.NonconvergedTotal.Inc()
	}
	m.Residual.Observe(result.Residual)
	m.Iterations.Observe(float64(result.Iterations))
	m.GroupDuration.Observe(elapsed.Seconds())
}

// ObservePanel counts a finished build
func (m *Metrics) ObservePanel(outcome string) {
	m.PanelsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecordsWritten counts persisted records
func (m *Metrics) ObserveRecordsWritten(n int) {
	m.RecordsWritten.Add(float64(n))
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
