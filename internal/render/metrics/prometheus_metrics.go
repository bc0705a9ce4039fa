package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const subsystem = "agent"

// PrometheusMetrics holds the render agent collectors
type PrometheusMetrics struct {
	// Chrome pool
	chromePoolSize  prometheus.Gauge
	chromeAvailable prometheus.Gauge

	// Renders
	rendersTotal    *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec
	rendersInFlight prometheus.Gauge

	httpRequests *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers collectors on the default registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers collectors on registerer.
// When registerer is also a Gatherer it backs the scrape handler.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.chromePoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "chrome_pool_size",
		Help:      "Total number of Chrome instances in the pool",
	})

	pm.chromeAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "chrome_available",
		Help:      "Number of idle Chrome instances",
	})

	pm.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "renders_total",
		Help:      "Total renders by output kind and outcome",
	}, []string{"output", "outcome"}) // outcome: completed, timeout, failed, error

	pm.renderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "render_duration_seconds",
		Help:      "Time from navigation start to load settlement",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	}, []string{"output"})

	pm.rendersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "renders_in_flight",
		Help:      "Renders currently holding a browser session",
	})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by status code",
	}, []string{"status"})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "errors_total",
		Help:      "Total errors by type",
	}, []string{"type"}) // type: validation, proxy, render, internal

	registerer.MustRegister(
		pm.chromePoolSize,
		pm.chromeAvailable,
		pm.rendersTotal,
		pm.renderDuration,
		pm.rendersInFlight,
		pm.httpRequests,
		pm.errorsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Render agent Prometheus metrics initialized", zap.String("namespace", namespace))
	return pm
}

func (pm *PrometheusMetrics) UpdateChromePoolSize(size float64) {
	pm.chromePoolSize.Set(size)
}

func (pm *PrometheusMetrics) UpdateChromeAvailable(available float64) {
	pm.chromeAvailable.Set(available)
}

func (pm *PrometheusMetrics) RecordRender(output, outcome string) {
	pm.rendersTotal.WithLabelValues(output, outcome).Inc()
}

func (pm *PrometheusMetrics) RecordRenderDuration(output string, seconds float64) {
	pm.renderDuration.WithLabelValues(output).Observe(seconds)
}

func (pm *PrometheusMetrics) AddInFlight(delta float64) {
	pm.rendersInFlight.Add(delta)
}

func (pm *PrometheusMetrics) RecordHTTPRequest(status string) {
	pm.httpRequests.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// ServeHTTP serves the Prometheus exposition format
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
