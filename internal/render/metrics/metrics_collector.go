package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes metrics recording for the render agent.
// A nil *MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a collector on the default Prometheus registry
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a collector on a custom registry
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// UpdatePool publishes Chrome pool size and idle instances
func (mc *MetricsCollector) UpdatePool(size, available int) {
	if mc == nil {
		return
	}
	mc.prometheus.UpdateChromePoolSize(float64(size))
	mc.prometheus.UpdateChromeAvailable(float64(available))
}

// RecordRender records one settled render and its load duration
func (mc *MetricsCollector) RecordRender(output, outcome string, elapsed time.Duration) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordRender(output, outcome)
	mc.prometheus.RecordRenderDuration(output, elapsed.Seconds())
}

// RecordRenderFailure records a render that ended in an internal failure
func (mc *MetricsCollector) RecordRenderFailure(output string) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordRender(output, "error")
	mc.prometheus.RecordError("render")
}

// RenderStarted increments in-flight renders; call RenderFinished when done
func (mc *MetricsCollector) RenderStarted() {
	if mc == nil {
		return
	}
	mc.prometheus.AddInFlight(1)
}

func (mc *MetricsCollector) RenderFinished() {
	if mc == nil {
		return
	}
	mc.prometheus.AddInFlight(-1)
}

// RecordHTTPRequest records a response status code
func (mc *MetricsCollector) RecordHTTPRequest(status int) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordHTTPRequest(strconv.Itoa(status))
}

func (mc *MetricsCollector) RecordValidationError() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordError("validation")
}

func (mc *MetricsCollector) RecordProxyError() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordError("proxy")
}

func (mc *MetricsCollector) RecordInternalError() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordError("internal")
	mc.logger.Debug("Recorded internal error")
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
