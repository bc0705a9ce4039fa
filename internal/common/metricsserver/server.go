package metricsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
)

// MetricsHandler interface for metrics collectors
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Route is an additional endpoint served next to metrics, e.g. /health
type Route struct {
	Path    string
	Handler fasthttp.RequestHandler
}

// StartMetricsServer listens on config.Listen and serves metrics plus extra routes.
// Returns nil server if metrics are disabled.
func StartMetricsServer(
	config configtypes.MetricsConfig,
	metricsHandler MetricsHandler,
	logger *zap.Logger,
	routes ...Route,
) (*fasthttp.Server, error) {
	if !config.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	ln, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics server listen on %s: %w", config.Listen, err)
	}

	return Serve(ln, config.Path, metricsHandler, logger, routes...), nil
}

// Serve runs the metrics server on an existing listener until it is shut down
func Serve(
	ln net.Listener,
	metricsPath string,
	metricsHandler MetricsHandler,
	logger *zap.Logger,
	routes ...Route,
) *fasthttp.Server {
	metricsServer := &fasthttp.Server{
		Handler:            createMetricsHandler(metricsPath, metricsHandler, routes),
		Name:               "RenderAgent-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		MaxRequestsPerConn: 1000,
		Concurrency:        100,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", ln.Addr().String()),
			zap.String("path", metricsPath),
			zap.Int("extra_routes", len(routes)))

		if err := metricsServer.Serve(ln); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", ln.Addr().String()),
				zap.Error(err))
		}
	}()

	return metricsServer
}

// createMetricsHandler creates a FastHTTP request handler for the metrics server
func createMetricsHandler(
	metricsPath string,
	metricsCollector MetricsHandler,
	routes []Route,
) fasthttp.RequestHandler {
	extra := make(map[string]fasthttp.RequestHandler, len(routes))
	for _, r := range routes {
		extra[r.Path] = r.Handler
	}

	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		if path == metricsPath {
			metricsCollector.ServeHTTP(ctx)
			return
		}
		if h, ok := extra[path]; ok {
			h(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
