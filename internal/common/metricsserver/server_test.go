package metricsserver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
)

type mockMetricsHandler struct {
	called bool
}

func (m *mockMetricsHandler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.called = true
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("# HELP test_metric A test metric\n# TYPE test_metric counter\ntest_metric 42\n")
}

func startInMemory(t *testing.T, handler MetricsHandler, routes ...Route) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	server := Serve(ln, "/metrics", handler, zap.NewNop(), routes...)
	t.Cleanup(func() {
		_ = server.Shutdown()
		_ = ln.Close()
	})

	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return ln.Dial()
		},
	}
}

func get(t *testing.T, client *fasthttp.Client, path string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://metrics" + path)
	req.Header.SetConnectionClose()
	require.NoError(t, client.Do(req, resp))
	return resp.StatusCode(), string(resp.Body())
}

func TestStartMetricsServer_Disabled(t *testing.T) {
	handler := &mockMetricsHandler{}

	server, err := StartMetricsServer(configtypes.MetricsConfig{Enabled: false}, handler, zap.NewNop())

	require.NoError(t, err)
	assert.Nil(t, server, "Should return nil when metrics disabled")
	assert.False(t, handler.called)
}

func TestStartMetricsServer_ListenError(t *testing.T) {
	_, err := StartMetricsServer(configtypes.MetricsConfig{
		Enabled: true,
		Listen:  "not-an-address",
		Path:    "/metrics",
	}, &mockMetricsHandler{}, zap.NewNop())

	assert.Error(t, err)
}

func TestServe_MetricsPath(t *testing.T) {
	handler := &mockMetricsHandler{}
	client := startInMemory(t, handler)

	status, body := get(t, client, "/metrics")

	assert.Equal(t, fasthttp.StatusOK, status)
	assert.True(t, handler.called)
	assert.Contains(t, body, "test_metric 42")
}

func TestServe_ExtraRoute(t *testing.T) {
	client := startInMemory(t, &mockMetricsHandler{}, Route{
		Path: "/health",
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetBodyString(`{"status":"ok"}`)
		},
	})

	status, body := get(t, client, "/health")

	assert.Equal(t, fasthttp.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestServe_UnknownPath(t *testing.T) {
	handler := &mockMetricsHandler{}
	client := startInMemory(t, handler)

	status, body := get(t, client, "/other")

	assert.Equal(t, fasthttp.StatusNotFound, status)
	assert.Equal(t, "Not Found", body)
	assert.False(t, handler.called)
}
