package service

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
	engine.Stats
}

// HealthHandler reports pool capacity. Status is "degraded" when no instance is alive.
func HealthHandler(agentID string, stats engine.StatsProvider, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		resp := HealthResponse{Status: "ok", AgentID: agentID, Stats: stats.Stats()}
		status := fasthttp.StatusOK
		if resp.Total == 0 {
			resp.Status = "degraded"
			status = fasthttp.StatusServiceUnavailable
		}

		body, err := json.Marshal(resp)
		if err != nil {
			logger.Error("Failed to marshal health response", zap.Error(err))
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetStatusCode(status)
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	}
}
