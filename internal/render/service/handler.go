package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/htmlprocessor"
	"github.com/edgecomet/render-agent/internal/common/requestid"
	"github.com/edgecomet/render-agent/internal/render/metrics"
	"github.com/edgecomet/render-agent/internal/render/orchestrator"
	"github.com/edgecomet/render-agent/internal/render/request"
	"github.com/edgecomet/render-agent/internal/render/response"
	"github.com/edgecomet/render-agent/pkg/types"
)

// BodyForbiddenTarget answers renders of blocked private network targets
const BodyForbiddenTarget = "url is not allowed!"

// Options are immutable process-wide handler settings
type Options struct {
	// CompressMinSize enables gzip for JSON bodies of at least this many bytes
	CompressMinSize int

	// BaseContext parents every render; cancelling it aborts in-flight renders.
	// Defaults to context.Background.
	BaseContext func() context.Context
}

// Handler serves render requests
type Handler struct {
	parser     *request.Parser
	orch       *orchestrator.Orchestrator
	serializer *response.Serializer
	opts       Options
	metrics    *metrics.MetricsCollector
	logger     *zap.Logger
}

// NewHandler wires parsing, orchestration and serialization
func NewHandler(parser *request.Parser, orch *orchestrator.Orchestrator, serializer *response.Serializer, opts Options, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *Handler {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background
	}
	return &Handler{
		parser:     parser,
		orch:       orch,
		serializer: serializer,
		opts:       opts,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// HandleRequest is the fasthttp entry point
func (h *Handler) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.Resolve(string(ctx.Request.Header.Peek(requestid.Header)))

	resp := h.handle(ctx, requestID)
	resp.Write(ctx)
	ctx.Response.Header.Set(requestid.Header, requestID)
	h.metrics.RecordHTTPRequest(resp.StatusCode)
}

func (h *Handler) handle(ctx *fasthttp.RequestCtx, requestID string) *response.Response {
	req, err := h.parser.Parse(string(ctx.Method()), string(ctx.Path()), ctx.PostBody(), queryOrHeader(ctx))
	if err != nil {
		return h.requestError(ctx, requestID, err)
	}
	req.RequestID = requestID

	resp, err := h.render(h.opts.BaseContext(), req)
	if err != nil {
		h.metrics.RecordInternalError()
		h.logger.Error("Page error",
			zap.String("request_id", requestID),
			zap.String("url", req.TargetURL),
			zap.Error(err))
		return response.ServerError()
	}

	if err := response.MaybeGzip(resp, response.AcceptsGzip(ctx), h.opts.CompressMinSize); err != nil {
		h.logger.Warn("Failed to compress response, sending uncompressed",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	return resp
}

// render is the single failure boundary around orchestration and serialization.
// Panics anywhere below it become errors.
func (h *Handler) render(ctx context.Context, req *types.RenderRequest) (resp *response.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered from panic in render",
				zap.String("request_id", req.RequestID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = nil
			err = &orchestrator.RenderFailure{URL: req.TargetURL, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	h.logger.Info("Render request",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.TargetURL),
		zap.String("output", string(req.Output)),
		zap.Duration("settle", req.Settle))

	err = h.orch.Render(ctx, req, func(result *orchestrator.Result) error {
		r, err := h.serializer.Serialize(ctx, req.Output, result, req.TargetURL, req.ImageSize)
		if err != nil {
			return err
		}
		h.logResult(req, result, r)
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *Handler) logResult(req *types.RenderRequest, result *orchestrator.Result, resp *response.Response) {
	if !h.logger.Core().Enabled(zap.DebugLevel) {
		h.logger.Info("Render finished",
			zap.String("request_id", req.RequestID),
			zap.String("url", req.TargetURL),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("body_bytes", len(resp.Body)),
			zap.Duration("elapsed", result.Elapsed))
		return
	}

	summary := htmlprocessor.Summarize(result.TextContent)
	h.logger.Debug("Render finished",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.TargetURL),
		zap.String("outcome", string(result.Outcome)),
		zap.String("title", summary.Title),
		zap.Int("links", summary.Links),
		zap.Int("scripts", summary.Scripts),
		zap.String("content", htmlprocessor.Snippet(result.TextContent)),
		zap.Int("body_bytes", len(resp.Body)),
		zap.Duration("elapsed", result.Elapsed))
}

func (h *Handler) requestError(ctx *fasthttp.RequestCtx, requestID string, err error) *response.Response {
	h.metrics.RecordValidationError()
	h.logger.Debug("Rejected request",
		zap.String("request_id", requestID),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.Error(err))

	switch {
	case errors.Is(err, request.ErrMethodNotAllowed):
		ctx.Response.Header.Set(fasthttp.HeaderAllow, fasthttp.MethodPost)
		return response.Text(fasthttp.StatusMethodNotAllowed, response.MethodNotAllowedBody(string(ctx.Method())))
	case errors.Is(err, request.ErrNotFound):
		return response.Text(fasthttp.StatusNotFound, response.BodyNotFound)
	case errors.Is(err, request.ErrMalformedRequest):
		return response.Text(fasthttp.StatusNotImplemented, response.BodyMalformed)
	case errors.Is(err, request.ErrMissingURL):
		return response.Text(fasthttp.StatusBadRequest, response.BodyMissingURL)
	case errors.Is(err, request.ErrPrivateTarget):
		return response.Text(fasthttp.StatusBadRequest, BodyForbiddenTarget)
	default:
		return response.ServerError()
	}
}

// queryOrHeader reads out-of-body parameters from the query string, then headers
func queryOrHeader(ctx *fasthttp.RequestCtx) request.Lookup {
	return func(name string) string {
		if v := ctx.QueryArgs().Peek(name); len(v) > 0 {
			return string(v)
		}
		return string(ctx.Request.Header.Peek(name))
	}
}
