// Package orchestrator bridges a blocking request over an asynchronous page load.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/internal/render/metrics"
	"github.com/edgecomet/render-agent/pkg/types"
)

// Options bound request timeouts
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Orchestrator drives one session per render
type Orchestrator struct {
	engine  engine.Engine
	opts    Options
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// New creates an Orchestrator. metricsCollector may be nil.
func New(eng engine.Engine, opts Options, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		engine:  eng,
		opts:    opts,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// EffectiveTimeout resolves a requested timeout against the configured bounds
func (o *Orchestrator) EffectiveTimeout(requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	if o.opts.MaxTimeout > 0 && timeout > o.opts.MaxTimeout {
		timeout = o.opts.MaxTimeout
	}
	return timeout
}

// Render loads req.TargetURL and passes the settled result to consume.
// The session is released after consume returns, on every path.
//
// Timeouts and engine-reported load failures are soft: consume still runs.
// Session creation, configuration, consume errors and panics return *RenderFailure.
func (o *Orchestrator) Render(ctx context.Context, req *types.RenderRequest, consume func(*Result) error) (err error) {
	logger := o.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("url", req.TargetURL))

	session, err := o.engine.NewSession(ctx, req.RequestID)
	if err != nil {
		o.metrics.RecordRenderFailure(string(req.Output))
		return &RenderFailure{URL: req.TargetURL, Cause: fmt.Errorf("create session: %w", err)}
	}
	o.metrics.RenderStarted()
	defer func() {
		session.Close()
		o.metrics.RenderFinished()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Render panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.metrics.RecordRenderFailure(string(req.Output))
			err = &RenderFailure{URL: req.TargetURL, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	cfg := engine.SessionConfig{
		Proxy:      req.Proxy,
		UseCookies: req.UseCookies,
		Script:     req.Script,
		PostBody:   req.PostBody,
	}
	if err := session.Configure(cfg); err != nil {
		o.metrics.RecordRenderFailure(string(req.Output))
		return &RenderFailure{URL: req.TargetURL, Cause: fmt.Errorf("configure session: %w", err)}
	}

	timeout := o.EffectiveTimeout(req.Timeout)
	logger.Debug("Starting navigation",
		zap.Duration("settle", req.Settle),
		zap.Duration("timeout", timeout),
		zap.Bool("proxy", req.Proxy != nil),
		zap.Bool("script", req.HasScript()),
		zap.Bool("post", req.PostBody != ""))

	start := time.Now()
	completion := session.Load(ctx, engine.LoadOptions{
		URL:       req.TargetURL,
		Settle:    req.Settle,
		UserAgent: req.UserAgent,
		Timeout:   timeout,
	})
	stop := completion.SettleAfter(timeout, engine.ErrRenderTimeout)
	loadErr := completion.Wait(ctx)
	stop()
	elapsed := time.Since(start)

	outcome := OutcomeCompleted
	switch {
	case errors.Is(loadErr, engine.ErrRenderTimeout):
		outcome = OutcomeTimedOut
		session.Abort()
		logger.Warn("Render timed out", zap.Duration("timeout", timeout))
	case loadErr != nil:
		outcome = OutcomeFailed
		session.Abort()
		logger.Warn("Page load failed", zap.Error(loadErr))
	}

	result := &Result{
		TextContent:  session.TextContent(),
		ScriptResult: session.ScriptResult(),
		FinalURL:     session.CurrentURL(),
		Elapsed:      elapsed,
		Outcome:      outcome,
		LoadErr:      loadErr,
		session:      session,
	}
	o.metrics.RecordRender(string(req.Output), string(outcome), elapsed)

	logger.Info("Render settled",
		zap.String("outcome", string(outcome)),
		zap.String("final_url", result.FinalURL),
		zap.Int("content_bytes", len(result.TextContent)),
		zap.Duration("elapsed", elapsed))

	if err := consume(result); err != nil {
		var failure *RenderFailure
		if errors.As(err, &failure) {
			return failure
		}
		return &RenderFailure{URL: req.TargetURL, Cause: err}
	}
	return nil
}
