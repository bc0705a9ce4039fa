package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/pkg/types"
)

// Outcome classifies how a load settled
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timeout"
	OutcomeFailed    Outcome = "failed"
)

// Result is the settled state of one render. Binary accessors delegate to the
// live session and are only valid inside the consume callback.
type Result struct {
	TextContent  string
	ScriptResult string
	FinalURL     string
	Elapsed      time.Duration
	Outcome      Outcome
	LoadErr      error

	session engine.Session
}

// PDF renders the loaded page as a PDF document
func (r *Result) PDF(ctx context.Context) ([]byte, error) {
	return r.session.PDF(ctx)
}

// Image captures the loaded page as PNG; nil size uses the engine viewport
func (r *Result) Image(ctx context.Context, size *types.ImageSize) ([]byte, error) {
	return r.session.Image(ctx, size)
}

// RenderFailure is an unexpected render failure answered with HTTP 500
type RenderFailure struct {
	URL   string
	Cause error
}

func (f *RenderFailure) Error() string {
	return fmt.Sprintf("render of %s failed: %v", f.URL, f.Cause)
}

func (f *RenderFailure) Unwrap() error {
	return f.Cause
}
