// Package engine defines the contract between render orchestration and a page
// rendering backend.
//
// A Session is exclusively owned by one request: it is configured once, loaded
// once, read after its Completion settles and closed exactly once.
package engine

import (
	"context"
	"time"

	"github.com/edgecomet/render-agent/pkg/types"
)

// Engine hands out isolated rendering sessions
type Engine interface {
	// NewSession blocks until a session is available or ctx is done
	NewSession(ctx context.Context, requestID string) (Session, error)
}

// SessionConfig is applied before navigation
type SessionConfig struct {
	Proxy      *types.ProxySpec
	UseCookies bool
	Script     string
	PostBody   string
}

// LoadOptions describe one navigation
type LoadOptions struct {
	URL       string
	Settle    time.Duration
	UserAgent string
	Timeout   time.Duration
}

// Session is one page rendering session
type Session interface {
	Configure(cfg SessionConfig) error

	// Load starts navigation and returns immediately. The returned Completion
	// settles exactly once: nil on load, an error when the engine gives up.
	Load(ctx context.Context, opts LoadOptions) *Completion

	// Abort stops an in-progress load. Safe to call after completion.
	Abort()

	// Accessors are valid after the Completion settled. They return the empty
	// string when nothing could be read.
	TextContent() string
	ScriptResult() string
	CurrentURL() string

	PDF(ctx context.Context) ([]byte, error)

	// Image captures a PNG; nil size means the engine viewport
	Image(ctx context.Context, size *types.ImageSize) ([]byte, error)

	// Close releases all backend resources. Idempotent.
	Close()
}

// Stats is a point-in-time view of engine capacity
type Stats struct {
	Total     int `json:"pool_size"`
	Available int `json:"available_instances"`
	Active    int `json:"active_instances"`
}

// StatsProvider is implemented by engines that can report capacity
type StatsProvider interface {
	Stats() Stats
}
