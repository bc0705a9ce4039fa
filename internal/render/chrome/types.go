package chrome

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ChromeStatus represents the current state of a Chrome instance
type ChromeStatus int

const (
	// ChromeStatusIdle indicates the instance is ready for rendering
	ChromeStatusIdle ChromeStatus = iota
	// ChromeStatusRendering indicates the instance is owned by a session
	ChromeStatusRendering
	// ChromeStatusRestarting indicates the instance is being restarted
	ChromeStatusRestarting
	// ChromeStatusDead indicates the instance has crashed or been terminated
	ChromeStatusDead
)

// String returns the string representation of ChromeStatus
func (s ChromeStatus) String() string {
	switch s {
	case ChromeStatusIdle:
		return "idle"
	case ChromeStatusRendering:
		return "rendering"
	case ChromeStatusRestarting:
		return "restarting"
	case ChromeStatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ChromeInstance represents a single Chrome browser process.
// Tabs opened from ctx share the default browser context and its cookie jar.
type ChromeInstance struct {
	ID              int                // Immutable
	ctx             context.Context    // Replaced only by Restart while the instance is owned
	cancel          context.CancelFunc
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	createdAt       time.Time
	logger          *zap.Logger
	browserVersion  string

	// Mutable fields - protected by atomic operations
	status           int32 // ChromeStatus as int32
	requestsDone     int32
	lastUsedNano     int64  // Unix nanoseconds
	currentRequestID string // Set by acquire, cleared by release
}

// PoolStats represents statistics about the Chrome pool
type PoolStats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int
	TotalRenders       int64
	TotalRestarts      int64
	Uptime             time.Duration
}
