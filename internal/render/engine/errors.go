package engine

import "errors"

var (
	// ErrRenderTimeout settles a Completion whose load outlived the request timeout
	ErrRenderTimeout = errors.New("render timeout")

	// ErrLoadFailed wraps navigation failures reported by the backend
	ErrLoadFailed = errors.New("page load failed")

	// ErrNoCapacity is returned when no session became available in time
	ErrNoCapacity = errors.New("no render capacity available")

	// ErrEngineClosed is returned once the engine is shutting down
	ErrEngineClosed = errors.New("render engine closed")
)
