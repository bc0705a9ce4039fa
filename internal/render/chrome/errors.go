package chrome

import "errors"

// Session errors - returned while driving a page
var (
	ErrNavigateFailed = errors.New("navigation failed")
	ErrExtractHTML    = errors.New("HTML extraction failed")
	ErrNotConfigured  = errors.New("session is not configured")
	ErrSessionClosed  = errors.New("session is closed")
)

// Pool errors - returned during Chrome instance management
var (
	ErrInstanceDead  = errors.New("chrome instance is dead")
	ErrRestartFailed = errors.New("chrome restart failed")
)
