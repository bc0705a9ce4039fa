package request

import "errors"

// Request errors - terminal for the request, answered before any render starts
var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrNotFound         = errors.New("page not found")
	ErrMalformedRequest = errors.New("parameters must be json format")
	ErrMissingURL       = errors.New("url is required")
	ErrPrivateTarget    = errors.New("target resolves to a private network address")
)
