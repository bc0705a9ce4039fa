package types

import (
	"fmt"
	"time"
)

// OutputKind selects the response format of a render
type OutputKind string

const (
	OutputJSON OutputKind = "json"
	OutputPDF  OutputKind = "pdf"
	OutputImg  OutputKind = "img"
)

// ParseOutputKind maps the contentType request value to an OutputKind.
// Unknown or empty values fall back to OutputJSON.
func ParseOutputKind(value string) OutputKind {
	switch OutputKind(value) {
	case OutputPDF:
		return OutputPDF
	case OutputImg:
		return OutputImg
	default:
		return OutputJSON
	}
}

// ProxyType is the protocol spoken to an upstream proxy
type ProxyType int

const (
	ProxyHTTP ProxyType = iota
	ProxySOCKS5
)

// String returns the scheme Chrome expects in --proxy-server style values
func (t ProxyType) String() string {
	if t == ProxySOCKS5 {
		return "socks5"
	}
	return "http"
}

// ProxySpec describes an upstream proxy for a single render
type ProxySpec struct {
	Type     ProxyType
	Host     string
	Port     int
	User     string
	Password string
}

// Server returns the proxy address in scheme://host:port form.
// Credentials are never part of it; they are answered on auth challenge.
func (p *ProxySpec) Server() string {
	return fmt.Sprintf("%s://%s:%d", p.Type, p.Host, p.Port)
}

// HasCredentials reports whether the proxy needs authentication
func (p *ProxySpec) HasCredentials() bool {
	return p.User != "" || p.Password != ""
}

// ImageSize is the requested screenshot viewport
type ImageSize struct {
	Width  int
	Height int
}

// RenderRequest is a validated render request, built once per HTTP request
type RenderRequest struct {
	RequestID string

	// TargetURL is percent-decoded and never empty after validation
	TargetURL string
	Settle    time.Duration
	Timeout   time.Duration // 0 means engine default

	Proxy      *ProxySpec
	UserAgent  string
	Script     string // already wrapped as an immediately invoked function
	PostBody   string // JSON object of form fields, empty for GET navigation
	UseCookies bool

	Output    OutputKind
	ImageSize *ImageSize // only honored for OutputImg
}

// HasScript reports whether a script must run after load
func (r *RenderRequest) HasScript() bool {
	return r.Script != ""
}
