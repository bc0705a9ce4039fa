package service

import (
	"time"

	"github.com/valyala/fasthttp"
)

// NewHTTPServer builds the render listener. timeout bounds read, write and idle
// and must exceed the longest render.
func NewHTTPServer(handler *Handler, agentID string, timeout time.Duration, maxBodySize int) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:              handler.HandleRequest,
		ReadTimeout:          timeout,
		WriteTimeout:         timeout,
		IdleTimeout:          timeout,
		MaxRequestBodySize:   maxBodySize,
		Name:                 "RenderAgent/" + agentID,
		NoDefaultContentType: true,
	}
}
