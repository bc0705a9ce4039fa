// Package response serializes settled renders into HTTP responses.
package response

import (
	"fmt"

	"github.com/valyala/fasthttp"
)

// Content types
const (
	ContentTypeJSON = "application/json;charset=utf-8"
	ContentTypePDF  = "application/pdf"
	ContentTypePNG  = "image/png"
	ContentTypeText = "text/plain;charset=utf-8"
	ContentTypeHTML = "text/html;charset=utf-8"
)

// Fixed error bodies
const (
	BodyNotFound         = "page not found!"
	BodyMalformed        = "parameters must be json format!"
	BodyMissingURL       = "url is required!"
	BodyServerError      = "<html>server error,please try again.</html>"
)

// Response is a fully built HTTP response
type Response struct {
	StatusCode      int
	ContentType     string
	ContentEncoding string
	ETag            string
	Body            []byte
}

// Text builds a plain-text response
func Text(status int, body string) *Response {
	return &Response{StatusCode: status, ContentType: ContentTypeText, Body: []byte(body)}
}

// MethodNotAllowedBody names the rejected method
func MethodNotAllowedBody(method string) string {
	return fmt.Sprintf("Method '%s' is not supported, please use 'POST'", method)
}

// ServerError builds the generic HTML 500 response
func ServerError() *Response {
	return &Response{
		StatusCode:  fasthttp.StatusInternalServerError,
		ContentType: ContentTypeHTML,
		Body:        []byte(BodyServerError),
	}
}

// SetNoCache marks a response as non-cacheable.
// Applied to every response, including errors.
func SetNoCache(h *fasthttp.ResponseHeader) {
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "-1")
	h.Set(fasthttp.HeaderCacheControl, "no-cache")
}

// Write copies r into ctx
func (r *Response) Write(ctx *fasthttp.RequestCtx) {
	SetNoCache(&ctx.Response.Header)
	ctx.SetStatusCode(r.StatusCode)
	ctx.SetContentType(r.ContentType)
	if r.ETag != "" {
		ctx.Response.Header.Set(fasthttp.HeaderETag, r.ETag)
	}
	if r.ContentEncoding != "" {
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, r.ContentEncoding)
		ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
	}
	ctx.SetBody(r.Body)
}
