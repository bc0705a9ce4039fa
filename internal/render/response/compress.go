package response

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fasthttp"
)

// EncodingGzip is the only content coding the agent produces
const EncodingGzip = "gzip"

// MaybeGzip compresses JSON responses of at least minSize bytes when the client
// accepts gzip. Binary outputs keep their bytes so ETags match the payload.
// minSize <= 0 disables compression.
func MaybeGzip(r *Response, acceptsGzip bool, minSize int) error {
	if !acceptsGzip || minSize <= 0 || len(r.Body) < minSize {
		return nil
	}
	if r.ContentType != ContentTypeJSON || r.ContentEncoding != "" {
		return nil
	}

	compressed, err := Gzip(r.Body)
	if err != nil {
		return err
	}
	r.Body = compressed
	r.ContentEncoding = EncodingGzip
	return nil
}

// Gzip compresses content at default level
func Gzip(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compression close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// AcceptsGzip reports whether the request advertises gzip support
func AcceptsGzip(ctx *fasthttp.RequestCtx) bool {
	return ctx.Request.Header.HasAcceptEncoding(EncodingGzip)
}
