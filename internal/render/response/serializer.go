package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/render-agent/internal/render/orchestrator"
	"github.com/edgecomet/render-agent/pkg/types"
)

// Soft application status values carried in the JSON body
const (
	StatusContent   = "200"
	StatusNoContent = "999"
)

// Options configure binary output generation
type Options struct {
	ETagHash      string
	OutputTimeout time.Duration
}

// Serializer builds format-specific responses from settled renders
type Serializer struct {
	opts Options
}

func NewSerializer(opts Options) *Serializer {
	return &Serializer{opts: opts}
}

// renderBody preserves the wire key order of JSON responses
type renderBody struct {
	Content       string          `json:"content"`
	ScriptResult  json.RawMessage `json:"js_script_result"`
	OrigURL       string          `json:"orig_url"`
	URL           string          `json:"url"`
	StatusCode    string          `json:"status_code"`
	Cookies       string          `json:"cookies"`
	CookiesString string          `json:"cookiesString"`
	Time          string          `json:"time"`
}

// Serialize produces the response for output. PDF and PNG generation errors are
// returned to the caller; the JSON path never fails on page content.
func (s *Serializer) Serialize(ctx context.Context, output types.OutputKind, result *orchestrator.Result, origURL string, size *types.ImageSize) (*Response, error) {
	switch output {
	case types.OutputPDF:
		return s.binary(ctx, ContentTypePDF, func(ctx context.Context) ([]byte, error) {
			return result.PDF(ctx)
		})
	case types.OutputImg:
		return s.binary(ctx, ContentTypePNG, func(ctx context.Context) ([]byte, error) {
			return result.Image(ctx, size)
		})
	default:
		return s.JSON(result, origURL)
	}
}

func (s *Serializer) binary(ctx context.Context, contentType string, generate func(context.Context) ([]byte, error)) (*Response, error) {
	if s.opts.OutputTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.OutputTimeout)
		defer cancel()
	}

	content, err := generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", contentType, err)
	}

	return &Response{
		StatusCode:  fasthttp.StatusOK,
		ContentType: contentType,
		ETag:        ETag(s.opts.ETagHash, content),
		Body:        content,
	}, nil
}

// JSON builds the JSON render body
func (s *Serializer) JSON(result *orchestrator.Result, origURL string) (*Response, error) {
	status := StatusContent
	if result.TextContent == "" {
		status = StatusNoContent
	}

	body := renderBody{
		Content:      result.TextContent,
		ScriptResult: ScriptResultValue(result.ScriptResult),
		OrigURL:      origURL,
		URL:          result.FinalURL,
		StatusCode:   status,
		Time:         formatSeconds(result.Elapsed.Milliseconds()),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("encode render body: %w", err)
	}

	return &Response{
		StatusCode:  fasthttp.StatusOK,
		ContentType: ContentTypeJSON,
		Body:        bytes.TrimRight(buf.Bytes(), "\n"),
	}, nil
}

// ScriptResultValue embeds a script result that is a JSON object or array as
// structured JSON. Anything else, including invalid JSON, becomes a JSON string.
func ScriptResultValue(raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if isContainer(trimmed) && json.Valid(trimmed) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err == nil {
			return compact.Bytes()
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return json.RawMessage(`""`)
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func isContainer(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	first, last := b[0], b[len(b)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
