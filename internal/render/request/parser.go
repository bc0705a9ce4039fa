package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/urlutil"
	"github.com/edgecomet/render-agent/internal/render/metrics"
	"github.com/edgecomet/render-agent/internal/render/proxy"
	"github.com/edgecomet/render-agent/pkg/types"
)

// Body keys
const (
	keyURL        = "url"
	keyWait       = "wait"
	keyProxy      = "proxy"
	keyOutput     = "contentType"
	keyImageSize  = "outImgSize"
	keyScript     = "js_script"
	keyPostFields = "data"
	keyTimeout    = "timeout"
)

// Out-of-body parameter names
const (
	ParamUserAgent = "ua"
	ParamUseCookie = "useCookie"
)

const emptyScript = "()()"

var imageSizePattern = regexp.MustCompile(`^(\d+)[xX](\d+)$`)

// Lookup returns an out-of-body request parameter, empty when absent
type Lookup func(name string) string

// Options are process-wide parser settings, immutable after startup
type Options struct {
	DefaultUserAgent     string
	BlockPrivateNetworks bool
}

// Parser turns raw HTTP request parts into a validated RenderRequest
type Parser struct {
	opts    Options
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// NewParser creates a Parser. metricsCollector may be nil.
func NewParser(opts Options, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *Parser {
	return &Parser{opts: opts, metrics: metricsCollector, logger: logger}
}

// Parse validates method and path, decodes the JSON body and extracts all render fields.
// Returned errors are one of the package sentinel errors.
func (p *Parser) Parse(method, path string, body []byte, params Lookup) (*types.RenderRequest, error) {
	if method == http.MethodGet || method == http.MethodHead {
		return nil, ErrMethodNotAllowed
	}
	if path != "/" && path != "" {
		return nil, ErrNotFound
	}

	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = func(string) string { return "" }
	}

	req := &types.RenderRequest{
		TargetURL:  percentDecode(stringField(fields, keyURL)),
		Settle:     millisField(fields, keyWait),
		Timeout:    millisField(fields, keyTimeout),
		UserAgent:  strings.TrimSpace(params(ParamUserAgent)),
		Script:     wrapScript(percentDecode(stringField(fields, keyScript))),
		PostBody:   FormToJSON(stringField(fields, keyPostFields)),
		UseCookies: strings.TrimSpace(params(ParamUseCookie)) == "1",
		Output:     types.ParseOutputKind(stringField(fields, keyOutput)),
		ImageSize:  ParseImageSize(stringField(fields, keyImageSize)),
	}

	if req.TargetURL == "" {
		return nil, ErrMissingURL
	}

	if p.opts.BlockPrivateNetworks && urlutil.IsPrivateTarget(req.TargetURL) {
		return nil, fmt.Errorf("%w: %s", ErrPrivateTarget, req.TargetURL)
	}

	if req.UserAgent == "" {
		req.UserAgent = p.opts.DefaultUserAgent
	}

	if raw := stringField(fields, keyProxy); raw != "" {
		spec, err := proxy.Parse(raw)
		if err != nil {
			p.metrics.RecordProxyError()
			p.logger.Warn("Ignoring proxy setting",
				zap.String("url", req.TargetURL),
				zap.String("proxy", raw),
				zap.Error(err))
		}
		req.Proxy = spec
	}

	return req, nil
}

// decodeObject accepts only a well-formed JSON object
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedRequest
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return fields, nil
}

// stringField returns the value when it is a JSON string, empty otherwise
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// millisField reads a non-negative integral JSON number of milliseconds.
// Anything else yields 0.
func millisField(fields map[string]json.RawMessage, key string) time.Duration {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}
	return time.Duration(f) * time.Millisecond
}

// percentDecode decodes every valid %XX sequence. Malformed escapes and '+'
// are copied literally.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

func wrapScript(raw string) string {
	wrapped := "(" + strings.TrimSpace(raw) + ")()"
	if wrapped == emptyScript {
		return ""
	}
	return wrapped
}

// FormToJSON converts "a=b&c=d" into {"a":"b","c":"d"}.
// Returns an empty string when no field survives.
func FormToJSON(data string) string {
	if data == "" {
		return ""
	}

	form := make(map[string]string)
	for _, pair := range strings.Split(data, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = formUnescape(key)
		if key == "" {
			continue
		}
		form[key] = formUnescape(value)
	}

	if len(form) == 0 {
		return ""
	}

	encoded, err := json.Marshal(form)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func formUnescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// ParseImageSize parses "<W>x<H>" (x or X). Zero dimensions or bad input return nil.
func ParseImageSize(s string) *types.ImageSize {
	m := imageSizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	width, errW := strconv.Atoi(m[1])
	height, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return nil
	}
	return &types.ImageSize{Width: width, Height: height}
}
