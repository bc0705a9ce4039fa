package chrome

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/pkg/types"
)

func TestFormEncode(t *testing.T) {
	form, err := formEncode(`{"q":"hello world","x":"&"}`)
	require.NoError(t, err)

	values, err := url.ParseQuery(form)
	require.NoError(t, err)
	assert.Equal(t, "hello world", values.Get("q"))
	assert.Equal(t, "&", values.Get("x"))

	_, err = formEncode(`not json`)
	assert.Error(t, err)
}

func TestNewInterceptor_PostData(t *testing.T) {
	in := newInterceptor(engine.SessionConfig{PostBody: `{"a":"b"}`}, nil, zap.NewNop())

	decoded, err := base64.StdEncoding.DecodeString(in.postData)
	require.NoError(t, err)
	assert.Equal(t, "a=b", string(decoded))

	in = newInterceptor(engine.SessionConfig{PostBody: `[1]`}, nil, zap.NewNop())
	assert.Empty(t, in.postData, "invalid post bodies are dropped")
}

func TestWithContentType(t *testing.T) {
	headers := withContentType(network.Headers{
		"User-Agent":   "agent",
		"content-type": "text/plain",
		"Accept":       "*/*",
		"X-Number":     42,
	}, formContentType)

	require.Len(t, headers, 3)
	assert.Equal(t, "Accept", headers[0].Name)
	assert.Equal(t, "User-Agent", headers[1].Name)
	assert.Equal(t, &fetch.HeaderEntry{Name: "Content-Type", Value: formContentType}, headers[2])
}

func TestAuthResponse(t *testing.T) {
	proxy := &types.ProxySpec{Type: types.ProxyHTTP, Host: "10.0.0.1", Port: 3128, User: "u", Password: "p"}
	in := newInterceptor(engine.SessionConfig{Proxy: proxy}, nil, zap.NewNop())

	resp := in.authResponse(&fetch.AuthChallenge{Source: fetch.AuthChallengeSourceProxy})
	assert.Equal(t, fetch.AuthChallengeResponseResponseProvideCredentials, resp.Response)
	assert.Equal(t, "u", resp.Username)
	assert.Equal(t, "p", resp.Password)

	resp = in.authResponse(&fetch.AuthChallenge{Source: fetch.AuthChallengeSourceServer})
	assert.Equal(t, fetch.AuthChallengeResponseResponseDefault, resp.Response)
	assert.Empty(t, resp.Username)

	anonymous := newInterceptor(engine.SessionConfig{}, nil, zap.NewNop())
	resp = anonymous.authResponse(&fetch.AuthChallenge{Source: fetch.AuthChallengeSourceProxy})
	assert.Equal(t, fetch.AuthChallengeResponseResponseDefault, resp.Response)
}

func TestFormatScriptValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"string", `"Example Domain"`, "Example Domain"},
		{"json string", `"{\"a\":1}"`, `{"a":1}`},
		{"object", `{"a":1}`, `{"a":1}`},
		{"array", `[1,2]`, `[1,2]`},
		{"number", `42`, "42"},
		{"bool", `true`, "true"},
		{"null", `null`, ""},
		{"undefined", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := &cdpruntime.RemoteObject{Value: []byte(tt.value)}
			assert.Equal(t, tt.want, formatScriptValue(obj))
		})
	}

	assert.Empty(t, formatScriptValue(nil))
}

func TestExceptionText(t *testing.T) {
	assert.Equal(t, "ReferenceError: x is not defined", exceptionText(&cdpruntime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &cdpruntime.RemoteObject{Description: "ReferenceError: x is not defined"},
	}))
	assert.Equal(t, "Uncaught", exceptionText(&cdpruntime.ExceptionDetails{Text: "Uncaught"}))
}
