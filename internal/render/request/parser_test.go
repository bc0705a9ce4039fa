package request

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/pkg/types"
)

const testUA = "Mozilla/5.0 (Test) Chrome/120.0"

func newTestParser() *Parser {
	return NewParser(Options{DefaultUserAgent: testUA}, nil, zap.NewNop())
}

func params(values map[string]string) Lookup {
	return func(name string) string { return values[name] }
}

func TestParse_MethodAndPath(t *testing.T) {
	p := newTestParser()
	body := []byte(`{"url":"http://example.com"}`)

	tests := []struct {
		name    string
		method  string
		path    string
		wantErr error
	}{
		{"get is rejected", "GET", "/", ErrMethodNotAllowed},
		{"head is rejected", "HEAD", "/", ErrMethodNotAllowed},
		{"unknown path", "POST", "/render", ErrNotFound},
		{"post at root", "POST", "/", nil},
		{"put at root", "PUT", "/", nil},
		{"empty path", "POST", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.Parse(tt.method, tt.path, body, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, req)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://example.com", req.TargetURL)
		})
	}
}

func TestParse_MalformedBody(t *testing.T) {
	p := newTestParser()

	for _, body := range []string{"", "not json", "[1,2]", "null", `{"url":`, `"str"`} {
		t.Run(body, func(t *testing.T) {
			_, err := p.Parse("POST", "/", []byte(body), nil)
			assert.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestParse_MissingURL(t *testing.T) {
	p := newTestParser()

	for _, body := range []string{`{}`, `{"url":""}`, `{"url":42}`, `{"wait":100}`} {
		t.Run(body, func(t *testing.T) {
			_, err := p.Parse("POST", "/", []byte(body), nil)
			assert.ErrorIs(t, err, ErrMissingURL)
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	req, err := newTestParser().Parse("POST", "/", []byte(`{"url":"http://example.com"}`), nil)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), req.Settle)
	assert.Equal(t, time.Duration(0), req.Timeout)
	assert.Nil(t, req.Proxy)
	assert.Equal(t, testUA, req.UserAgent)
	assert.Empty(t, req.Script)
	assert.Empty(t, req.PostBody)
	assert.False(t, req.UseCookies)
	assert.Equal(t, types.OutputJSON, req.Output)
	assert.Nil(t, req.ImageSize)
}

func TestParse_AllFields(t *testing.T) {
	body := []byte(`{
		"url": "http%3A%2F%2Fexample.com%2Fa%3Fb%3D1",
		"wait": 1500,
		"timeout": 20000,
		"proxy": "socks5://u:p@10.1.1.1:1080",
		"contentType": "img",
		"outImgSize": "800X600",
		"js_script": "function(){return%20document.title}",
		"data": "a=b&c=d"
	}`)
	lookup := params(map[string]string{ParamUserAgent: "custom-agent", ParamUseCookie: "1"})

	req, err := newTestParser().Parse("POST", "/", body, lookup)
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/a?b=1", req.TargetURL)
	assert.Equal(t, 1500*time.Millisecond, req.Settle)
	assert.Equal(t, 20*time.Second, req.Timeout)
	require.NotNil(t, req.Proxy)
	assert.Equal(t, types.ProxySpec{Type: types.ProxySOCKS5, Host: "10.1.1.1", Port: 1080, User: "u", Password: "p"}, *req.Proxy)
	assert.Equal(t, types.OutputImg, req.Output)
	assert.Equal(t, &types.ImageSize{Width: 800, Height: 600}, req.ImageSize)
	assert.Equal(t, "(function(){return document.title})()", req.Script)
	assert.JSONEq(t, `{"a":"b","c":"d"}`, req.PostBody)
	assert.Equal(t, "custom-agent", req.UserAgent)
	assert.True(t, req.UseCookies)
}

func TestParse_NumericFields(t *testing.T) {
	tests := []struct {
		body string
		want time.Duration
	}{
		{`{"url":"x","wait":250}`, 250 * time.Millisecond},
		{`{"url":"x","wait":"250"}`, 0},
		{`{"url":"x","wait":-5}`, 0},
		{`{"url":"x","wait":1.5}`, 0},
		{`{"url":"x","wait":null}`, 0},
		{`{"url":"x","wait":true}`, 0},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			req, err := p.Parse("POST", "/", []byte(tt.body), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Settle)
		})
	}
}

func TestParse_InvalidProxyIsIgnored(t *testing.T) {
	req, err := newTestParser().Parse("POST", "/", []byte(`{"url":"http://example.com","proxy":"ftp://nope"}`), nil)
	require.NoError(t, err)
	assert.Nil(t, req.Proxy)
}

func TestParse_EmptyScript(t *testing.T) {
	p := newTestParser()
	for _, script := range []string{`""`, `"   "`} {
		req, err := p.Parse("POST", "/", []byte(`{"url":"http://example.com","js_script":`+script+`}`), nil)
		require.NoError(t, err)
		assert.False(t, req.HasScript())
	}
}

func TestParse_UseCookieExactlyOne(t *testing.T) {
	p := newTestParser()
	body := []byte(`{"url":"http://example.com"}`)

	for value, want := range map[string]bool{"1": true, "0": false, "true": false, "": false, "2": false} {
		req, err := p.Parse("POST", "/", body, params(map[string]string{ParamUseCookie: value}))
		require.NoError(t, err)
		assert.Equal(t, want, req.UseCookies, "useCookie=%q", value)
	}
}

func TestParse_PrivateTargetBlocked(t *testing.T) {
	p := NewParser(Options{DefaultUserAgent: testUA, BlockPrivateNetworks: true}, nil, zap.NewNop())

	_, err := p.Parse("POST", "/", []byte(`{"url":"http://127.0.0.1:8080/admin"}`), nil)
	assert.ErrorIs(t, err, ErrPrivateTarget)

	req, err := p.Parse("POST", "/", []byte(`{"url":"http://example.com"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", req.TargetURL)
}

func TestFormToJSON(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"a=b&c=d", map[string]string{"a": "b", "c": "d"}},
		{"q=hello+world&x=%26", map[string]string{"q": "hello world", "x": "&"}},
		{"flag", map[string]string{"flag": ""}},
		{"a=1&&b=2", map[string]string{"a": "1", "b": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got map[string]string
			require.NoError(t, json.Unmarshal([]byte(FormToJSON(tt.in)), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Empty(t, FormToJSON(""))
	assert.Empty(t, FormToJSON("&&"))
	assert.Empty(t, FormToJSON("=value"))
}

func TestParseImageSize(t *testing.T) {
	assert.Equal(t, &types.ImageSize{Width: 1024, Height: 768}, ParseImageSize("1024x768"))
	assert.Equal(t, &types.ImageSize{Width: 10, Height: 20}, ParseImageSize(" 10X20 "))
	assert.Nil(t, ParseImageSize(""))
	assert.Nil(t, ParseImageSize("0x100"))
	assert.Nil(t, ParseImageSize("100*100"))
	assert.Nil(t, ParseImageSize("axb"))
}

func TestParse_PercentDecodingIsPerEscape(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"stray percent keeps later escapes", "http://ex.com/?q=50%&r=%41", "http://ex.com/?q=50%&r=A"},
		{"encoded url with trailing stray percent", "http%3A%2F%2Fex.com%2F%3Fq%3D1%", "http://ex.com/?q=1%"},
		{"truncated escape at end", "http://ex.com/%4", "http://ex.com/%4"},
		{"non hex escape copied", "http://ex.com/%zz%2f", "http://ex.com/%zz/"},
		{"plus is not a space", "http://ex.com/?q=a+b%20c", "http://ex.com/?q=a+b c"},
		{"encoded percent", "http%3A%2F%2Fex.com%2F%3Fq%3D50%25", "http://ex.com/?q=50%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(map[string]string{"url": tt.url})
			require.NoError(t, err)

			req, err := newTestParser().Parse("POST", "/", body, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.TargetURL)
		})
	}
}

func TestParse_ScriptDecodingIsPerEscape(t *testing.T) {
	body := []byte(`{"url":"http://ex.com","js_script":"function(){return%20100%%20%3E%201}"}`)

	req, err := newTestParser().Parse("POST", "/", body, nil)
	require.NoError(t, err)
	assert.Equal(t, "(function(){return 100% > 1})()", req.Script)
}
