package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
)

const formContentType = "application/x-www-form-urlencoded"

// interceptor answers paused fetch requests for one tab
type interceptor struct {
	postData   string // base64 form body, empty when the page is loaded with GET
	username   string
	password   string
	blocklist  *Blocklist
	logger     *zap.Logger
	postIssued atomic.Bool
}

func newInterceptor(cfg engine.SessionConfig, blocklist *Blocklist, logger *zap.Logger) *interceptor {
	in := &interceptor{blocklist: blocklist, logger: logger}
	if cfg.Proxy != nil {
		in.username = cfg.Proxy.User
		in.password = cfg.Proxy.Password
	}
	if cfg.PostBody != "" {
		form, err := formEncode(cfg.PostBody)
		if err != nil {
			logger.Warn("Ignoring post body", zap.Error(err))
		} else {
			in.postData = base64.StdEncoding.EncodeToString([]byte(form))
		}
	}
	return in
}

// onRequestPaused continues, rewrites or fails a paused request.
// Only the first top-level document request is turned into a POST; redirects follow as GET.
func (in *interceptor) onRequestPaused(ctx context.Context, ev *fetch.EventRequestPaused) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch {
	case in.blocklist.IsBlocked(ev.Request.URL, ev.ResourceType):
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(cmdCtx); err != nil {
			in.logger.Debug("Failed to block request",
				zap.String("blocked_url", ev.Request.URL),
				zap.Error(err))
		}
		return

	case in.postData != "" && ev.ResourceType == network.ResourceTypeDocument && in.postIssued.CompareAndSwap(false, true):
		err := fetch.ContinueRequest(ev.RequestID).
			WithMethod("POST").
			WithPostData(in.postData).
			WithHeaders(withContentType(ev.Request.Headers, formContentType)).
			Do(cmdCtx)
		if err == nil {
			return
		}
		in.logger.Warn("Failed to rewrite document request as POST",
			zap.String("document_url", ev.Request.URL),
			zap.Error(err))
	}

	if err := fetch.ContinueRequest(ev.RequestID).Do(cmdCtx); err != nil {
		in.logger.Debug("Failed to continue request, failing instead to prevent hang",
			zap.String("request_url", ev.Request.URL),
			zap.Error(err))
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(cmdCtx)
	}
}

// onAuthRequired answers proxy challenges with the configured credentials
func (in *interceptor) onAuthRequired(ctx context.Context, ev *fetch.EventAuthRequired) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := fetch.ContinueWithAuth(ev.RequestID, in.authResponse(ev.AuthChallenge)).Do(cmdCtx); err != nil {
		in.logger.Warn("Failed to answer auth challenge", zap.Error(err))
	}
}

// authResponse supplies credentials to proxies only. Origin challenges get the browser default.
func (in *interceptor) authResponse(challenge *fetch.AuthChallenge) *fetch.AuthChallengeResponse {
	if challenge == nil || challenge.Source != fetch.AuthChallengeSourceProxy || (in.username == "" && in.password == "") {
		return &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	}
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: in.username,
		Password: in.password,
	}
}

// formEncode turns the JSON object of post fields into an urlencoded form body
func formEncode(postBody string) (string, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(postBody), &fields); err != nil {
		return "", err
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return values.Encode(), nil
}

// withContentType copies the paused request headers, replacing Content-Type.
// Output is sorted by name so rewrites are deterministic.
func withContentType(original network.Headers, contentType string) []*fetch.HeaderEntry {
	headers := make([]*fetch.HeaderEntry, 0, len(original)+1)
	for name, value := range original {
		if strings.EqualFold(name, "content-type") {
			continue
		}
		if str, ok := value.(string); ok {
			headers = append(headers, &fetch.HeaderEntry{Name: name, Value: str})
		}
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })
	return append(headers, &fetch.HeaderEntry{Name: "Content-Type", Value: contentType})
}

// formatScriptValue converts an evaluation result to the string form callers see.
// Strings are returned as is, other JSON values as their JSON text, undefined and null as "".
func formatScriptValue(obj *cdpruntime.RemoteObject) string {
	if obj == nil || len(obj.Value) == 0 {
		return ""
	}

	raw := string(obj.Value)
	if raw == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(obj.Value, &s); err == nil {
		return s
	}
	return raw
}

func exceptionText(details *cdpruntime.ExceptionDetails) string {
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
