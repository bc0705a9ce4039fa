// Package proxy parses the free-form proxy strings accepted by render requests.
//
// Grammar: (http|https|socks5|socket)://[user:password@]host[:port][/...]
// A missing scheme defaults to http. A missing or zero port defaults to 80.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgecomet/render-agent/pkg/types"
)

const defaultPort = 80

// ErrInvalidProxy is wrapped by every parse failure
var ErrInvalidProxy = errors.New("proxy pattern error")

var schemes = map[string]types.ProxyType{
	"http":   types.ProxyHTTP,
	"https":  types.ProxyHTTP,
	"socks5": types.ProxySOCKS5,
	"socket": types.ProxySOCKS5,
}

// Parse converts raw into a ProxySpec.
// Returns nil, nil for an empty string. A trailing path, query or fragment is ignored.
func Parse(raw string) (*types.ProxySpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}

	proxyType, ok := schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}

	spec := &types.ProxySpec{Type: proxyType}

	if u.User != nil {
		password, found := u.User.Password()
		if !found {
			return nil, fmt.Errorf("%w: credentials must be user:password", ErrInvalidProxy)
		}
		user := u.User.Username()
		if !isWordToken(user) || !isWordToken(password) {
			return nil, fmt.Errorf("%w: credentials may only contain letters, digits and underscores", ErrInvalidProxy)
		}
		spec.User = user
		spec.Password = password
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidProxy)
	}
	if !isHostToken(host) {
		return nil, fmt.Errorf("%w: invalid host %q", ErrInvalidProxy, host)
	}
	spec.Host = host

	spec.Port = defaultPort
	if strings.HasSuffix(u.Host, ":") {
		return nil, fmt.Errorf("%w: port must be digits, got %q", ErrInvalidProxy, "")
	}
	if portStr := u.Port(); portStr != "" {
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}
		if port != 0 {
			spec.Port = port
		}
	}

	return spec, nil
}

func parsePort(s string) (int, error) {
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, fmt.Errorf("%w: port must be digits, got %q", ErrInvalidProxy, s)
	}
	port, err := strconv.Atoi(s)
	if err != nil || port > 65535 {
		return 0, fmt.Errorf("%w: port out of range: %s", ErrInvalidProxy, s)
	}
	return port, nil
}

// isWordToken matches \w* (empty allowed)
func isWordToken(s string) bool {
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}

// isHostToken matches dotted labels of word characters and hyphens
func isHostToken(s string) bool {
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if !isWordRune(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
