package urlutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"100.128.0.1", false},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"::ffff:10.0.0.1", true},
		{"8.8.8.8", false},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, IsPrivateAddr(netip.MustParseAddr(tt.ip)))
		})
	}

	assert.False(t, IsPrivateAddr(netip.Addr{}))
}

func TestIsPrivateTarget(t *testing.T) {
	tests := []struct {
		url     string
		private bool
	}{
		{"http://127.0.0.1:8080/admin", true},
		{"https://[::1]/", true},
		{"http://localhost/", true},
		{"http://api.localhost:3000", true},
		{"192.168.0.10/path", true},
		{"http://example.com", false},
		{"https://93.184.216.34/", false},
		{"", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.private, IsPrivateTarget(tt.url))
		})
	}
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "example.com", Hostname("https://example.com:8443/a"))
	assert.Equal(t, "example.com", Hostname("example.com/a"))
	assert.Equal(t, "::1", Hostname("http://[::1]:80"))
}
