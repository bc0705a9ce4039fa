package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseOutputKind(t *testing.T) {
	tests := []struct {
		in   string
		want OutputKind
	}{
		{"pdf", OutputPDF},
		{"img", OutputImg},
		{"json", OutputJSON},
		{"", OutputJSON},
		{"PDF", OutputJSON},
		{"html", OutputJSON},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOutputKind(tt.in))
		})
	}
}

func TestProxySpec_Server(t *testing.T) {
	p := &ProxySpec{Type: ProxySOCKS5, Host: "10.0.0.1", Port: 1080, User: "u", Password: "p"}
	assert.Equal(t, "socks5://10.0.0.1:1080", p.Server())
	assert.True(t, p.HasCredentials())

	p = &ProxySpec{Type: ProxyHTTP, Host: "proxy.local", Port: 80}
	assert.Equal(t, "http://proxy.local:80", p.Server())
	assert.False(t, p.HasCredentials())
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	err := yaml.Unmarshal([]byte("a: 1500ms\nb: 2d\nc: 1w\n"), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.A.ToDuration())
	assert.Equal(t, 48*time.Hour, cfg.B.ToDuration())
	assert.Equal(t, 7*24*time.Hour, cfg.C.ToDuration())

	err = yaml.Unmarshal([]byte("a: soon\n"), &cfg)
	assert.Error(t, err)
}
