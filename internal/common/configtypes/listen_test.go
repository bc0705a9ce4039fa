package configtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListenAddress(t *testing.T) {
	tests := []struct {
		listen   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{":8080", "", 8080, false},
		{"8080", "", 8080, false},
		{"0.0.0.0:8080", "0.0.0.0", 8080, false},
		{"localhost:8080", "localhost", 8080, false},
		{"[::1]:8080", "::1", 8080, false},
		{"", "", 0, true},
		{"abc", "", 0, true},
		{"host:port", "", 0, true},
		{"a:b:c", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.listen, func(t *testing.T) {
			host, port, err := ParseListenAddress(tt.listen)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestValidateListenAddress(t *testing.T) {
	assert.NoError(t, ValidateListenAddress(":8000"))
	assert.NoError(t, ValidateListenAddress("127.0.0.1:65535"))
	assert.Error(t, ValidateListenAddress(":0"))
	assert.Error(t, ValidateListenAddress(":70000"))
	assert.Error(t, ValidateListenAddress(""))
}

func TestNormalizeListen(t *testing.T) {
	got, err := NormalizeListen("8000")
	require.NoError(t, err)
	assert.Equal(t, ":8000", got)

	got, err = NormalizeListen("localhost:8000")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8000", got)
}

func TestAdvertiseAddress(t *testing.T) {
	tests := []struct {
		name      string
		advertise string
		listen    string
		fallback  string
		wantHost  string
		wantPort  int
		wantErr   bool
	}{
		{"explicit advertise", "10.0.0.5:9000", ":8000", "node-1", "10.0.0.5", 9000, false},
		{"listen host", "", "192.168.1.2:8000", "node-1", "192.168.1.2", 8000, false},
		{"all interfaces use fallback", "", ":8000", "node-1", "node-1", 8000, false},
		{"wildcard ipv4 uses fallback", "", "0.0.0.0:8000", "node-1", "node-1", 8000, false},
		{"no host available", "", ":8000", "", "", 0, true},
		{"bad advertise", "nope", ":8000", "node-1", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := AdvertiseAddress(tt.advertise, tt.listen, tt.fallback)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}
