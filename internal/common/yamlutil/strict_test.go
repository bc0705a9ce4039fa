package yamlutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func TestUnmarshalStrict(t *testing.T) {
	var s sample
	require.NoError(t, UnmarshalStrict([]byte("name: agent\ncount: 3\n"), &s))
	assert.Equal(t, sample{Name: "agent", Count: 3}, s)
}

func TestUnmarshalStrict_UnknownField(t *testing.T) {
	var s sample
	err := UnmarshalStrict([]byte("name: agent\ncuont: 3\n"), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration field")
}

func TestUnmarshalStrict_EmptyDocument(t *testing.T) {
	s := sample{Name: "kept"}
	require.NoError(t, UnmarshalStrict(nil, &s))
	assert.Equal(t, "kept", s.Name)
}

func TestUnmarshalStrictFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: 7\n"), 0o600))

	var s sample
	require.NoError(t, UnmarshalStrictFile(path, &s))
	assert.Equal(t, 7, s.Count)

	err := UnmarshalStrictFile(filepath.Join(t.TempDir(), "missing.yaml"), &s)
	assert.ErrorContains(t, err, "failed to read config")
}
