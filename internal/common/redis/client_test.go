package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(&configtypes.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		config    *configtypes.RedisConfig
		logger    *zap.Logger
		errorText string
	}{
		{
			name:      "nil config",
			logger:    zap.NewNop(),
			errorText: "redis config is required",
		},
		{
			name:      "nil logger",
			config:    &configtypes.RedisConfig{Addr: "localhost:6379"},
			errorText: "logger is required",
		},
		{
			name:      "unreachable address",
			config:    &configtypes.RedisConfig{Addr: "127.0.0.1:1"},
			logger:    zap.NewNop(),
			errorText: "failed to connect to Redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config, tt.logger)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorText)
			assert.Nil(t, client)
		})
	}
}

func TestClientBasicOperations(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	require.NoError(t, client.Set(ctx, "k", "v", 3*time.Second))
	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	ttl, err := client.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ttl)

	exists, err := client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	mr.FastForward(4 * time.Second)
	got, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got, "expired key reads as empty")

	require.NoError(t, client.Set(ctx, "gone", "x", 0))
	require.NoError(t, client.Del(ctx, "gone"))
	require.NoError(t, client.Del(ctx))
	exists, err = client.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClientHashOperations(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.HSet(ctx, "h", "a", "1", "b", "2"))
	all, err := client.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	require.NoError(t, client.HDel(ctx, "h", "a"))
	require.NoError(t, client.HDel(ctx, "h"))
	all, err = client.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, all)
}

func TestClientScan(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for _, k := range []string{"svc:a", "svc:b", "other"} {
		require.NoError(t, client.Set(ctx, k, "1", 0))
	}

	keys, err := client.Scan(ctx, "svc:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"svc:a", "svc:b"}, keys)
}

func TestClientClosedConnection(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.Close()

	err := client.Set(context.Background(), "k", "v", 0)
	assert.Error(t, err)
}
