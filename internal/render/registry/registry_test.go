package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
	"github.com/edgecomet/render-agent/internal/common/redis"
	"github.com/edgecomet/render-agent/internal/render/engine"
)

type stubStats struct {
	active atomic.Int32
	total  int
}

func (s *stubStats) Stats() engine.Stats {
	active := int(s.active.Load())
	return engine.Stats{Total: s.total, Active: active, Available: s.total - active}
}

func setupRegistry(t *testing.T, interval time.Duration) (*ServiceRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(&configtypes.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewServiceRegistry(client, interval, zap.NewNop()), mr
}

func TestServiceInfo(t *testing.T) {
	info := &ServiceInfo{
		ID:       "agent-1",
		Address:  "192.168.1.100",
		Port:     8080,
		Capacity: 100,
		Load:     25,
		LastSeen: time.Now().UTC(),
	}

	t.Run("URL generation", func(t *testing.T) {
		assert.Equal(t, "http://192.168.1.100:8080", info.URL())
	})

	t.Run("is healthy", func(t *testing.T) {
		assert.True(t, info.IsHealthy(3*time.Second))

		info.LastSeen = time.Now().UTC().Add(-2 * time.Minute)
		assert.False(t, info.IsHealthy(3*time.Second))
	})

	t.Run("load percentage", func(t *testing.T) {
		info.Capacity = 100
		info.Load = 25
		assert.Equal(t, 25.0, info.LoadPercentage())

		info.Capacity = 0
		assert.Equal(t, 100.0, info.LoadPercentage())
	})

	t.Run("metadata", func(t *testing.T) {
		started := time.Unix(1700000000, 0)
		info.SetMetadata("render-01", started)
		assert.Equal(t, "render-01", info.Metadata["hostname"])
		assert.Equal(t, "1700000000", info.Metadata["started_at"])
	})
}

func TestServiceRegistry_RegisterAndGet(t *testing.T) {
	reg, mr := setupRegistry(t, time.Second)
	ctx := context.Background()

	info := &ServiceInfo{ID: "agent-1", Address: "10.0.0.5", Port: 8080, Capacity: 4, Available: 4}
	require.NoError(t, reg.RegisterService(ctx, info))

	assert.Equal(t, 3*time.Second, mr.TTL(serviceKeyPrefix+"agent-1"))
	assert.Equal(t, "http://10.0.0.5:8080", mr.HGet(serviceListKey, "agent-1"))

	raw, err := mr.Get(serviceKeyPrefix + "agent-1")
	require.NoError(t, err)
	var stored ServiceInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 4, stored.Capacity)
	assert.False(t, stored.LastSeen.IsZero())

	got, err := reg.GetService(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "10.0.0.5", got.Address)

	missing, err := reg.GetService(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceRegistry_RegisterValidation(t *testing.T) {
	reg, _ := setupRegistry(t, time.Second)
	ctx := context.Background()

	assert.ErrorContains(t, reg.RegisterService(ctx, &ServiceInfo{Address: "a", Port: 1}), "ID is required")
	assert.ErrorContains(t, reg.RegisterService(ctx, &ServiceInfo{ID: "a", Port: 1}), "address is required")
	assert.ErrorContains(t, reg.RegisterService(ctx, &ServiceInfo{ID: "a", Address: "a"}), "port must be positive")
}

func TestServiceRegistry_Expiry(t *testing.T) {
	reg, mr := setupRegistry(t, time.Second)
	ctx := context.Background()

	require.NoError(t, reg.RegisterService(ctx, &ServiceInfo{ID: "agent-1", Address: "h", Port: 1}))
	mr.FastForward(4 * time.Second)

	got, err := reg.GetService(ctx, "agent-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestServiceRegistry_Unregister(t *testing.T) {
	reg, mr := setupRegistry(t, time.Second)
	ctx := context.Background()

	require.NoError(t, reg.RegisterService(ctx, &ServiceInfo{ID: "agent-1", Address: "h", Port: 1}))
	require.NoError(t, reg.UnregisterService(ctx, "agent-1"))

	assert.False(t, mr.Exists(serviceKeyPrefix+"agent-1"))
	assert.Empty(t, mr.HGet(serviceListKey, "agent-1"))

	// Unknown IDs are not an error
	require.NoError(t, reg.UnregisterService(ctx, "agent-1"))
	assert.Error(t, reg.UnregisterService(ctx, ""))
}

func TestServiceRegistry_ListAvailable(t *testing.T) {
	reg, mr := setupRegistry(t, time.Second)
	ctx := context.Background()

	require.NoError(t, reg.RegisterService(ctx, &ServiceInfo{ID: "b", Address: "h", Port: 2, Capacity: 4, Load: 3, Available: 1}))
	require.NoError(t, reg.RegisterService(ctx, &ServiceInfo{ID: "a", Address: "h", Port: 1, Capacity: 4, Load: 1, Available: 3}))
	require.NoError(t, reg.RegisterService(ctx, &ServiceInfo{ID: "full", Address: "h", Port: 3, Capacity: 2, Load: 2}))
	require.NoError(t, mr.Set(serviceKeyPrefix+"corrupt", "{not json"))

	all, err := reg.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	available, err := reg.ListAvailableServices(ctx)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "a", available[0].ID)
	assert.Equal(t, "b", available[1].ID)
}

func TestHeartbeater_PublishesStats(t *testing.T) {
	reg, _ := setupRegistry(t, 20*time.Millisecond)
	stats := &stubStats{total: 4}

	ctx, cancel := context.WithCancel(context.Background())
	hb := NewHeartbeater(reg, ServiceInfo{ID: "agent-1", Address: "h", Port: 9000}, stats, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, hb.Start(ctx))

	got, err := reg.GetService(context.Background(), "agent-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Capacity)
	assert.Equal(t, 4, got.Available)

	stats.active.Store(3)
	assert.Eventually(t, func() bool {
		info, err := reg.GetService(context.Background(), "agent-1")
		return err == nil && info != nil && info.Load == 3 && info.Available == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, hb.Stop(stopCtx))

	got, err = reg.GetService(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHeartbeater_StartFailsOnInvalidInfo(t *testing.T) {
	reg, _ := setupRegistry(t, time.Second)

	hb := NewHeartbeater(reg, ServiceInfo{ID: "agent-1"}, &stubStats{total: 1}, time.Second, zap.NewNop())
	assert.Error(t, hb.Start(context.Background()))
}
