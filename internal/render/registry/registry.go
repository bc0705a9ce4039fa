// Package registry announces the agent and its free capacity in Redis so
// load balancers can pick an agent with idle browsers.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/redis"
)

const (
	serviceKeyPrefix = "service:render-agent:"
	serviceListKey   = "services:render-agent:list"

	// missedHeartbeats is how many heartbeats may be lost before the entry expires
	missedHeartbeats = 3
)

type ServiceRegistry struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type ServiceInfo struct {
	ID        string            `json:"id"`
	Address   string            `json:"address"`
	Port      int               `json:"port"`
	Capacity  int               `json:"capacity"`
	Load      int               `json:"load"`
	Available int               `json:"available"`
	LastSeen  time.Time         `json:"last_seen"`
	Version   string            `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (si *ServiceInfo) URL() string {
	return fmt.Sprintf("http://%s:%d", si.Address, si.Port)
}

// IsHealthy reports whether the last heartbeat is within ttl
func (si *ServiceInfo) IsHealthy(ttl time.Duration) bool {
	return time.Now().UTC().Sub(si.LastSeen) < ttl
}

func (si *ServiceInfo) LoadPercentage() float64 {
	if si.Capacity <= 0 {
		return 100.0
	}
	return float64(si.Load) / float64(si.Capacity) * 100.0
}

// SetMetadata records the host the agent runs on and when it started
func (si *ServiceInfo) SetMetadata(hostname string, startedAt time.Time) {
	if si.Metadata == nil {
		si.Metadata = make(map[string]string)
	}
	si.Metadata["hostname"] = hostname
	si.Metadata["started_at"] = strconv.FormatInt(startedAt.Unix(), 10)
}

// NewServiceRegistry stores entries that expire after missedHeartbeats * heartbeatInterval
func NewServiceRegistry(redisClient *redis.Client, heartbeatInterval time.Duration, logger *zap.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		redis:  redisClient,
		ttl:    missedHeartbeats * heartbeatInterval,
		logger: logger,
	}
}

// TTL is the lifetime of a registration without heartbeats
func (sr *ServiceRegistry) TTL() time.Duration {
	return sr.ttl
}

func (sr *ServiceRegistry) RegisterService(ctx context.Context, info *ServiceInfo) error {
	if info.ID == "" {
		return fmt.Errorf("service ID is required")
	}
	if info.Address == "" {
		return fmt.Errorf("service address is required")
	}
	if info.Port <= 0 {
		return fmt.Errorf("service port must be positive")
	}

	info.LastSeen = time.Now().UTC()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal service info: %w", err)
	}

	if err := sr.redis.Set(ctx, serviceKeyPrefix+info.ID, data, sr.ttl); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	if err := sr.redis.HSet(ctx, serviceListKey, info.ID, info.URL()); err != nil {
		return fmt.Errorf("failed to add service to list: %w", err)
	}

	return nil
}

func (sr *ServiceRegistry) UnregisterService(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("service ID is required")
	}

	serviceKey := serviceKeyPrefix + serviceID

	exists, err := sr.redis.Exists(ctx, serviceKey)
	if err != nil {
		return fmt.Errorf("failed to check service existence: %w", err)
	}

	if exists {
		if err := sr.redis.Del(ctx, serviceKey); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}
	} else {
		sr.logger.Warn("Attempted to unregister non-existent service",
			zap.String("service_id", serviceID))
	}

	// The list entry may outlive an expired key
	if err := sr.redis.HDel(ctx, serviceListKey, serviceID); err != nil {
		sr.logger.Error("Failed to remove service from list",
			zap.String("service_id", serviceID),
			zap.Error(err))
	}

	sr.logger.Info("Service unregistered",
		zap.String("service_id", serviceID))

	return nil
}

// GetService returns nil without error when the agent has no live registration
func (sr *ServiceRegistry) GetService(ctx context.Context, serviceID string) (*ServiceInfo, error) {
	if serviceID == "" {
		return nil, fmt.Errorf("service ID is required")
	}

	data, err := sr.redis.Get(ctx, serviceKeyPrefix+serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	if data == "" {
		return nil, nil
	}

	var info ServiceInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service info: %w", err)
	}

	return &info, nil
}

// ListServices returns every live registration sorted by ID. Corrupt entries are skipped.
func (sr *ServiceRegistry) ListServices(ctx context.Context) ([]*ServiceInfo, error) {
	keys, err := sr.redis.Scan(ctx, serviceKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list service keys: %w", err)
	}

	services := make([]*ServiceInfo, 0, len(keys))

	for _, key := range keys {
		data, err := sr.redis.Get(ctx, key)
		if err != nil || data == "" {
			continue
		}

		var info ServiceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			sr.logger.Warn("Failed to unmarshal service info",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		services = append(services, &info)
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].ID < services[j].ID
	})

	return services, nil
}

// ListAvailableServices returns healthy agents with at least one idle browser,
// the least loaded first
func (sr *ServiceRegistry) ListAvailableServices(ctx context.Context) ([]*ServiceInfo, error) {
	all, err := sr.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	available := make([]*ServiceInfo, 0, len(all))
	for _, service := range all {
		if service.IsHealthy(sr.ttl) && service.Available > 0 {
			available = append(available, service)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].LoadPercentage() < available[j].LoadPercentage()
	})

	return available, nil
}
