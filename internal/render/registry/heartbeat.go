package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
)

// Heartbeater keeps one agent registration fresh with current pool stats
type Heartbeater struct {
	registry *ServiceRegistry
	info     ServiceInfo
	stats    engine.StatsProvider
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

func NewHeartbeater(registry *ServiceRegistry, info ServiceInfo, stats engine.StatsProvider, interval time.Duration, logger *zap.Logger) *Heartbeater {
	return &Heartbeater{
		registry: registry,
		info:     info,
		stats:    stats,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start registers once synchronously, then refreshes every interval until ctx is done.
// The first registration error is returned so misconfiguration fails startup.
func (h *Heartbeater) Start(ctx context.Context) error {
	if err := h.beat(ctx); err != nil {
		close(h.done)
		return err
	}

	h.logger.Info("Registered in service registry",
		zap.String("service_id", h.info.ID),
		zap.String("url", h.info.URL()),
		zap.Duration("interval", h.interval),
		zap.Duration("ttl", h.registry.TTL()))

	go h.run(ctx)
	return nil
}

func (h *Heartbeater) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				// Log the first failure and every tenth after it
				if failures%10 == 1 {
					h.logger.Warn("Heartbeat failed",
						zap.String("service_id", h.info.ID),
						zap.Int("consecutive_failures", failures),
						zap.Error(err))
				}
				continue
			}
			if failures > 0 {
				h.logger.Info("Heartbeat recovered",
					zap.String("service_id", h.info.ID),
					zap.Int("failed_beats", failures))
				failures = 0
			}
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) error {
	stats := h.stats.Stats()
	h.info.Capacity = stats.Total
	h.info.Load = stats.Active
	h.info.Available = stats.Available

	beatCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	return h.registry.RegisterService(beatCtx, &h.info)
}

// Stop waits for the loop to exit (ctx passed to Start must be cancelled first)
// and removes the registration
func (h *Heartbeater) Stop(ctx context.Context) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.registry.UnregisterService(ctx, h.info.ID)
}
