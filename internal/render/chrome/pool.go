package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/internal/render/metrics"
)

// ChromePool manages a pool of Chrome instances with a simple FIFO queue.
// It implements engine.Engine: every session owns one instance until closed.
type ChromePool struct {
	config           *Config
	blocklist        *Blocklist
	logger           *zap.Logger
	instances        []*ChromeInstance
	queue            chan int           // FIFO queue of available instance IDs
	mu               sync.RWMutex       // Protects instances slice
	activeSessions   atomic.Int32       // Number of instances owned by sessions
	totalRenders     atomic.Int64       // Total sessions released
	totalRestarts    atomic.Int64       // Total instance restarts
	createdAt        time.Time          // Pool creation time
	ctx              context.Context    // Pool context, cancelled on shutdown
	cancel           context.CancelFunc // Cancel function
	metricsCollector *metrics.MetricsCollector
}

var (
	_ engine.Engine        = (*ChromePool)(nil)
	_ engine.StatsProvider = (*ChromePool)(nil)
)

// NewChromePool starts all Chrome instances. metricsCollector may be nil.
func NewChromePool(config *Config, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) (*ChromePool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	blocklist, err := NewBlocklist(config.BlockedPatterns, config.BlockedResourceTypes)
	if err != nil {
		return nil, err
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("Initializing Chrome pool",
		zap.Int("pool_size", poolSize),
		zap.Bool("blocklist", blocklist.Enabled()))

	pool := newPool(config, blocklist, poolSize, metricsCollector, logger)

	for i := 0; i < poolSize; i++ {
		instance, err := NewChromeInstance(i, config, logger)
		if err != nil {
			_ = pool.ShutdownWithTimeout(time.Second)
			return nil, fmt.Errorf("failed to create Chrome instance %d: %w", i, err)
		}

		pool.mu.Lock()
		pool.instances[i] = instance
		pool.mu.Unlock()
		pool.queue <- i
	}

	pool.updateMetrics()
	logger.Info("Chrome pool initialized successfully",
		zap.Int("instances", poolSize))

	return pool, nil
}

func newPool(config *Config, blocklist *Blocklist, size int, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *ChromePool {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChromePool{
		config:           config,
		blocklist:        blocklist,
		logger:           logger,
		instances:        make([]*ChromeInstance, size),
		queue:            make(chan int, size),
		createdAt:        time.Now().UTC(),
		ctx:              ctx,
		cancel:           cancel,
		metricsCollector: metricsCollector,
	}
}

// NewSession acquires an instance and wraps it in a Session.
// Blocks until an instance frees up, AcquireTimeout passes or ctx is done.
func (p *ChromePool) NewSession(ctx context.Context, requestID string) (engine.Session, error) {
	instance, err := p.acquire(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return newSession(p, instance, requestID), nil
}

// acquire takes the next free instance, restarting it when dead or past its restart policy
func (p *ChromePool) acquire(ctx context.Context, requestID string) (*ChromeInstance, error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	var instanceID int
	select {
	case <-p.ctx.Done():
		return nil, engine.ErrEngineClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", engine.ErrNoCapacity, ctx.Err())
	case <-timer.C:
		p.logger.Warn("No Chrome instance available",
			zap.String("request_id", requestID),
			zap.Duration("acquire_timeout", p.config.AcquireTimeout))
		return nil, fmt.Errorf("%w: waited %s", engine.ErrNoCapacity, p.config.AcquireTimeout)
	case instanceID = <-p.queue:
	}

	// Shutdown may have started while we were waiting on queue
	select {
	case <-p.ctx.Done():
		p.requeue(instanceID)
		return nil, engine.ErrEngineClosed
	default:
	}

	p.activeSessions.Add(1)

	p.mu.RLock()
	instance := p.instances[instanceID]
	p.mu.RUnlock()

	instance.currentRequestID = requestID

	if !instance.IsAlive() {
		p.logger.Warn("Chrome instance is dead, restarting",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instanceID),
			zap.Int32("requests_done", instance.GetRequestsDone()))

		if err := instance.Restart(p.config); err != nil {
			p.logger.Error("Failed to restart dead instance",
				zap.String("request_id", requestID),
				zap.Int("instance_id", instanceID),
				zap.Error(err))
			instance.currentRequestID = ""
			p.activeSessions.Add(-1)
			p.requeue(instanceID)
			return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
		}
		p.totalRestarts.Add(1)
	} else if instance.ShouldRestart(p.config) {
		p.logger.Info("Chrome instance needs restart based on policy",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instanceID),
			zap.Int32("requests_done", instance.GetRequestsDone()),
			zap.Duration("age", instance.Age()))

		if err := instance.Restart(p.config); err != nil {
			// Dead instances are retried on their next acquire
			p.logger.Error("Failed to restart instance",
				zap.String("request_id", requestID),
				zap.Int("instance_id", instanceID),
				zap.Error(err))
		} else {
			p.totalRestarts.Add(1)
		}
	}

	instance.SetStatus(ChromeStatusRendering)

	p.logger.Debug("Chrome instance acquired",
		zap.String("request_id", requestID),
		zap.Int("instance_id", instanceID),
		zap.Int32("active_sessions", p.activeSessions.Load()))

	p.updateMetrics()
	return instance, nil
}

// release returns an instance to the queue. Called once per acquired instance.
func (p *ChromePool) release(instance *ChromeInstance) {
	requestID := instance.currentRequestID
	if instance.GetStatus() == ChromeStatusRendering {
		instance.SetStatus(ChromeStatusIdle)
	}
	instance.IncrementRequests()
	p.totalRenders.Add(1)

	// Clear request ID BEFORE returning to queue to avoid race condition
	instance.currentRequestID = ""
	p.activeSessions.Add(-1)

	p.requeue(instance.ID)

	p.logger.Debug("Chrome instance released",
		zap.String("request_id", requestID),
		zap.Int("instance_id", instance.ID),
		zap.Int32("requests_done", instance.GetRequestsDone()),
		zap.Int32("active_sessions", p.activeSessions.Load()))

	p.updateMetrics()
}

func (p *ChromePool) requeue(instanceID int) {
	select {
	case p.queue <- instanceID:
	case <-p.ctx.Done():
		// Pool shutting down, discard instance
	default:
		// Queue full - should never happen, indicates bug
		p.logger.Error("Queue full when returning instance - possible leak",
			zap.Int("instance_id", instanceID),
			zap.Int("queue_len", len(p.queue)))
	}
}

func (p *ChromePool) updateMetrics() {
	stats := p.Stats()
	p.metricsCollector.UpdatePool(stats.Total, stats.Available)
}

// Stats implements engine.StatsProvider
func (p *ChromePool) Stats() engine.Stats {
	s := p.GetStats()
	return engine.Stats{
		Total:     s.TotalInstances,
		Available: s.AvailableInstances,
		Active:    s.ActiveInstances,
	}
}

// GetStats returns current pool statistics
func (p *ChromePool) GetStats() PoolStats {
	p.mu.RLock()
	totalInstances := 0
	for _, instance := range p.instances {
		if instance != nil {
			totalInstances++
		}
	}
	p.mu.RUnlock()

	available := len(p.queue)
	if p.ctx.Err() != nil {
		available = 0
	}

	return PoolStats{
		TotalInstances:     totalInstances,
		AvailableInstances: available,
		ActiveInstances:    int(p.activeSessions.Load()),
		TotalRenders:       p.totalRenders.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// Shutdown gracefully shuts down all Chrome instances with default timeout
func (p *ChromePool) Shutdown() error {
	return p.ShutdownWithTimeout(p.config.ShutdownTimeout)
}

// ShutdownWithTimeout stops handing out sessions, waits for owned instances to be
// released, then terminates every browser process
func (p *ChromePool) ShutdownWithTimeout(timeout time.Duration) error {
	p.logger.Info("Initiating Chrome pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_sessions", p.activeSessions.Load()))

	p.cancel()

	if p.waitForActiveSessions(timeout) {
		p.logger.Info("All active renders completed gracefully")
	} else {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_sessions", p.activeSessions.Load()))
	}

	p.mu.Lock()
	for _, instance := range p.instances {
		if instance != nil {
			instance.Terminate()
		}
	}
	p.mu.Unlock()

	// The queue is never closed to avoid panics on send from late releases

	finalStats := p.GetStats()
	p.logger.Info("Chrome pool shut down",
		zap.Int64("total_renders", finalStats.TotalRenders),
		zap.Int64("total_restarts", finalStats.TotalRestarts),
		zap.Duration("uptime", finalStats.Uptime))

	p.metricsCollector.UpdatePool(finalStats.TotalInstances, 0)
	return nil
}

// waitForActiveSessions returns true if all sessions were released before timeout
func (p *ChromePool) waitForActiveSessions(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeSessions.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			return false
		}
	}
}

// PoolSize returns the total number of Chrome instances in the pool
func (p *ChromePool) PoolSize() int {
	return p.GetStats().TotalInstances
}

// AvailableInstances returns the number of available Chrome instances
func (p *ChromePool) AvailableInstances() int {
	return len(p.queue)
}
