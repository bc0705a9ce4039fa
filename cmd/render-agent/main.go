package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/common/config"
	"github.com/edgecomet/render-agent/internal/common/configtypes"
	logutil "github.com/edgecomet/render-agent/internal/common/logger"
	"github.com/edgecomet/render-agent/internal/common/metricsserver"
	"github.com/edgecomet/render-agent/internal/common/redis"
	"github.com/edgecomet/render-agent/internal/render/chrome"
	"github.com/edgecomet/render-agent/internal/render/metrics"
	"github.com/edgecomet/render-agent/internal/render/orchestrator"
	"github.com/edgecomet/render-agent/internal/render/registry"
	"github.com/edgecomet/render-agent/internal/render/request"
	"github.com/edgecomet/render-agent/internal/render/response"
	"github.com/edgecomet/render-agent/internal/render/service"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("c", "configs/render-agent.yaml",
		"Path to render agent configuration file")
	flag.Parse()

	// Replaced once the config is loaded
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.Load(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// INFO during startup if the configured level is quieter
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger
	defer func() { _ = logger.Sync() }()

	logger.Info("Render agent starting",
		zap.String("agent_id", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.String("chrome_pool_size", cfg.Chrome.PoolSize),
		zap.String("version", version))

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	pool, err := chrome.NewChromePool(chromeConfigFrom(cfg), metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create Chrome pool", zap.Error(err))
	}

	parser := request.NewParser(request.Options{
		DefaultUserAgent:     cfg.Render.DefaultUserAgent,
		BlockPrivateNetworks: cfg.Render.BlockPrivateNetworks,
	}, metricsCollector, logger)

	orch := orchestrator.New(pool, orchestrator.Options{
		DefaultTimeout: cfg.Render.DefaultTimeout.ToDuration(),
		MaxTimeout:     cfg.Render.MaxTimeout.ToDuration(),
	}, metricsCollector, logger)

	serializer := response.NewSerializer(response.Options{
		ETagHash:      cfg.Render.ETagHash,
		OutputTimeout: cfg.Render.OutputTimeout.ToDuration(),
	})

	// Cancelled after the HTTP server drains so stuck renders are aborted
	renderCtx, renderCancel := context.WithCancel(context.Background())
	defer renderCancel()

	handler := service.NewHandler(parser, orch, serializer, service.Options{
		CompressMinSize: cfg.Server.CompressMinSize,
		BaseContext:     func() context.Context { return renderCtx },
	}, metricsCollector, logger)

	server := service.NewHTTPServer(handler, cfg.Server.ID, cfg.ServerTimeout(), cfg.Server.MaxBodySize)

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("listen", cfg.Server.Listen),
			zap.Duration("timeout", cfg.ServerTimeout()))
		if err := server.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Give the listener a moment to fail on a busy port
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	metricsServer, err := metricsserver.StartMetricsServer(cfg.Metrics, metricsCollector, logger,
		metricsserver.Route{Path: "/health", Handler: service.HealthHandler(cfg.Server.ID, pool, logger)})
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	heartbeatCtx, heartbeatCancel := context.WithCancel(context.Background())
	defer heartbeatCancel()

	var (
		heartbeater *registry.Heartbeater
		redisClient *redis.Client
	)
	if cfg.Registry.Enabled {
		redisClient, err = redis.NewClient(&cfg.Registry.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()

		heartbeater, err = startHeartbeat(heartbeatCtx, cfg, redisClient, pool, logger)
		if err != nil {
			logger.Fatal("Failed to register in service registry", zap.Error(err))
		}
	}

	logger.Info("Render agent ready",
		zap.String("agent_id", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.Int("chrome_instances", pool.PoolSize()),
		zap.Bool("registry", cfg.Registry.Enabled))

	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	// Deregister first so balancers stop routing new renders here
	if heartbeater != nil {
		heartbeatCancel()
		unregisterCtx, unregisterCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := heartbeater.Stop(unregisterCtx); err != nil {
			logger.Error("Failed to deregister agent", zap.Error(err))
		} else {
			logger.Info("Deregistered from service registry")
		}
		unregisterCancel()
	}

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	// In-flight renders get the full render budget to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ServerTimeout())
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	shutdownCancel()
	renderCancel()

	if err := pool.Shutdown(); err != nil {
		logger.Error("Chrome pool shutdown error", zap.Error(err))
	}

	logger.Info("Render agent stopped")
}

func chromeConfigFrom(cfg *config.AgentConfig) *chrome.Config {
	return &chrome.Config{
		PoolSize:             cfg.Chrome.PoolSize,
		AcquireTimeout:       cfg.Render.AcquireTimeout.ToDuration(),
		WarmupURL:            cfg.Chrome.Warmup.URL,
		WarmupTimeout:        cfg.Chrome.Warmup.Timeout.ToDuration(),
		ShutdownTimeout:      cfg.Chrome.ShutdownTimeout.ToDuration(),
		RestartAfterCount:    cfg.Chrome.Restart.AfterCount,
		RestartAfterTime:     cfg.Chrome.Restart.AfterTime.ToDuration(),
		ViewportWidth:        cfg.Chrome.Viewport.Width,
		ViewportHeight:       cfg.Chrome.Viewport.Height,
		ExtractTimeout:       cfg.Chrome.ExtractTimeout.ToDuration(),
		BlockedPatterns:      cfg.Chrome.Block.Patterns,
		BlockedResourceTypes: cfg.Chrome.Block.ResourceTypes,
	}
}

func startHeartbeat(ctx context.Context, cfg *config.AgentConfig, redisClient *redis.Client, pool *chrome.ChromePool, logger *zap.Logger) (*registry.Heartbeater, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = cfg.Server.ID
	}

	host, port, err := configtypes.AdvertiseAddress(cfg.Registry.Advertise, cfg.Server.Listen, hostname)
	if err != nil {
		return nil, err
	}

	info := registry.ServiceInfo{
		ID:      cfg.Server.ID,
		Address: host,
		Port:    port,
		Version: version,
	}
	info.SetMetadata(hostname, time.Now().UTC())

	interval := cfg.Registry.HeartbeatInterval.ToDuration()
	serviceRegistry := registry.NewServiceRegistry(redisClient, interval, logger)
	heartbeater := registry.NewHeartbeater(serviceRegistry, info, pool, interval, logger)
	if err := heartbeater.Start(ctx); err != nil {
		return nil, err
	}
	return heartbeater, nil
}
