// Package config loads and validates the render agent configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgecomet/render-agent/internal/common/configtypes"
	"github.com/edgecomet/render-agent/internal/common/yamlutil"
	"github.com/edgecomet/render-agent/pkg/types"
)

type (
	RedisConfig   = configtypes.RedisConfig
	LogConfig     = configtypes.LogConfig
	MetricsConfig = configtypes.MetricsConfig
)

const (
	// SafetyMargin is added to render.max_timeout and render.output_timeout when
	// deriving server.timeout, so fasthttp never cuts a render short
	SafetyMargin = 10 * time.Second

	// DefaultUserAgent is sent when neither the request nor the config names one
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 6.3; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/53.0.2785.116 Safari/537.36"

	ETagHashMD5    = "md5"
	ETagHashXXHash = "xxhash"

	defaultMaxBodySize       = 4 * 1024 * 1024
	defaultTimeout           = 30 * time.Second
	defaultMaxTimeout        = 120 * time.Second
	defaultOutputTimeout     = 30 * time.Second
	defaultAcquireTimeout    = 30 * time.Second
	defaultPoolSize          = "auto"
	defaultWarmupTimeout     = 10 * time.Second
	defaultRestartAfterCount = 100
	defaultRestartAfterTime  = 60 * time.Minute
	defaultViewportWidth     = 1366
	defaultViewportHeight    = 768
	defaultShutdownTimeout   = 30 * time.Second
	defaultExtractTimeout    = 5 * time.Second
	defaultHeartbeatInterval = 1 * time.Second
	defaultMetricsPath       = "/metrics"
	defaultMetricsNamespace  = "render_agent"
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// AgentConfig is the root of configs/render-agent.yaml
type AgentConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Render   RenderConfig   `yaml:"render"`
	Chrome   ChromeConfig   `yaml:"chrome"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	ID              string         `yaml:"id"`
	Listen          string         `yaml:"listen"`
	Timeout         types.Duration `yaml:"timeout"`           // 0 derives from render timeouts
	MaxBodySize     int            `yaml:"max_body_size"`     // bytes
	CompressMinSize int            `yaml:"compress_min_size"` // bytes, 0 disables gzip
}

type RenderConfig struct {
	DefaultUserAgent     string         `yaml:"default_user_agent"`
	DefaultTimeout       types.Duration `yaml:"default_timeout"`
	MaxTimeout           types.Duration `yaml:"max_timeout"`
	OutputTimeout        types.Duration `yaml:"output_timeout"`
	ETagHash             string         `yaml:"etag_hash"`
	BlockPrivateNetworks bool           `yaml:"block_private_networks"`
	AcquireTimeout       types.Duration `yaml:"acquire_timeout"`
}

type ChromeConfig struct {
	PoolSize        string         `yaml:"pool_size"`
	Warmup          WarmupConfig   `yaml:"warmup"`
	Restart         RestartConfig  `yaml:"restart"`
	Viewport        ViewportConfig `yaml:"viewport"`
	Block           BlockConfig    `yaml:"block"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
	ExtractTimeout  types.Duration `yaml:"extract_timeout"`
}

// WarmupConfig represents Chrome warmup configuration. An empty URL skips warmup.
type WarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// RestartConfig represents Chrome restart policy configuration
type RestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BlockConfig lists sub-resources Chrome should not fetch
type BlockConfig struct {
	Patterns      []string `yaml:"patterns"`
	ResourceTypes []string `yaml:"resource_types"`
}

type RegistryConfig struct {
	Enabled           bool           `yaml:"enabled"`
	Redis             RedisConfig    `yaml:"redis"`
	HeartbeatInterval types.Duration `yaml:"heartbeat_interval"`
	Advertise         string         `yaml:"advertise"` // host:port announced to peers, defaults to hostname + listen port
}

// ServerTimeout returns the fasthttp read/write timeout
func (cfg *AgentConfig) ServerTimeout() time.Duration {
	if cfg.Server.Timeout > 0 {
		return cfg.Server.Timeout.ToDuration()
	}
	return cfg.Render.MaxTimeout.ToDuration() + cfg.Render.OutputTimeout.ToDuration() + SafetyMargin
}

// Load reads, defaults and validates a config file
func Load(configPath string) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := yamlutil.UnmarshalStrictFile(configPath, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero values
func (cfg *AgentConfig) applyDefaults() {
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = defaultMaxBodySize
	}

	r := &cfg.Render
	if r.DefaultUserAgent == "" {
		r.DefaultUserAgent = DefaultUserAgent
	}
	if r.DefaultTimeout == 0 {
		r.DefaultTimeout = types.Duration(defaultTimeout)
	}
	if r.MaxTimeout == 0 {
		r.MaxTimeout = types.Duration(defaultMaxTimeout)
	}
	if r.OutputTimeout == 0 {
		r.OutputTimeout = types.Duration(defaultOutputTimeout)
	}
	if r.ETagHash == "" {
		r.ETagHash = ETagHashMD5
	}
	if r.AcquireTimeout == 0 {
		r.AcquireTimeout = types.Duration(defaultAcquireTimeout)
	}

	c := &cfg.Chrome
	if c.PoolSize == "" {
		c.PoolSize = defaultPoolSize
	}
	if c.Warmup.URL != "" && c.Warmup.Timeout == 0 {
		c.Warmup.Timeout = types.Duration(defaultWarmupTimeout)
	}
	if c.Restart.AfterCount == 0 {
		c.Restart.AfterCount = defaultRestartAfterCount
	}
	if c.Restart.AfterTime == 0 {
		c.Restart.AfterTime = types.Duration(defaultRestartAfterTime)
	}
	if c.Viewport.Width == 0 {
		c.Viewport.Width = defaultViewportWidth
	}
	if c.Viewport.Height == 0 {
		c.Viewport.Height = defaultViewportHeight
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = types.Duration(defaultShutdownTimeout)
	}
	if c.ExtractTimeout == 0 {
		c.ExtractTimeout = types.Duration(defaultExtractTimeout)
	}

	if cfg.Registry.HeartbeatInterval == 0 {
		cfg.Registry.HeartbeatInterval = types.Duration(defaultHeartbeatInterval)
	}

	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}
}

// Validate checks configuration validity. Errors name the offending dotted key.
func (cfg *AgentConfig) Validate() error {
	if err := cfg.validateServer(); err != nil {
		return err
	}
	if err := cfg.validateRender(); err != nil {
		return err
	}
	if err := cfg.validateChrome(); err != nil {
		return err
	}
	if err := cfg.validateRegistry(); err != nil {
		return err
	}
	if err := cfg.validateLog(); err != nil {
		return err
	}
	return cfg.validateMetrics()
}

func (cfg *AgentConfig) validateServer() error {
	if cfg.Server.ID == "" {
		return fmt.Errorf("server.id is required")
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if cfg.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if cfg.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must not be negative")
	}
	if cfg.Server.CompressMinSize < 0 {
		return fmt.Errorf("server.compress_min_size must not be negative")
	}
	return nil
}

func (cfg *AgentConfig) validateRender() error {
	r := cfg.Render
	if r.DefaultTimeout <= 0 {
		return fmt.Errorf("render.default_timeout must be positive")
	}
	if r.MaxTimeout <= 0 {
		return fmt.Errorf("render.max_timeout must be positive")
	}
	if r.DefaultTimeout > r.MaxTimeout {
		return fmt.Errorf("render.default_timeout (%s) must not exceed render.max_timeout (%s)", r.DefaultTimeout, r.MaxTimeout)
	}
	if r.OutputTimeout <= 0 {
		return fmt.Errorf("render.output_timeout must be positive")
	}
	if r.AcquireTimeout <= 0 {
		return fmt.Errorf("render.acquire_timeout must be positive")
	}
	if r.ETagHash != ETagHashMD5 && r.ETagHash != ETagHashXXHash {
		return fmt.Errorf("invalid render.etag_hash: %s (must be md5 or xxhash)", r.ETagHash)
	}
	if cfg.Server.Timeout > 0 && cfg.Server.Timeout.ToDuration() < r.MaxTimeout.ToDuration()+r.OutputTimeout.ToDuration() {
		return fmt.Errorf("server.timeout (%s) must cover render.max_timeout plus render.output_timeout", cfg.Server.Timeout)
	}
	return nil
}

func (cfg *AgentConfig) validateChrome() error {
	c := cfg.Chrome
	if c.PoolSize != defaultPoolSize {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("chrome.pool_size must be 'auto' or positive integer")
		}
	}
	if c.Warmup.URL != "" && c.Warmup.Timeout <= 0 {
		return fmt.Errorf("chrome.warmup.timeout must be positive")
	}
	if c.Restart.AfterCount <= 0 {
		return fmt.Errorf("chrome.restart.after_count must be positive")
	}
	if c.Restart.AfterTime <= 0 {
		return fmt.Errorf("chrome.restart.after_time must be positive")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("chrome.viewport.width and chrome.viewport.height must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("chrome.shutdown_timeout must be positive")
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("chrome.extract_timeout must be positive")
	}
	for i, p := range c.Block.Patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("chrome.block.patterns[%d] must not be empty", i)
		}
	}
	return nil
}

func (cfg *AgentConfig) validateRegistry() error {
	if !cfg.Registry.Enabled {
		return nil
	}
	if cfg.Registry.Redis.Addr == "" {
		return fmt.Errorf("registry.redis.addr is required when registry enabled")
	}
	if cfg.Registry.HeartbeatInterval <= 0 {
		return fmt.Errorf("registry.heartbeat_interval must be positive")
	}
	if cfg.Registry.Advertise != "" {
		if err := configtypes.ValidateListenAddress(cfg.Registry.Advertise); err != nil {
			return fmt.Errorf("invalid registry.advertise: %w", err)
		}
	}
	return nil
}

func (cfg *AgentConfig) validateLog() error {
	if !configtypes.ValidLogLevel(cfg.Log.Level) {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn or error)", cfg.Log.Level)
	}
	if cfg.Log.Console.Level != "" && !configtypes.ValidLogLevel(cfg.Log.Console.Level) {
		return fmt.Errorf("invalid log.console.level: %s", cfg.Log.Console.Level)
	}

	if cfg.Log.Console.Enabled {
		switch cfg.Log.Console.Format {
		case configtypes.LogFormatJSON, configtypes.LogFormatConsole:
		default:
			return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
		}
	}

	if !cfg.Log.File.Enabled {
		return nil
	}
	if cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path must be specified when file logging is enabled")
	}
	if cfg.Log.File.Level != "" && !configtypes.ValidLogLevel(cfg.Log.File.Level) {
		return fmt.Errorf("invalid log.file.level: %s", cfg.Log.File.Level)
	}
	switch cfg.Log.File.Format {
	case configtypes.LogFormatJSON, configtypes.LogFormatText:
	default:
		return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
	}

	rot := cfg.Log.File.Rotation
	if rot.MaxSize < 0 {
		return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", rot.MaxSize)
	}
	if rot.MaxAge < 0 {
		return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", rot.MaxAge)
	}
	if rot.MaxBackups < 0 {
		return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", rot.MaxBackups)
	}
	return nil
}

func (cfg *AgentConfig) validateMetrics() error {
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}
	if !namespacePattern.MatchString(cfg.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
	}
	if !cfg.Metrics.Enabled {
		return nil
	}
	if cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics enabled")
	}
	if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
		return fmt.Errorf("invalid metrics.listen: %w", err)
	}

	_, metricsPort, err1 := configtypes.ParseListenAddress(cfg.Metrics.Listen)
	_, serverPort, err2 := configtypes.ParseListenAddress(cfg.Server.Listen)
	if err1 == nil && err2 == nil && metricsPort == serverPort {
		return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
	}
	return nil
}

// GetConfigPath resolves the config file path
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
