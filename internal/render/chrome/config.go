package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

const poolSizeAuto = "auto"

// Config holds the configuration for Chrome pool and instances
type Config struct {
	// Pool configuration
	PoolSize        string        // "auto" or integer string
	AcquireTimeout  time.Duration // Max wait for a free instance
	WarmupURL       string        // URL to navigate during warmup, empty disables warmup
	WarmupTimeout   time.Duration // Warmup navigation timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// Restart policies
	RestartAfterCount int           // Restart after N renders
	RestartAfterTime  time.Duration // Restart after duration

	// Page defaults
	ViewportWidth  int
	ViewportHeight int
	ExtractTimeout time.Duration // Budget for reading HTML and URL from a settled page

	// Optional request blocking
	BlockedPatterns      []string
	BlockedResourceTypes []string
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		PoolSize:          poolSizeAuto,
		AcquireTimeout:    30 * time.Second,
		WarmupURL:         "about:blank",
		WarmupTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  60 * time.Minute,
		ViewportWidth:     1366,
		ViewportHeight:    768,
		ExtractTimeout:    5 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PoolSize != poolSizeAuto {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}

	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}

	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}

	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}

	if c.WarmupURL != "" && c.WarmupTimeout <= 0 {
		return fmt.Errorf("warmup timeout must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}

	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract timeout must be positive")
	}

	if _, err := NewBlocklist(c.BlockedPatterns, c.BlockedResourceTypes); err != nil {
		return err
	}

	return nil
}

// CalculatePoolSize determines the pool size.
// Formula for "auto": (Total RAM - 2GB) / 500MB per Chrome, clamped to [2, 50]
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == poolSizeAuto {
		return autoPoolSize(totalMemory())
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		return autoPoolSize(totalMemory())
	}

	return size
}

func totalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 8 * 1024 * 1024 * 1024 // conservative fallback
	}
	return v.Total
}

func autoPoolSize(totalRAMBytes uint64) int {
	const (
		reservedBytes       = int64(2 * 1024 * 1024 * 1024)
		chromeInstanceBytes = int64(500 * 1024 * 1024)
		minPoolSize         = 2
		maxPoolSize         = 50
	)

	poolSize := int((int64(totalRAMBytes) - reservedBytes) / chromeInstanceBytes)
	if poolSize < minPoolSize {
		return minPoolSize
	}
	if poolSize > maxPoolSize {
		return maxPoolSize
	}
	return poolSize
}
