// Package config loads blockpool settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"os"
	"time"

	perrors "github.com/23skdu/blockpool/internal/errors"
	"github.com/23skdu/blockpool/internal/gpu"
	"github.com/23skdu/blockpool/internal/memory"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. BLOCKPOOL_HOST_CAPACITY.
const Prefix = "BLOCKPOOL"

// Config validation errors
var (
	ErrInvalidHostPool     = errors.New("host_capacity and host_block_size must be positive")
	ErrInvalidPinnedPool   = errors.New("pinned_block_size must be positive when pinned_capacity is set")
	ErrInvalidDevicePool   = errors.New("device_block_size must be positive when device_capacity is set")
	ErrNegativeCapacity    = errors.New("pool capacities cannot be negative")
	ErrInvalidMetricsAddr  = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat    = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel     = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidBenchOps     = errors.New("bench_ops must be positive")
	ErrInvalidBenchRate    = errors.New("bench_rate cannot be negative")
	ErrInvalidBenchRequest = errors.New("bench_max_request must be positive")
	ErrInvalidBenchLive    = errors.New("bench_max_live must be positive")
	ErrInvalidHealthLevel  = errors.New("health_degraded_at must be in (0, 1]")
)

// Config holds every setting the pool registry and the bench tool read.
type Config struct {
	HostCapacity  int `envconfig:"HOST_CAPACITY" default:"67108864"`
	HostBlockSize int `envconfig:"HOST_BLOCK_SIZE" default:"256"`

	// ALIGNED pools always use the OS page size as block size.
	AlignedCapacity int `envconfig:"ALIGNED_CAPACITY" default:"16777216"`

	PinnedCapacity  int `envconfig:"PINNED_CAPACITY" default:"4194304"`
	PinnedBlockSize int `envconfig:"PINNED_BLOCK_SIZE" default:"256"`

	DeviceCapacity    int   `envconfig:"DEVICE_CAPACITY" default:"16777216"`
	DeviceBlockSize   int   `envconfig:"DEVICE_BLOCK_SIZE" default:"256"`
	DeviceSimulated   bool  `envconfig:"DEVICE_SIMULATED" default:"true"`
	DeviceID          int   `envconfig:"DEVICE_ID" default:"0"`
	DeviceMemoryLimit int64 `envconfig:"DEVICE_MEMORY_LIMIT" default:"0"`

	// SkipUnavailable drops pools whose backend cannot be acquired instead
	// of failing startup.
	SkipUnavailable bool `envconfig:"SKIP_UNAVAILABLE" default:"true"`

	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`

	// HealthDegradedAt is the used block fraction at which /healthz
	// reports a pool degraded.
	HealthDegradedAt float64 `envconfig:"HEALTH_DEGRADED_AT" default:"0.9"`

	BenchOps        int           `envconfig:"BENCH_OPS" default:"100000"`
	BenchRate       float64       `envconfig:"BENCH_RATE" default:"0"`
	BenchMaxRequest int           `envconfig:"BENCH_MAX_REQUEST" default:"65536"`
	BenchMaxLive    int           `envconfig:"BENCH_MAX_LIVE" default:"256"`
	BenchSeed       int64         `envconfig:"BENCH_SEED" default:"1"`
	BenchLinger     time.Duration `envconfig:"BENCH_LINGER" default:"0s"`
	TracePath       string        `envconfig:"TRACE_PATH"`
	TraceLimit      int           `envconfig:"TRACE_LIMIT" default:"1000000"`
}

// Load reads an optional .env style file, then the environment. Variables
// already set in the environment win over the file. An empty envFile skips
// the file; a missing default ".env" is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !(envFile == ".env" && errors.Is(err, os.ErrNotExist)) {
				return nil, perrors.WrapConfigurationError(err, "load_config", "failed to read env file").
					WithContext("path", envFile)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, perrors.WrapConfigurationError(err, "load_config", "failed to process environment").
			WithContext("prefix", Prefix)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration. Failures are configuration errors
// wrapping one of the sentinels above.
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return perrors.WrapConfigurationError(err, "validate_config", "invalid configuration")
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.HostCapacity <= 0 || cfg.HostBlockSize <= 0 {
		return ErrInvalidHostPool
	}
	if cfg.AlignedCapacity < 0 || cfg.PinnedCapacity < 0 || cfg.DeviceCapacity < 0 {
		return ErrNegativeCapacity
	}
	if cfg.PinnedCapacity > 0 && cfg.PinnedBlockSize <= 0 {
		return ErrInvalidPinnedPool
	}
	if cfg.DeviceCapacity > 0 && cfg.DeviceBlockSize <= 0 {
		return ErrInvalidDevicePool
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if cfg.HealthDegradedAt <= 0 || cfg.HealthDegradedAt > 1 {
		return ErrInvalidHealthLevel
	}
	if cfg.BenchOps <= 0 {
		return ErrInvalidBenchOps
	}
	if cfg.BenchRate < 0 {
		return ErrInvalidBenchRate
	}
	if cfg.BenchMaxRequest <= 0 {
		return ErrInvalidBenchRequest
	}
	if cfg.BenchMaxLive <= 0 {
		return ErrInvalidBenchLive
	}
	return nil
}

// Registry maps the pool settings onto a default registry configuration.
func (c *Config) Registry() memory.RegistryConfig {
	return memory.RegistryConfig{
		Host:    memory.PoolConfig{Capacity: c.HostCapacity, BlockSize: c.HostBlockSize},
		Aligned: memory.PoolConfig{Capacity: c.AlignedCapacity},
		Pinned:  memory.PoolConfig{Capacity: c.PinnedCapacity, BlockSize: c.PinnedBlockSize},
		Device:  memory.PoolConfig{Capacity: c.DeviceCapacity, BlockSize: c.DeviceBlockSize},
		GPU: gpu.Config{
			Simulated:   c.DeviceSimulated,
			DeviceID:    c.DeviceID,
			MemoryLimit: c.DeviceMemoryLimit,
		},
		SkipUnavailable: c.SkipUnavailable,
	}
}

// TotalPoolBytes returns the bytes all host side pools would reserve.
func (c *Config) TotalPoolBytes() int64 {
	return int64(c.HostCapacity) + int64(c.AlignedCapacity) + int64(c.PinnedCapacity)
}
