package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	forkjoin "github.com/Swind/go-forkjoin"
)

// Config holds the benchmark settings read from a TOML file. Command-line
// flags override individual fields.
type Config struct {
	Pool     PoolConfig     `toml:"pool"`
	Workload WorkloadConfig `toml:"workload"`
	Metrics  MetricsConfig  `toml:"metrics"`
	LogLevel string         `toml:"log_level"`
}

// PoolConfig mirrors the tunable parts of forkjoin.Config.
type PoolConfig struct {
	Name        string   `toml:"name"`
	Parallelism int      `toml:"parallelism"`
	MaxThreads  int      `toml:"max_threads"`
	MinRunnable int      `toml:"min_runnable"`
	KeepAlive   duration `toml:"keep_alive"`
	AsyncMode   bool     `toml:"async_mode"`
}

// WorkloadConfig sizes the recursive workloads.
type WorkloadConfig struct {
	FibN      int `toml:"fib_n"`
	SortSize  int `toml:"sort_size"`
	Threshold int `toml:"threshold"`
	Rounds    int `toml:"rounds"`
	Batch     int `toml:"batch"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			Name:      "bench",
			KeepAlive: duration{60 * time.Second},
		},
		Workload: WorkloadConfig{
			FibN:      30,
			SortSize:  1 << 20,
			Threshold: 1 << 10,
			Rounds:    3,
			Batch:     8,
		},
		LogLevel: "info",
	}
}

// LoadConfig loads configuration from a TOML file.
// If the file doesn't exist, returns the default config. Keys missing from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return DefaultConfig(), fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}

// PoolOptions converts the pool section into pool options. Zero values
// leave the pool defaults in place.
func (c Config) PoolOptions() []forkjoin.Option {
	opts := []forkjoin.Option{
		forkjoin.WithName(c.Pool.Name),
		forkjoin.WithAsyncMode(c.Pool.AsyncMode),
	}
	if c.Pool.Parallelism > 0 {
		opts = append(opts, forkjoin.WithParallelism(c.Pool.Parallelism))
	}
	if c.Pool.MaxThreads > 0 {
		opts = append(opts, forkjoin.WithMaxThreads(c.Pool.MaxThreads))
	}
	if c.Pool.MinRunnable > 0 {
		opts = append(opts, forkjoin.WithMinRunnable(c.Pool.MinRunnable))
	}
	if c.Pool.KeepAlive.Duration > 0 {
		opts = append(opts, forkjoin.WithKeepAlive(c.Pool.KeepAlive.Duration))
	}
	return opts
}
