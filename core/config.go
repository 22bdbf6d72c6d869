package core

import (
	"runtime"
	"time"
)

const (
	defaultKeepAlive = 60 * time.Second
	defaultHelpDepth = 3
	defaultSpares    = 256
)

// WorkerFactory starts a worker. It must arrange for run to be called on a
// new goroutine and return an error if it cannot.
type WorkerFactory func(run func()) error

// GoroutineFactory starts each worker with a plain go statement.
func GoroutineFactory(run func()) error {
	go run()
	return nil
}

// Config holds configuration options for a Pool.
// All handlers are optional; if not provided, default implementations will be used.
type Config struct {
	// Name identifies the pool in logs and metrics. Defaults to a random ID.
	Name string

	// Parallelism is the target number of active workers. Defaults to GOMAXPROCS.
	Parallelism int

	// MinThreads is the number of workers kept alive when idle beyond KeepAlive.
	MinThreads int

	// MaxThreads bounds the total number of workers including compensating
	// spares. Zero means Parallelism + 256.
	MaxThreads int

	// MinRunnable is the minimum number of workers allowed to stay active
	// before a blocked join must spawn a replacement. Defaults to 1.
	MinRunnable int

	// KeepAlive is how long an idle worker waits before it may exit.
	KeepAlive time.Duration

	// Saturate, when non-nil, is consulted instead of failing with
	// ErrResourceExhausted when a blocked join cannot be compensated.
	// Returning true lets the join block without compensation.
	Saturate func(*Pool) bool

	// AsyncMode makes workers run their own queued tasks in FIFO order.
	AsyncMode bool

	// HelpDepth is how many steal links a joiner follows when looking for
	// tasks to help with.
	HelpDepth int

	// WorkerFactory starts worker goroutines. Defaults to GoroutineFactory.
	WorkerFactory WorkerFactory

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler defaults to a DefaultPanicHandler using Logger.
	PanicHandler PanicHandler

	// RejectedTaskHandler defaults to a LoggingRejectedTaskHandler using Logger.
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultConfig returns a config with default settings.
func DefaultConfig() *Config {
	return &Config{
		Parallelism:   runtime.GOMAXPROCS(0),
		MinRunnable:   1,
		KeepAlive:     defaultKeepAlive,
		HelpDepth:     defaultHelpDepth,
		WorkerFactory: GoroutineFactory,
	}
}

// Option configures a Pool.
type Option func(*Config)

func WithName(name string) Option { return func(c *Config) { c.Name = name } }

func WithParallelism(n int) Option { return func(c *Config) { c.Parallelism = n } }

func WithMinThreads(n int) Option { return func(c *Config) { c.MinThreads = n } }

func WithMaxThreads(n int) Option { return func(c *Config) { c.MaxThreads = n } }

func WithMinRunnable(n int) Option { return func(c *Config) { c.MinRunnable = n } }

func WithKeepAlive(d time.Duration) Option { return func(c *Config) { c.KeepAlive = d } }

func WithSaturate(fn func(*Pool) bool) Option { return func(c *Config) { c.Saturate = fn } }

func WithAsyncMode(enabled bool) Option { return func(c *Config) { c.AsyncMode = enabled } }

func WithHelpDepth(n int) Option { return func(c *Config) { c.HelpDepth = n } }

func WithWorkerFactory(f WorkerFactory) Option { return func(c *Config) { c.WorkerFactory = f } }

func WithLogger(l Logger) Option { return func(c *Config) { c.Logger = l } }

func WithMetrics(m Metrics) Option { return func(c *Config) { c.Metrics = m } }

func WithPanicHandler(h PanicHandler) Option { return func(c *Config) { c.PanicHandler = h } }

func WithRejectedTaskHandler(h RejectedTaskHandler) Option {
	return func(c *Config) { c.RejectedTaskHandler = h }
}

// maxThreads resolves the MaxThreads default.
func (c *Config) maxThreads() int {
	if c.MaxThreads == 0 {
		return min(c.Parallelism+defaultSpares, maxCap)
	}
	return c.MaxThreads
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 || c.Parallelism > maxCap {
		return invalidConfig("parallelism %d out of range [1, %d]", c.Parallelism, maxCap)
	}
	maxThreads := c.maxThreads()
	if maxThreads < c.Parallelism || maxThreads > maxCap {
		return invalidConfig("max threads %d out of range [%d, %d]", maxThreads, c.Parallelism, maxCap)
	}
	if c.MinThreads < 0 || c.MinThreads > maxThreads {
		return invalidConfig("min threads %d out of range [0, %d]", c.MinThreads, maxThreads)
	}
	if c.MinRunnable < 0 || c.MinRunnable > maxCap {
		return invalidConfig("min runnable %d out of range [0, %d]", c.MinRunnable, maxCap)
	}
	if c.KeepAlive <= 0 {
		return invalidConfig("keep alive must be positive, got %v", c.KeepAlive)
	}
	if c.HelpDepth < 1 {
		return invalidConfig("help depth must be at least 1, got %d", c.HelpDepth)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.WorkerFactory == nil {
		c.WorkerFactory = GoroutineFactory
	}
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = NewDefaultPanicHandler(c.Logger)
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = &LoggingRejectedTaskHandler{Logger: c.Logger}
	}
}
