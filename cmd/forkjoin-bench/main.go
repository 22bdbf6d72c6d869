// Command forkjoin-bench runs recursive workloads on a fork/join pool and
// reports timings and pool statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	forkjoin "github.com/Swind/go-forkjoin"
	fjprom "github.com/Swind/go-forkjoin/observability/prometheus"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "forkjoin-bench",
		Usage: "Run recursive workloads on a work-stealing pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "forkjoin-bench.toml",
				Usage:   "TOML config file; defaults apply if it does not exist",
			},
			&cli.IntFlag{
				Name:    "parallelism",
				Aliases: []string{"p"},
				Usage:   "Target parallelism (0 uses GOMAXPROCS)",
			},
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Run local queues in FIFO order",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			fibCommand(),
			sortCommand(),
			batchCommand(),
		},
	}
}

func fibCommand() *cli.Command {
	return &cli.Command{
		Name:  "fib",
		Usage: "Compute Fibonacci numbers by recursive fork and join",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "n", Usage: "Fibonacci index"},
			&cli.IntFlag{Name: "threshold", Usage: "Compute sequentially at or below this index"},
		},
		Action: func(c *cli.Context) error {
			return withBench(c, func(ctx context.Context, b *bench) error {
				n := intFlag(c, "n", b.cfg.Workload.FibN)
				threshold := intFlag(c, "threshold", min(b.cfg.Workload.Threshold, 12))
				return b.rounds(ctx, "fib", func() (string, error) {
					v, err := b.pool.Invoke(ctx, fibTask(n, threshold))
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("fib(%d) = %d", n, v), nil
				})
			})
		},
	}
}

func sortCommand() *cli.Command {
	return &cli.Command{
		Name:  "sort",
		Usage: "Merge sort a random slice with forked halves",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "size", Usage: "Number of elements"},
			&cli.IntFlag{Name: "threshold", Usage: "Sort sequentially at or below this length"},
		},
		Action: func(c *cli.Context) error {
			return withBench(c, func(ctx context.Context, b *bench) error {
				size := intFlag(c, "size", b.cfg.Workload.SortSize)
				threshold := max(intFlag(c, "threshold", b.cfg.Workload.Threshold), 1)
				round := uint64(0)
				return b.rounds(ctx, "sort", func() (string, error) {
					round++
					xs := randomInts(size, round)
					if _, err := b.pool.Invoke(ctx, sortTask(xs, make([]int, len(xs)), threshold)); err != nil {
						return "", err
					}
					if !slices.IsSorted(xs) {
						return "", errors.New("result is not sorted")
					}
					return fmt.Sprintf("sorted %d elements", size), nil
				})
			})
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Submit many Fibonacci computations from concurrent callers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "callers", Usage: "Concurrent submitting goroutines"},
			&cli.IntFlag{Name: "n", Usage: "Fibonacci index per computation"},
		},
		Action: func(c *cli.Context) error {
			return withBench(c, func(ctx context.Context, b *bench) error {
				callers := max(intFlag(c, "callers", b.cfg.Workload.Batch), 1)
				n := intFlag(c, "n", b.cfg.Workload.FibN-5)
				threshold := min(b.cfg.Workload.Threshold, 12)
				want := fibSeq(n)
				return b.rounds(ctx, "batch", func() (string, error) {
					g, gctx := errgroup.WithContext(ctx)
					for i := 0; i < callers; i++ {
						g.Go(func() error {
							v, err := b.pool.Invoke(gctx, fibTask(n, threshold))
							if err != nil {
								return err
							}
							if v != want {
								return fmt.Errorf("fib(%d) = %v, want %d", n, v, want)
							}
							return nil
						})
					}
					if err := g.Wait(); err != nil {
						return "", err
					}
					return fmt.Sprintf("%d callers computed fib(%d)", callers, n), nil
				})
			})
		},
	}
}

// intFlag returns the flag value when set, otherwise fallback.
func intFlag(c *cli.Context, name string, fallback int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return fallback
}

type bench struct {
	cfg    Config
	pool   *forkjoin.Pool
	logger zerolog.Logger
}

func (b *bench) rounds(ctx context.Context, name string, run func() (string, error)) error {
	for i := 1; i <= max(b.cfg.Workload.Rounds, 1); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		result, err := run()
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s round %d failed: %v", name, i, err), 1)
		}
		s := b.pool.Stats()
		b.logger.Info().
			Int("round", i).
			Dur("elapsed", time.Since(start)).
			Int("workers", s.Workers).
			Int64("steals", s.Steals).
			Msg(result)
	}
	return nil
}

// withBench loads configuration, builds the pool and optional metrics
// endpoint, runs fn and tears everything down.
func withBench(c *cli.Context, fn func(ctx context.Context, b *bench) error) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyFlags(c, &cfg)

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level %q", cfg.LogLevel), 1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Msgf(format, args...)
	}))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}
	defer undo()

	opts := append(cfg.PoolOptions(), forkjoin.WithLogger(forkjoin.NewZerologLogger(logger)))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	exporter, err := fjprom.NewMetricsExporter("forkjoin", reg, fjprom.ExporterOptions{})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts = append(opts, forkjoin.WithMetrics(exporter))

	pool, err := forkjoin.NewPool(opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		pool.Shutdown()
		if !pool.AwaitTerminationTimeout(10 * time.Second) {
			logger.Warn().Msg("pool did not terminate in time")
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		poller, err := fjprom.NewSnapshotPoller(reg, time.Second)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		poller.AddPool(pool.Name(), pool)
		poller.Start(ctx)
		defer poller.Stop()

		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	logger.Info().
		Str("pool", pool.Name()).
		Int("parallelism", pool.Parallelism()).
		Bool("async", pool.AsyncMode()).
		Msg("starting")
	return fn(ctx, &bench{cfg: cfg, pool: pool, logger: logger})
}

func applyFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("parallelism") {
		cfg.Pool.Parallelism = c.Int("parallelism")
	}
	if c.IsSet("async") {
		cfg.Pool.AsyncMode = c.Bool("async")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
