package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/mem"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/23skdu/blockpool/internal/compute"
	"github.com/23skdu/blockpool/internal/config"
	"github.com/23skdu/blockpool/internal/container"
	"github.com/23skdu/blockpool/internal/health"
	"github.com/23skdu/blockpool/internal/logging"
	"github.com/23skdu/blockpool/internal/memory"
	"github.com/23skdu/blockpool/internal/trace"
)

func main() {
	app := kingpin.New("poolbench", "Drive allocation workloads through the block pool registry.")
	envFile := app.Flag("env-file", "Optional .env file read before the environment").Default(".env").String()

	runCmd := app.Command("run", "Run a random allocate/free workload and serve /metrics and /healthz").Default()
	runPool := runCmd.Flag("pool", "Registered pool to drive").Default("HOST").String()
	runOps := runCmd.Flag("ops", "Operations to run (overrides BLOCKPOOL_BENCH_OPS)").Int()
	runTrace := runCmd.Flag("trace", "Write a Parquet occupancy trace to this path").String()

	demoCmd := app.Command("demo", "Build vectors on each pool kind and run compute kernels")

	inspectCmd := app.Command("inspect", "Summarize a Parquet occupancy trace")
	inspectPath := inspectCmd.Arg("path", "Trace file").Required().String()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolbench: %v\n", err)
		os.Exit(1)
	}
	if *runOps > 0 {
		cfg.BenchOps = *runOps
	}
	if *runTrace != "" {
		cfg.TracePath = *runTrace
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolbench: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case runCmd.FullCommand():
		err = run(ctx, cfg, *runPool, logger)
	case demoCmd.FullCommand():
		err = demo(cfg, logger)
	case inspectCmd.FullCommand():
		err = inspect(*inspectPath, logger)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("poolbench failed")
		stop()
		os.Exit(1)
	}
}

// reportHostMemory logs host RAM and warns when the configured host side
// pools would not fit.
func reportHostMemory(cfg *config.Config, logger zerolog.Logger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn().Err(err).Msg("host memory stats unavailable")
		return
	}
	want := cfg.TotalPoolBytes()
	logger.Info().
		Uint64("total_bytes", vm.Total).
		Uint64("available_bytes", vm.Available).
		Int64("pool_bytes", want).
		Msg("host memory")
	if uint64(want) > vm.Available {
		logger.Warn().Msg("configured pools exceed available host memory")
	}
}

func run(ctx context.Context, cfg *config.Config, poolName string, logger zerolog.Logger) error {
	reportHostMemory(cfg, logger)

	var rec *trace.Recorder
	rc := cfg.Registry()
	if cfg.TracePath != "" {
		rec = trace.NewRecorder(cfg.TraceLimit)
		rc.Observer = rec
	}

	registry, err := memory.NewDefaultRegistry(rc, &logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close pool registry")
		}
	}()

	pool, err := registry.Get(poolName)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if cfg.BenchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BenchRate), 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	hm := health.NewHealthManager(logger)
	if err := health.RegisterPools(hm, registry, cfg.HealthDegradedAt); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", hm.HTTPHandler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info().Str("address", cfg.MetricsAddr).Msg("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer cancel()
		w := &Workload{
			Pool:       pool,
			Ops:        cfg.BenchOps,
			MaxRequest: cfg.BenchMaxRequest,
			MaxLive:    cfg.BenchMaxLive,
			FreeRatio:  0.4,
			Limiter:    limiter,
			Rand:       rand.New(rand.NewSource(cfg.BenchSeed)),
			Logger:     logger,
		}
		res, err := w.Run(gctx)
		logger.Info().
			Str("pool", pool.Name()).
			Int("ops", res.Ops).
			Int("allocations", res.Allocations).
			Int("exhausted", res.Exhausted).
			Int("frees", res.Frees).
			Int("peak_live", res.PeakLive).
			Dur("elapsed", res.Elapsed).
			Int64("ops_per_second", res.OpsPerSecond).
			Msg("workload finished")
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if cfg.BenchLinger > 0 {
			select {
			case <-time.After(cfg.BenchLinger):
			case <-gctx.Done():
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	registry.LogStats(logger)

	if rec != nil {
		rows := rec.Rows()
		if err := trace.WriteFile(cfg.TracePath, rows); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
		logger.Info().
			Str("path", cfg.TracePath).
			Int("rows", len(rows)).
			Uint64("dropped", rec.Dropped()).
			Msg("trace written")
	}
	return nil
}

// demo builds a small float vector on the HOST and DEVICE pools, sums it
// through the kind dispatcher and exercises the typed adapter directly.
func demo(cfg *config.Config, logger zerolog.Logger) error {
	registry, err := memory.NewDefaultRegistry(cfg.Registry(), &logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	dispatcher := compute.NewDispatcher()
	inputs := map[string][]float32{
		"HOST":   {4, 3},
		"DEVICE": {5, 1, 3},
	}

	for _, name := range []string{"HOST", "DEVICE"} {
		locked, err := registry.Get(name)
		if err != nil {
			logger.Warn().Err(err).Str("pool", name).Msg("pool not available, skipped")
			continue
		}
		err = locked.Do(func(p *memory.Pool) error {
			floats := memory.NewAllocator[float32](p)
			vec := container.NewVector(floats)
			defer vec.Free()

			if err := vec.Reserve(len(inputs[name])); err != nil {
				return err
			}
			for _, x := range inputs[name] {
				if err := vec.Append(x); err != nil {
					return err
				}
			}
			sum, err := dispatcher.Sum(p, vec.Ptr(), vec.Len())
			if err != nil {
				return err
			}
			logger.Info().
				Str("pool", name).
				Str("kind", p.Kind().String()).
				Float32("sum", sum).
				Int64("outstanding_bytes", p.Stats().OutstandingBytes).
				Msg("compute")

			// The vector's allocator serves raw requests of its own and of
			// rebound element types.
			scratch, err := floats.Allocate(100)
			if err != nil {
				return err
			}
			floats.Deallocate(scratch, 100)

			ints := memory.Rebind[int32](floats)
			ip, err := ints.Allocate(50)
			if err != nil {
				return err
			}
			ints.Deallocate(ip, 50)
			return nil
		})
		if err != nil {
			return err
		}
	}

	registry.LogStats(logger)
	return nil
}

func inspect(path string, logger zerolog.Logger) error {
	rows, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	for pool, s := range trace.Summarize(rows) {
		occ := trace.Replay(rows, pool)
		logger.Info().
			Str("pool", pool).
			Int("events", s.Events).
			Int("allocations", s.Allocations).
			Int("frees", s.Frees).
			Int("exhausted", s.Exhausted).
			Int("invalid_frees", s.InvalidFrees).
			Int64("peak_used_blocks", s.PeakUsedBlock).
			Uint64("final_used_blocks", occ.GetCardinality()).
			Msg("trace summary")
	}
	return nil
}
