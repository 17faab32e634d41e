package main

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/23skdu/blockpool/internal/memory"
	"github.com/eapache/queue"
	"github.com/paulbellamy/ratecounter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Workload drives a random allocate/free mix against one pool. Live
// allocations are freed oldest first.
type Workload struct {
	Pool       *memory.Locked
	Ops        int
	MaxRequest int
	MaxLive    int
	// FreeRatio is the chance of freeing instead of allocating while
	// allocations are live and MaxLive is not reached.
	FreeRatio float64
	// Limiter paces operations; nil runs unthrottled.
	Limiter *rate.Limiter
	Rand    *rand.Rand
	Logger  zerolog.Logger
}

// Result summarizes one workload run.
type Result struct {
	Ops         int
	Allocations int
	Exhausted   int
	Frees       int
	PeakLive    int
	Elapsed     time.Duration
	// OpsPerSecond is the rate over the last second of the run.
	OpsPerSecond int64
}

// Run executes the workload until Ops operations are done or ctx ends. Every
// allocation still live at the end is freed and counted in Frees.
func (w *Workload) Run(ctx context.Context) (Result, error) {
	var (
		res     Result
		live    = queue.New()
		counter = ratecounter.NewRateCounter(time.Second)
		start   = time.Now()
	)

	err := w.loop(ctx, &res, live, counter)
	for live.Length() > 0 {
		w.freeOldest(&res, live)
	}
	res.Elapsed = time.Since(start)
	res.OpsPerSecond = counter.Rate()
	return res, err
}

func (w *Workload) loop(ctx context.Context, res *Result, live *queue.Queue, counter *ratecounter.RateCounter) error {
	for i := 0; i < w.Ops; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		res.Ops++
		counter.Incr(1)

		if live.Length() >= w.MaxLive || (live.Length() > 0 && w.Rand.Float64() < w.FreeRatio) {
			w.freeOldest(res, live)
			continue
		}

		n := 1 + w.Rand.Intn(w.MaxRequest)
		ptr, err := w.Pool.Allocate(n)
		switch {
		case errors.Is(err, memory.ErrExhausted):
			res.Exhausted++
			if live.Length() > 0 {
				w.freeOldest(res, live)
			}
		case err != nil:
			return err
		default:
			live.Add(ptr)
			res.Allocations++
			res.PeakLive = max(res.PeakLive, live.Length())
		}

		if res.Ops%10000 == 0 {
			w.Logger.Debug().
				Int("ops", res.Ops).
				Int("live", live.Length()).
				Int64("ops_per_second", counter.Rate()).
				Msg("workload progress")
		}
	}
	return nil
}

func (w *Workload) freeOldest(res *Result, live *queue.Queue) {
	ptr := live.Remove().(memory.Pointer)
	w.Pool.Deallocate(ptr)
	res.Frees++
}
