package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/23skdu/blockpool/internal/memory"
)

// DefaultDegradedUtilization is the used block fraction at which a pool is
// reported degraded.
const DefaultDegradedUtilization = 0.9

// PoolChecker reports a pool degraded when its block utilization reaches a
// threshold or when allocations failed since the previous check, and
// unhealthy once the pool is closed.
type PoolChecker struct {
	pool       *memory.Locked
	degradedAt float64

	mu         sync.Mutex
	lastFailed uint64
}

// NewPoolChecker checks pool. A degradedAt outside (0, 1] selects
// DefaultDegradedUtilization.
func NewPoolChecker(pool *memory.Locked, degradedAt float64) *PoolChecker {
	if degradedAt <= 0 || degradedAt > 1 {
		degradedAt = DefaultDegradedUtilization
	}
	return &PoolChecker{pool: pool, degradedAt: degradedAt}
}

func (pc *PoolChecker) Name() string {
	return "pool." + pc.pool.Name()
}

func (pc *PoolChecker) Check(_ context.Context) *ComponentHealth {
	var (
		stats  memory.Stats
		closed bool
	)
	_ = pc.pool.Do(func(p *memory.Pool) error {
		stats = p.Stats()
		closed = p.Closed()
		return nil
	})

	pc.mu.Lock()
	newFailures := stats.FailedAllocations - pc.lastFailed
	pc.lastFailed = stats.FailedAllocations
	pc.mu.Unlock()

	utilization := 0.0
	if stats.TotalBlocks > 0 {
		utilization = float64(stats.UsedBlocks) / float64(stats.TotalBlocks)
	}

	status := StatusHealthy
	message := "pool has free capacity"
	switch {
	case closed:
		status = StatusUnhealthy
		message = "pool is closed"
	case utilization >= pc.degradedAt:
		status = StatusDegraded
		message = fmt.Sprintf("block utilization %.0f%% at or above %.0f%%", utilization*100, pc.degradedAt*100)
	case newFailures > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d allocations exhausted the pool since last check", newFailures)
	}

	return &ComponentHealth{
		Name:        pc.Name(),
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
		Metadata: map[string]interface{}{
			"kind":               pc.pool.Kind().String(),
			"used_blocks":        stats.UsedBlocks,
			"total_blocks":       stats.TotalBlocks,
			"outstanding_bytes":  stats.OutstandingBytes,
			"failed_allocations": stats.FailedAllocations,
		},
	}
}

// RegisterPools adds a PoolChecker for every pool in the registry.
func RegisterPools(hm *HealthManager, registry *memory.Registry, degradedAt float64) error {
	for _, name := range registry.Names() {
		pool, err := registry.Get(name)
		if err != nil {
			return err
		}
		hm.RegisterChecker(NewPoolChecker(pool, degradedAt))
	}
	return nil
}
