package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Block Pool Metrics
// =============================================================================

var (
	// PoolAllocationsTotal counts allocate calls by pool and outcome
	PoolAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_allocations_total",
			Help: "Total number of allocate calls by pool and result",
		},
		[]string{"pool", "result"}, // result: "ok", "exhausted"
	)

	// PoolDeallocationsTotal counts deallocate calls by pool and outcome
	PoolDeallocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_deallocations_total",
			Help: "Total number of deallocate calls by pool and result",
		},
		[]string{"pool", "result"}, // result: "ok", "invalid"
	)

	// PoolBytesAllocatedTotal tracks cumulative requested bytes handed out
	PoolBytesAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_bytes_allocated_total",
			Help: "Cumulative bytes requested through successful allocations",
		},
		[]string{"pool"},
	)

	// PoolBytesFreedTotal tracks cumulative requested bytes returned
	PoolBytesFreedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_bytes_freed_total",
			Help: "Cumulative bytes returned through successful deallocations",
		},
		[]string{"pool"},
	)

	// PoolOutstandingBytes tracks requested bytes currently live
	PoolOutstandingBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockpool_outstanding_bytes",
			Help: "Requested bytes currently allocated and not yet freed",
		},
		[]string{"pool"},
	)

	// PoolUsedBlocks tracks blocks currently marked used
	PoolUsedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockpool_used_blocks",
			Help: "Number of blocks currently marked used",
		},
		[]string{"pool"},
	)

	// PoolTotalBlocks tracks the fixed block count of each pool
	PoolTotalBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockpool_total_blocks",
			Help: "Number of blocks carved from the backing buffer",
		},
		[]string{"pool"},
	)

	// PoolBackingBytes tracks the size of each pool's backing buffer
	PoolBackingBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockpool_backing_bytes",
			Help: "Size in bytes of the backing buffer held by the pool",
		},
		[]string{"pool", "kind"},
	)

	// BackendAcquireTotal counts backing buffer acquisitions by backend kind
	BackendAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_backend_acquire_total",
			Help: "Backing buffer acquisitions by backend kind and result",
		},
		[]string{"kind", "result"}, // result: "ok", "error"
	)

	// BackendReleaseTotal counts backing buffer releases by backend kind
	BackendReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_backend_release_total",
			Help: "Backing buffer releases by backend kind and result",
		},
		[]string{"kind", "result"},
	)

	// ArrowFallbackAllocationsTotal counts arrow allocations served outside the pool
	ArrowFallbackAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_arrow_fallback_allocations_total",
			Help: "Arrow buffer allocations that could not be served by the pool",
		},
		[]string{"pool"},
	)

	// ComputeDispatchTotal counts kernel dispatches by backend kind
	ComputeDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpool_compute_dispatch_total",
			Help: "Compute kernel dispatches by kernel and backend kind",
		},
		[]string{"kernel", "kind"},
	)
)

// =============================================================================
// Health Metrics
// =============================================================================

var (
	// HealthCheckDuration tracks how long each component check takes
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockpool_health_check_duration_seconds",
			Help:    "Duration of health checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// HealthCheckStatus tracks the last reported status of each component
	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockpool_health_check_status",
			Help: "Health check status (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)
)
