package memory

import (
	"sync"

	"github.com/23skdu/blockpool/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a read-only snapshot of a pool's counters.
type Stats struct {
	Allocations       uint64
	Deallocations     uint64
	FailedAllocations uint64
	InvalidFrees      uint64
	BytesAllocated    int64
	BytesFreed        int64
	OutstandingBytes  int64
	UsedBlocks        int
	TotalBlocks       int
}

// poolMetrics caches the labelled collectors of one pool so the hot path
// skips label lookups.
type poolMetrics struct {
	name           string
	allocOK        prometheus.Counter
	allocExhausted prometheus.Counter
	freeOK         prometheus.Counter
	freeInvalid    prometheus.Counter
	bytesAllocated prometheus.Counter
	bytesFreed     prometheus.Counter
	outstanding    prometheus.Gauge
	usedBlocks     prometheus.Gauge
}

// liveSeries counts open pools per metric name. Pools that share a name share
// series, and the gauges are only dropped when the last of them closes.
var liveSeries = struct {
	sync.Mutex
	n map[string]int
}{n: make(map[string]int)}

func newPoolMetrics(name, kind string, totalBlocks, backingBytes int) *poolMetrics {
	liveSeries.Lock()
	liveSeries.n[name]++
	liveSeries.Unlock()

	metrics.PoolTotalBlocks.WithLabelValues(name).Set(float64(totalBlocks))
	metrics.PoolBackingBytes.WithLabelValues(name, kind).Set(float64(backingBytes))

	m := &poolMetrics{
		name:           name,
		allocOK:        metrics.PoolAllocationsTotal.WithLabelValues(name, "ok"),
		allocExhausted: metrics.PoolAllocationsTotal.WithLabelValues(name, "exhausted"),
		freeOK:         metrics.PoolDeallocationsTotal.WithLabelValues(name, "ok"),
		freeInvalid:    metrics.PoolDeallocationsTotal.WithLabelValues(name, "invalid"),
		bytesAllocated: metrics.PoolBytesAllocatedTotal.WithLabelValues(name),
		bytesFreed:     metrics.PoolBytesFreedTotal.WithLabelValues(name),
		outstanding:    metrics.PoolOutstandingBytes.WithLabelValues(name),
		usedBlocks:     metrics.PoolUsedBlocks.WithLabelValues(name),
	}
	m.outstanding.Set(0)
	m.usedBlocks.Set(0)
	return m
}

func (m *poolMetrics) allocated(bytes int64, outstanding int64, used int) {
	m.allocOK.Inc()
	m.bytesAllocated.Add(float64(bytes))
	m.outstanding.Set(float64(outstanding))
	m.usedBlocks.Set(float64(used))
}

func (m *poolMetrics) freed(bytes int64, outstanding int64, used int) {
	m.freeOK.Inc()
	m.bytesFreed.Add(float64(bytes))
	m.outstanding.Set(float64(outstanding))
	m.usedBlocks.Set(float64(used))
}

// closed drops the per-pool gauges once no open pool uses the name; counters
// keep their history.
func (m *poolMetrics) closed(kind string) {
	liveSeries.Lock()
	liveSeries.n[m.name]--
	last := liveSeries.n[m.name] <= 0
	if last {
		delete(liveSeries.n, m.name)
	}
	liveSeries.Unlock()
	if !last {
		return
	}
	metrics.PoolOutstandingBytes.DeleteLabelValues(m.name)
	metrics.PoolUsedBlocks.DeleteLabelValues(m.name)
	metrics.PoolTotalBlocks.DeleteLabelValues(m.name)
	metrics.PoolBackingBytes.DeleteLabelValues(m.name, kind)
}
