// Package trace records pool occupancy events and exports them as Parquet so
// allocation patterns can be compared across backends and runs.
package trace

import (
	"sync"

	"github.com/23skdu/blockpool/internal/memory"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/samber/lo"
)

// Row is one recorded pool event.
type Row struct {
	Seq        uint64 `parquet:"seq"`
	Pool       string `parquet:"pool,dict"`
	Op         string `parquet:"op,dict"`
	Start      int64  `parquet:"start"`
	Blocks     int64  `parquet:"blocks"`
	Bytes      int64  `parquet:"bytes"`
	UsedBlocks int64  `parquet:"used_blocks"`
}

// FromEvent converts a pool event to a trace row.
func FromEvent(e memory.Event) Row {
	return Row{
		Seq:        e.Seq,
		Pool:       e.Pool,
		Op:         e.Op.String(),
		Start:      int64(e.Start),
		Blocks:     int64(e.Blocks),
		Bytes:      int64(e.Bytes),
		UsedBlocks: int64(e.UsedBlocks),
	}
}

// Recorder is a memory.Observer that keeps every event in memory. It may be
// shared by pools running on different goroutines.
type Recorder struct {
	mu   sync.Mutex
	rows []Row
	// limit caps the number of kept rows; 0 keeps everything.
	limit   int
	dropped uint64
}

// NewRecorder returns a recorder keeping at most limit rows (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Observe(e memory.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.rows) >= r.limit {
		r.dropped++
		return
	}
	r.rows = append(r.rows, FromEvent(e))
}

// Rows returns a copy of the recorded rows.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// Dropped returns how many events were discarded after the limit was hit.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = r.rows[:0]
	r.dropped = 0
}

// Summary aggregates the rows of one pool.
type Summary struct {
	Pool          string
	Events        int
	Allocations   int
	Frees         int
	Exhausted     int
	InvalidFrees  int
	PeakUsedBlock int64
}

// Summarize groups rows by pool.
func Summarize(rows []Row) map[string]Summary {
	groups := lo.GroupBy(rows, func(r Row) string { return r.Pool })
	return lo.MapValues(groups, func(rs []Row, pool string) Summary {
		s := Summary{Pool: pool, Events: len(rs)}
		for _, r := range rs {
			switch r.Op {
			case memory.OpAllocate.String():
				s.Allocations++
			case memory.OpFree.String():
				s.Frees++
			case memory.OpExhausted.String():
				s.Exhausted++
			case memory.OpInvalidFree.String():
				s.InvalidFrees++
			}
			s.PeakUsedBlock = max(s.PeakUsedBlock, r.UsedBlocks)
		}
		return s
	})
}

// Replay rebuilds the set of used blocks of pool by applying its rows in
// order. For a complete trace the result equals the pool's Occupancy.
func Replay(rows []Row, pool string) *roaring.Bitmap {
	bm := roaring.New()
	for _, r := range rows {
		if r.Pool != pool || r.Blocks == 0 {
			continue
		}
		switch r.Op {
		case memory.OpAllocate.String():
			bm.AddRange(uint64(r.Start), uint64(r.Start+r.Blocks))
		case memory.OpFree.String():
			bm.RemoveRange(uint64(r.Start), uint64(r.Start+r.Blocks))
		}
	}
	return bm
}

var _ memory.Observer = (*Recorder)(nil)
