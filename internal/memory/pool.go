package memory

import (
	"fmt"

	"github.com/23skdu/blockpool/internal/backend"
	perrors "github.com/23skdu/blockpool/internal/errors"
	"github.com/23skdu/blockpool/internal/metrics"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rs/zerolog"
)

// Options configures a Pool.
type Options struct {
	// Name labels logs and metrics. Defaults to the backend kind. Open pools
	// should have distinct names: pools sharing one report into the same
	// metric series.
	Name string
	// Capacity is the minimum number of bytes the pool can hand out. It is
	// rounded up to a whole number of blocks.
	Capacity int
	// BlockSize is the requested block size. Backends with a fixed block
	// size ignore it.
	BlockSize int
	// Logger receives pool diagnostics. Nil disables logging.
	Logger *zerolog.Logger
	// Observer, if set, is told about every allocate and deallocate call.
	Observer Observer
}

// Pool is a fixed-block memory pool: one backing buffer from a Backend,
// carved into equal blocks and handed out as contiguous runs.
//
// A Pool is not safe for concurrent use. Callers that share one across
// goroutines must serialize access, for example with Locked.
type Pool struct {
	name    string
	backend backend.Backend
	buf     backend.Buffer
	table   *Table
	engine  *Engine

	// requested[i] is the byte count asked for by the live run starting at
	// block i.
	requested []int
	stats     Stats
	seq       uint64
	closed    bool

	observer Observer
	logger   zerolog.Logger
	metrics  *poolMetrics
}

// New builds a pool over b. The backend buffer is acquired once here and held
// until Close.
func New(b backend.Backend, opts Options) (*Pool, error) {
	kind := b.Kind().String()
	name := opts.Name
	if name == "" {
		name = kind
	}

	blockSize, err := b.BlockSize(opts.BlockSize)
	if err != nil {
		return nil, perrors.WrapValidationError(err, "new_pool", "invalid block size").
			WithContext("pool", name).
			WithContext("block_size", opts.BlockSize)
	}

	table, err := NewTable(opts.Capacity, blockSize)
	if err != nil {
		return nil, err
	}

	buf, err := b.Acquire(table.Capacity())
	if err != nil {
		metrics.BackendAcquireTotal.WithLabelValues(kind, "error").Inc()
		return nil, perrors.WrapBackendError(err, "new_pool", "failed to acquire backing buffer").
			WithContext("pool", name).
			WithContext("kind", kind).
			WithContext("bytes", table.Capacity())
	}
	metrics.BackendAcquireTotal.WithLabelValues(kind, "ok").Inc()
	table.Carve(Pointer(buf.Base))

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("pool", name).Str("kind", kind).Logger()
	}

	p := &Pool{
		name:      name,
		backend:   b,
		buf:       buf,
		table:     table,
		engine:    NewEngine(table),
		requested: make([]int, table.Len()),
		observer:  opts.Observer,
		logger:    logger,
		metrics:   newPoolMetrics(name, kind, table.Len(), buf.Size),
	}
	p.stats.TotalBlocks = table.Len()

	p.logger.Debug().
		Int("block_size", blockSize).
		Int("blocks", table.Len()).
		Int("bytes", buf.Size).
		Msg("pool created")

	return p, nil
}

// Allocate reserves a run of contiguous blocks covering nBytes and returns the
// address of its first block. It returns ErrExhausted when no run is long
// enough; the pool never grows.
func (p *Pool) Allocate(nBytes int) (Pointer, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if nBytes <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSize, nBytes)
	}

	ext, ok := p.engine.Allocate(nBytes)
	if !ok {
		p.stats.FailedAllocations++
		p.metrics.allocExhausted.Inc()
		p.logger.Debug().
			Int("bytes", nBytes).
			Int("blocks_needed", p.engine.BlocksFor(nBytes)).
			Int("used_blocks", p.table.UsedCount()).
			Msg("pool exhausted")
		p.emit(OpExhausted, Extent{Start: -1}, nBytes)
		return 0, ErrExhausted
	}

	p.requested[ext.Start] = nBytes
	p.stats.Allocations++
	p.stats.BytesAllocated += int64(nBytes)
	p.stats.OutstandingBytes += int64(nBytes)
	p.stats.UsedBlocks = p.table.UsedCount()
	p.metrics.allocated(int64(nBytes), p.stats.OutstandingBytes, p.stats.UsedBlocks)
	p.check()
	p.emit(OpAllocate, ext, nBytes)

	return p.table.Block(ext.Start).Base, nil
}

// Deallocate returns the run that starts at ptr. Pointers the pool did not
// hand out, or already returned, are logged and counted but otherwise ignored.
func (p *Pool) Deallocate(ptr Pointer) {
	if p.closed {
		p.logger.Warn().Uint64("ptr", uint64(ptr)).Msg("deallocate on closed pool ignored")
		return
	}

	var (
		ext Extent
		ok  bool
	)
	if idx, found := p.table.IndexOf(ptr); found {
		ext, ok = p.engine.Free(idx)
	}
	if !ok {
		p.stats.InvalidFrees++
		p.metrics.freeInvalid.Inc()
		p.logger.Warn().Uint64("ptr", uint64(ptr)).Msg("deallocate of unknown pointer ignored")
		p.emit(OpInvalidFree, Extent{Start: -1}, 0)
		return
	}

	n := p.requested[ext.Start]
	p.requested[ext.Start] = 0
	p.stats.Deallocations++
	p.stats.BytesFreed += int64(n)
	p.stats.OutstandingBytes -= int64(n)
	p.stats.UsedBlocks = p.table.UsedCount()
	p.metrics.freed(int64(n), p.stats.OutstandingBytes, p.stats.UsedBlocks)
	p.check()
	p.emit(OpFree, ext, n)
}

// Extent returns the live run that starts at ptr and the byte count it was
// allocated with.
func (p *Pool) Extent(ptr Pointer) (Extent, int, bool) {
	idx, ok := p.table.IndexOf(ptr)
	if !ok {
		return Extent{}, 0, false
	}
	ext, ok := p.engine.Lookup(idx)
	if !ok {
		return Extent{}, 0, false
	}
	return ext, p.requested[idx], true
}

// Contains reports whether ptr lies inside the pool's backing buffer.
func (p *Pool) Contains(ptr Pointer) bool {
	if p.buf.IsZero() {
		return false
	}
	base := Pointer(p.buf.Base)
	return ptr >= base && ptr < base+Pointer(p.buf.Size)
}

// Bytes views n bytes at ptr. Only host accessible pools can be viewed.
func (p *Pool) Bytes(ptr Pointer, n int) ([]byte, error) {
	if p.buf.Host == nil {
		if p.closed {
			return nil, ErrClosed
		}
		return nil, ErrNotHostAccessible
	}
	off, err := p.offset(ptr, n)
	if err != nil {
		return nil, err
	}
	return p.buf.Host[off : off+n : off+n], nil
}

// CopyIn writes src to pool memory at ptr. Device pools go through the
// backend's transfer primitives.
func (p *Pool) CopyIn(ptr Pointer, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if p.buf.Host != nil {
		dst, err := p.Bytes(ptr, len(src))
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	}
	t, off, err := p.transfer(ptr, len(src))
	if err != nil {
		return err
	}
	return t.CopyIn(p.buf, off, src)
}

// CopyOut reads len(dst) bytes of pool memory at ptr into dst.
func (p *Pool) CopyOut(ptr Pointer, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if p.buf.Host != nil {
		src, err := p.Bytes(ptr, len(dst))
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	}
	t, off, err := p.transfer(ptr, len(dst))
	if err != nil {
		return err
	}
	return t.CopyOut(p.buf, off, dst)
}

func (p *Pool) transfer(ptr Pointer, n int) (backend.Transferer, int, error) {
	if p.closed {
		return nil, 0, ErrClosed
	}
	t, ok := p.backend.(backend.Transferer)
	if !ok {
		return nil, 0, ErrNotHostAccessible
	}
	off, err := p.offset(ptr, n)
	if err != nil {
		return nil, 0, err
	}
	return t, off, nil
}

func (p *Pool) offset(ptr Pointer, n int) (int, error) {
	if n < 0 || !p.Contains(ptr) {
		return 0, ErrOutOfRange
	}
	off := int(ptr - Pointer(p.buf.Base))
	if off+n > p.buf.Size {
		return 0, ErrOutOfRange
	}
	return off, nil
}

// Name returns the pool's label.
func (p *Pool) Name() string { return p.name }

// Kind returns the kind of the backend the pool was built on.
func (p *Pool) Kind() backend.Kind { return p.backend.Kind() }

// Backend returns the backend the pool was built on.
func (p *Pool) Backend() backend.Backend { return p.backend }

// BlockSize returns the size of each block in bytes.
func (p *Pool) BlockSize() int { return p.table.BlockSize() }

// NumBlocks returns the fixed number of blocks in the pool.
func (p *Pool) NumBlocks() int { return p.table.Len() }

// FreeBlocks returns the number of blocks not currently in use.
func (p *Pool) FreeBlocks() int { return p.table.Len() - p.table.UsedCount() }

// Live returns the number of outstanding allocations.
func (p *Pool) Live() int { return p.engine.Live() }

// Extents lists the outstanding allocations by start block.
func (p *Pool) Extents() []Extent { return p.engine.Extents() }

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.closed }

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats { return p.stats }

// Occupancy returns the set of used block indexes.
func (p *Pool) Occupancy() *roaring.Bitmap {
	bm := roaring.New()
	for _, ext := range p.engine.Extents() {
		bm.AddRange(uint64(ext.Start), uint64(ext.End()))
	}
	return bm
}

// Close releases the backing buffer. Outstanding allocations are abandoned
// without leak detection. Close is idempotent.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if live := p.engine.Live(); live > 0 {
		p.logger.Debug().Int("live", live).Msg("closing pool with outstanding allocations")
	}
	p.engine.Reset()
	clear(p.requested)
	p.stats.UsedBlocks = 0
	p.stats.OutstandingBytes = 0

	kind := p.backend.Kind().String()
	p.metrics.closed(kind)

	buf := p.buf
	p.buf = backend.Buffer{}
	if err := p.backend.Release(buf); err != nil {
		metrics.BackendReleaseTotal.WithLabelValues(kind, "error").Inc()
		p.logger.Error().Err(err).Msg("failed to release backing buffer")
		return perrors.WrapBackendError(err, "close_pool", "failed to release backing buffer").
			WithContext("pool", p.name)
	}
	metrics.BackendReleaseTotal.WithLabelValues(kind, "ok").Inc()
	p.logger.Debug().Msg("pool closed")
	return nil
}

func (p *Pool) emit(op Op, ext Extent, n int) {
	p.seq++
	if p.observer == nil {
		return
	}
	p.observer.Observe(Event{
		Seq:        p.seq,
		Pool:       p.name,
		Op:         op,
		Start:      ext.Start,
		Blocks:     ext.Blocks,
		Bytes:      n,
		UsedBlocks: p.table.UsedCount(),
	})
}

// check runs the bookkeeping cross-check in poolcheck builds.
func (p *Pool) check() {
	if !checksEnabled {
		return
	}
	if err := p.engine.verify(); err != nil {
		panic(fmt.Sprintf("memory: pool %s: %v", p.name, err))
	}
}
