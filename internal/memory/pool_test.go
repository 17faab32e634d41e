package memory

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/23skdu/blockpool/internal/backend"
	perrors "github.com/23skdu/blockpool/internal/errors"
	"github.com/23skdu/blockpool/internal/gpu"
	"github.com/23skdu/blockpool/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeapPool(t *testing.T, capacity, blockSize int) *Pool {
	t.Helper()
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	p, err := New(backend.NewHeap(checked), Options{
		Name:      t.Name(),
		Capacity:  capacity,
		BlockSize: blockSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Close())
		checked.AssertSize(t, 0)
	})
	return p
}

func newDevicePool(t *testing.T, capacity, blockSize int) *Pool {
	t.Helper()
	dev := gpu.NewSimulated(gpu.Config{}, nil)
	p, err := New(backend.NewDevice(dev), Options{
		Name:      t.Name() + "/device",
		Capacity:  capacity,
		BlockSize: blockSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Close())
		assert.Equal(t, int64(0), dev.Used())
		require.NoError(t, dev.Close())
	})
	return p
}

func TestPool_ScenarioA(t *testing.T) {
	p := newHeapPool(t, 1024, 128)
	assert.Equal(t, 8, p.NumBlocks())
	assert.Equal(t, 128, p.BlockSize())
	assert.Equal(t, backend.KindHost, p.Kind())
	assert.Equal(t, t.Name(), p.Name())

	a, err := p.Allocate(100)
	require.NoError(t, err)
	assert.NotZero(t, a)
	assert.Equal(t, 7, p.FreeBlocks())

	b, err := p.Allocate(200)
	require.NoError(t, err)
	assert.NotZero(t, b)
	assert.Equal(t, 5, p.FreeBlocks())
	assert.Equal(t, Pointer(128), b-a)
}

func TestPool_ScenarioB(t *testing.T) {
	p := newHeapPool(t, 1024, 128)

	a, err := p.Allocate(100)
	require.NoError(t, err)
	b, err := p.Allocate(200)
	require.NoError(t, err)
	c, err := p.Allocate(256)
	require.NoError(t, err)

	occ := p.Occupancy()
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, occ.ToArray())
	assert.True(t, a < b && b < c)

	p.Deallocate(b)
	again, err := p.Allocate(250)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestPool_ScenarioC(t *testing.T) {
	p := newHeapPool(t, 8*64, 64)

	_, err := p.Allocate(5 * 64)
	require.NoError(t, err)

	_, err = p.Allocate(4 * 64)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, uint64(1), p.Stats().FailedAllocations)
	assert.Equal(t, 3, p.FreeBlocks())
}

func TestPool_ScenarioD(t *testing.T) {
	host := newHeapPool(t, 4096, 256)
	dev := newDevicePool(t, 4096, 256)
	require.Equal(t, host.NumBlocks(), dev.NumBlocks())

	var hostTrace, devTrace []Event
	host.observer = ObserverFunc(func(e Event) { hostTrace = append(hostTrace, e) })
	dev.observer = ObserverFunc(func(e Event) { devTrace = append(devTrace, e) })

	sizes := []int{300, 1, 512, 256, 1024, 700, 2000, 90}
	run := func(p *Pool) []uint32 {
		var live []Pointer
		for i, n := range sizes {
			ptr, err := p.Allocate(n)
			if err == nil {
				live = append(live, ptr)
			}
			if i%3 == 2 && len(live) > 0 {
				p.Deallocate(live[0])
				live = live[1:]
			}
		}
		return p.Occupancy().ToArray()
	}

	hostOcc := run(host)
	devOcc := run(dev)
	assert.Equal(t, hostOcc, devOcc)

	require.Len(t, devTrace, len(hostTrace))
	for i := range hostTrace {
		h, d := hostTrace[i], devTrace[i]
		h.Pool, d.Pool = "", ""
		assert.Equal(t, h, d, "event %d", i)
	}
	assert.NotEqual(t, host.table.Base(), dev.table.Base())
	assert.Equal(t, host.Stats().UsedBlocks, dev.Stats().UsedBlocks)
}

func TestPool_RoundTripRestoresOccupancy(t *testing.T) {
	p := newHeapPool(t, 2048, 64)
	_, err := p.Allocate(100)
	require.NoError(t, err)

	before := p.Occupancy()
	ptr, err := p.Allocate(500)
	require.NoError(t, err)
	p.Deallocate(ptr)
	assert.True(t, before.Equals(p.Occupancy()))

	again, err := p.Allocate(500)
	require.NoError(t, err)
	assert.Equal(t, ptr, again)
}

func TestPool_Stats(t *testing.T) {
	p := newHeapPool(t, 1024, 128)

	a, err := p.Allocate(100)
	require.NoError(t, err)
	_, err = p.Allocate(300)
	require.NoError(t, err)
	p.Deallocate(a)
	p.Deallocate(a)
	_, err = p.Allocate(4096)
	require.ErrorIs(t, err, ErrExhausted)

	s := p.Stats()
	assert.Equal(t, uint64(2), s.Allocations)
	assert.Equal(t, uint64(1), s.Deallocations)
	assert.Equal(t, uint64(1), s.FailedAllocations)
	assert.Equal(t, uint64(1), s.InvalidFrees)
	assert.Equal(t, int64(400), s.BytesAllocated)
	assert.Equal(t, int64(100), s.BytesFreed)
	assert.Equal(t, int64(300), s.OutstandingBytes)
	assert.Equal(t, 3, s.UsedBlocks)
	assert.Equal(t, 8, s.TotalBlocks)

	name := t.Name()
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PoolAllocationsTotal.WithLabelValues(name, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolAllocationsTotal.WithLabelValues(name, "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolDeallocationsTotal.WithLabelValues(name, "invalid")))
	assert.Equal(t, 300.0, testutil.ToFloat64(metrics.PoolOutstandingBytes.WithLabelValues(name)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PoolUsedBlocks.WithLabelValues(name)))
}

func TestPool_InvalidFreeIsLoggedAndIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	p, err := New(backend.NewHeap(nil), Options{
		Name:      t.Name(),
		Capacity:  1024,
		BlockSize: 128,
		Logger:    &logger,
	})
	require.NoError(t, err)
	defer p.Close()

	ptr, err := p.Allocate(300)
	require.NoError(t, err)
	before := p.Occupancy()

	p.Deallocate(ptr + 128) // interior block
	p.Deallocate(ptr + 1)   // not block aligned
	p.Deallocate(0)         // foreign
	assert.True(t, before.Equals(p.Occupancy()))
	assert.Equal(t, uint64(3), p.Stats().InvalidFrees)
	assert.Equal(t, 3, strings.Count(buf.String(), "deallocate of unknown pointer ignored"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestPool_Validation(t *testing.T) {
	_, err := New(backend.NewHeap(nil), Options{Capacity: 1024, BlockSize: 0})
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.ErrorTypeValidation))
	assert.ErrorIs(t, err, backend.ErrInvalidBlockSize)

	_, err = New(backend.NewHeap(nil), Options{Capacity: 0, BlockSize: 64})
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.ErrorTypeValidation))

	p := newHeapPool(t, 1024, 128)
	_, err = p.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = p.Allocate(-10)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

type failingBackend struct{ backend.Backend }

func (failingBackend) Acquire(int) (backend.Buffer, error) {
	return backend.Buffer{}, backend.ErrPinFailed
}

func TestPool_BackendFailureIsHardError(t *testing.T) {
	_, err := New(failingBackend{backend.NewPinned()}, Options{Capacity: 4096, BlockSize: 64})
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.ErrorTypeBackend))
	assert.ErrorIs(t, err, backend.ErrPinFailed)
	assert.False(t, errors.Is(err, ErrExhausted))

	dev := gpu.NewSimulated(gpu.Config{MemoryLimit: 1024}, nil)
	defer dev.Close()
	_, err = New(backend.NewDevice(dev), Options{Capacity: 4096, BlockSize: 64})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrDeviceAlloc)
}

func TestPool_BytesAndCopies(t *testing.T) {
	p := newHeapPool(t, 1024, 128)
	ptr, err := p.Allocate(16)
	require.NoError(t, err)

	require.NoError(t, p.CopyIn(ptr, []byte("blockpool")))
	view, err := p.Bytes(ptr, 9)
	require.NoError(t, err)
	assert.Equal(t, "blockpool", string(view))
	assert.Equal(t, 9, cap(view))

	out := make([]byte, 5)
	require.NoError(t, p.CopyOut(ptr, out))
	assert.Equal(t, "block", string(out))

	_, err = p.Bytes(ptr, 2048)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = p.Bytes(1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPool_DeviceMemoryOnlyThroughCopies(t *testing.T) {
	p := newDevicePool(t, 1024, 128)
	assert.False(t, p.Kind().HostAccessible())

	ptr, err := p.Allocate(64)
	require.NoError(t, err)

	_, err = p.Bytes(ptr, 8)
	assert.ErrorIs(t, err, ErrNotHostAccessible)

	require.NoError(t, p.CopyIn(ptr, []byte{9, 8, 7}))
	out := make([]byte, 3)
	require.NoError(t, p.CopyOut(ptr, out))
	assert.Equal(t, []byte{9, 8, 7}, out)
	p.Deallocate(ptr)
	assert.Equal(t, 0, p.Live())
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer checked.AssertSize(t, 0)

	p, err := New(backend.NewHeap(checked), Options{Name: t.Name(), Capacity: 1024, BlockSize: 128})
	require.NoError(t, err)
	ptr, err := p.Allocate(100)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Allocate(10)
	assert.ErrorIs(t, err, ErrClosed)
	p.Deallocate(ptr)
	assert.False(t, p.Contains(ptr))
	assert.Equal(t, int64(0), p.Stats().OutstandingBytes)
}

func TestPool_ObserverSeesEveryCall(t *testing.T) {
	var ops []Op
	p, err := New(backend.NewHeap(nil), Options{
		Name:      t.Name(),
		Capacity:  256,
		BlockSize: 128,
		Observer:  ObserverFunc(func(e Event) { ops = append(ops, e.Op) }),
	})
	require.NoError(t, err)
	defer p.Close()

	ptr, err := p.Allocate(256)
	require.NoError(t, err)
	_, _ = p.Allocate(1)
	p.Deallocate(ptr)
	p.Deallocate(ptr)

	assert.Equal(t, []Op{OpAllocate, OpExhausted, OpFree, OpInvalidFree}, ops)
	assert.Equal(t, "invalid_free", OpInvalidFree.String())
}
