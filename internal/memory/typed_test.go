package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vec3 struct {
	X, Y, Z float32
}

func TestAllocator_AllocateAndSlice(t *testing.T) {
	p := newHeapPool(t, 4096, 64)
	a := NewAllocator[int64](p)
	assert.Equal(t, 8, a.ElementSize())

	ptr, err := a.Allocate(10)
	require.NoError(t, err)
	ext, requested, ok := p.Extent(ptr)
	require.True(t, ok)
	assert.Equal(t, 2, ext.Blocks)
	assert.Equal(t, 80, requested)

	s, err := a.Slice(ptr, 10)
	require.NoError(t, err)
	for i := range s {
		s[i] = int64(i * i)
	}
	again, err := a.Slice(ptr, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(81), again[9])

	a.Deallocate(ptr, 10)
	assert.Equal(t, 0, p.Live())
}

func TestAllocator_RebindSharesPool(t *testing.T) {
	p := newHeapPool(t, 4096, 64)
	ints := NewAllocator[int32](p)
	vecs := Rebind[vec3](ints)

	assert.Equal(t, 12, vecs.ElementSize())
	assert.Same(t, p, vecs.Pool())
	assert.True(t, ints.Equal(vecs))
	assert.True(t, vecs.Equal(ints))
	assert.Equal(t, p.Kind(), vecs.Kind())

	ip, err := ints.Allocate(16)
	require.NoError(t, err)
	vp, err := vecs.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	ints.Deallocate(ip, 16)
	vecs.Deallocate(vp, 4)
	assert.Equal(t, 0, p.Live())

	other := newDevicePool(t, 4096, 64)
	assert.False(t, ints.Equal(NewAllocator[int32](other)))
	assert.False(t, ints.Equal(nil))
}

func TestAllocator_Errors(t *testing.T) {
	p := newHeapPool(t, 256, 64)
	a := NewAllocator[float64](p)

	_, err := a.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = a.Allocate(33)
	assert.ErrorIs(t, err, ErrExhausted)

	s, err := a.Slice(0, 0)
	require.NoError(t, err)
	assert.Nil(t, s)

	dev := newDevicePool(t, 256, 64)
	d := NewAllocator[float64](dev)
	ptr, err := d.Allocate(4)
	require.NoError(t, err)
	_, err = d.Slice(ptr, 4)
	assert.ErrorIs(t, err, ErrNotHostAccessible)
	d.Deallocate(ptr, 4)
}

func TestAllocator_CountOverflowIsRejected(t *testing.T) {
	p := newHeapPool(t, 1024, 128)
	a := NewAllocator[int64](p)

	for _, n := range []int{math.MaxInt/8 + 1, math.MaxInt/8 + 2, math.MaxInt} {
		ptr, err := a.Allocate(n)
		assert.ErrorIs(t, err, ErrInvalidSize, "n=%d", n)
		assert.Zero(t, ptr)
	}
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, 0, p.Stats().UsedBlocks)

	// The largest count that fits is passed through and exhausts the pool.
	_, err := a.Allocate(math.MaxInt / 8)
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = a.Slice(Pointer(8), math.MaxInt/8+1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestAllocator_MisalignedBlocks(t *testing.T) {
	p := newHeapPool(t, 30, 3)
	a := NewAllocator[int64](p)

	_, err := p.Allocate(1) // block 0
	require.NoError(t, err)
	ptr, err := a.Allocate(1) // blocks 1-3, base+3
	require.NoError(t, err)

	_, err = a.Slice(ptr, 1)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestAllocator_ZeroSizeElements(t *testing.T) {
	p := newHeapPool(t, 256, 64)
	a := NewAllocator[struct{}](p)

	ptr, err := a.Allocate(5)
	require.NoError(t, err)
	s, err := a.Slice(ptr, 5)
	require.NoError(t, err)
	assert.Len(t, s, 5)
	a.Deallocate(ptr, 5)
	assert.Equal(t, 0, p.Live())
}
