package memory

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/23skdu/blockpool/internal/backend"
)

// Allocator is an element-typed view of a Pool: it allocates n elements of T
// instead of n bytes. Allocators are small values and may be copied freely;
// copies, and rebinds to other element types, share the same pool.
//
// Elements live outside the Go heap for most backends, so T must not contain
// Go pointers.
type Allocator[T any] struct {
	pool *Pool
}

// NewAllocator returns an allocator of T drawing from p.
func NewAllocator[T any](p *Pool) Allocator[T] {
	return Allocator[T]{pool: p}
}

// Rebind returns an allocator of U sharing a's pool.
func Rebind[U, T any](a Allocator[T]) Allocator[U] {
	return Allocator[U]{pool: a.pool}
}

// ElementSize returns the size in bytes of one T.
func (a Allocator[T]) ElementSize() int {
	var z T
	return int(unsafe.Sizeof(z))
}

// bytesFor returns the byte size of n elements. Zero-size elements still
// take one byte so each allocation owns a distinct run. It reports false when
// n elements do not fit in an int.
func (a Allocator[T]) bytesFor(n int) (int, bool) {
	size := a.ElementSize()
	if size == 0 {
		return 1, true
	}
	if n > math.MaxInt/size {
		return 0, false
	}
	return n * size, true
}

// Allocate reserves room for n elements of T. It fails with ErrExhausted
// exactly when the pool does, and with ErrInvalidSize when n is not positive
// or n elements overflow an int.
func (a Allocator[T]) Allocate(n int) (Pointer, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: got %d elements", ErrInvalidSize, n)
	}
	nBytes, ok := a.bytesFor(n)
	if !ok {
		return 0, fmt.Errorf("%w: %d elements of %d bytes overflow", ErrInvalidSize, n, a.ElementSize())
	}
	return a.pool.Allocate(nBytes)
}

// Deallocate returns memory obtained from Allocate. n must be the count the
// memory was allocated with; the pool frees the whole recorded run either way.
func (a Allocator[T]) Deallocate(ptr Pointer, n int) {
	if checksEnabled {
		nBytes, _ := a.bytesFor(n)
		if _, requested, ok := a.pool.Extent(ptr); ok && requested != nBytes {
			a.pool.logger.Warn().
				Uint64("ptr", uint64(ptr)).
				Int("requested_bytes", requested).
				Int("deallocated_bytes", nBytes).
				Msg("deallocate count does not match allocation")
		}
	}
	a.pool.Deallocate(ptr)
}

// Slice views n elements at ptr as a []T. The pool must be host accessible.
func (a Allocator[T]) Slice(ptr Pointer, n int) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	if _, ok := a.bytesFor(n); !ok {
		return nil, ErrOutOfRange
	}
	var z T
	if uintptr(ptr)%unsafe.Alignof(z) != 0 {
		return nil, ErrMisaligned
	}
	b, err := a.pool.Bytes(ptr, n*a.ElementSize())
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return make([]T, n), nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n), nil
}

// Pool returns the shared pool.
func (a Allocator[T]) Pool() *Pool { return a.pool }

// Kind returns the backend kind of the shared pool.
func (a Allocator[T]) Kind() backend.Kind { return a.pool.Kind() }

// Equal reports whether other draws from the same pool. The element types
// may differ.
func (a Allocator[T]) Equal(other interface{ Pool() *Pool }) bool {
	return other != nil && a.pool == other.Pool()
}
