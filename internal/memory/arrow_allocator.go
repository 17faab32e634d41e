package memory

import (
	"unsafe"

	"github.com/23skdu/blockpool/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowAllocator lets arrow builders and buffers allocate from a host
// accessible pool. Requests the pool cannot serve, because it is exhausted or
// not host accessible, go to a fallback allocator instead.
//
// Arrow expects allocators to be safe for concurrent use. Every pool call goes
// through the Locked wrapper, the same lock the registry hands out, so arrow
// and direct callers of one pool are serialized together.
type ArrowAllocator struct {
	pool     *Locked
	fallback memory.Allocator
}

// NewArrowAllocator wraps pool. If fallback is nil, memory.DefaultAllocator is used.
func NewArrowAllocator(pool *Locked, fallback memory.Allocator) *ArrowAllocator {
	if fallback == nil {
		fallback = memory.DefaultAllocator
	}
	return &ArrowAllocator{pool: pool, fallback: fallback}
}

func (a *ArrowAllocator) Allocate(size int) []byte {
	if size > 0 && a.pool.Kind().HostAccessible() {
		var b []byte
		err := a.pool.Do(func(p *Pool) error {
			var err error
			b, err = allocateBytes(p, size)
			return err
		})
		if err == nil {
			return b
		}
	}
	metrics.ArrowFallbackAllocationsTotal.WithLabelValues(a.pool.Name()).Inc()
	return a.fallback.Allocate(size)
}

func allocateBytes(p *Pool, size int) ([]byte, error) {
	ptr, err := p.Allocate(size)
	if err != nil {
		return nil, err
	}
	b, err := p.Bytes(ptr, size)
	if err != nil {
		p.Deallocate(ptr)
		return nil, err
	}
	clear(b)
	return b, nil
}

func (a *ArrowAllocator) Reallocate(size int, b []byte) []byte {
	if size <= cap(b) && a.owns(b) {
		return b[:size]
	}
	out := a.Allocate(size)
	copy(out, b)
	a.Free(b)
	return out
}

func (a *ArrowAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	owned := false
	_ = a.pool.Do(func(p *Pool) error {
		if owned = p.Contains(addrOf(b)); owned {
			p.Deallocate(addrOf(b))
		}
		return nil
	})
	if !owned {
		a.fallback.Free(b)
	}
}

// Allocated reports the bytes the pool currently holds for arrow.
func (a *ArrowAllocator) Allocated() int64 {
	return a.pool.Stats().OutstandingBytes
}

func addrOf(b []byte) Pointer {
	return Pointer(unsafe.Pointer(unsafe.SliceData(b)))
}

func (a *ArrowAllocator) owns(b []byte) bool {
	if cap(b) == 0 {
		return false
	}
	owned := false
	_ = a.pool.Do(func(p *Pool) error {
		owned = p.Contains(addrOf(b))
		return nil
	})
	return owned
}

var _ memory.Allocator = (*ArrowAllocator)(nil)
