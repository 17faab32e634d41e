package backend

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Heap draws its buffer from the general process heap through an arrow
// allocator. Block size is chosen by the caller.
type Heap struct {
	alloc memory.Allocator
}

// NewHeap returns a heap backend. If alloc is nil the arrow Go allocator is
// used, which hands out 64-byte aligned slices.
func NewHeap(alloc memory.Allocator) *Heap {
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	return &Heap{alloc: alloc}
}

func (h *Heap) Kind() Kind { return KindHost }

func (h *Heap) BlockSize(requested int) (int, error) {
	return callerBlockSize(requested)
}

func (h *Heap) Acquire(size int) (Buffer, error) {
	if err := checkSize(size); err != nil {
		return Buffer{}, err
	}
	b := h.alloc.Allocate(size)
	return Buffer{
		Base: uintptr(unsafe.Pointer(&b[0])),
		Size: size,
		Host: b,
	}, nil
}

func (h *Heap) Release(buf Buffer) error {
	if buf.IsZero() {
		return nil
	}
	h.alloc.Free(buf.Host)
	return nil
}

var _ Backend = (*Heap)(nil)
