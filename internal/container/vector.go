// Package container holds generic containers that draw their storage from a
// block pool through memory.Allocator.
package container

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/23skdu/blockpool/internal/memory"
)

// ErrIndexOutOfRange is returned by At and Set for indexes outside [0, Len).
var ErrIndexOutOfRange = errors.New("container: index out of range")

// Vector is a growable array of T whose elements live in pool memory. It
// works on every backend: element access goes through the pool's copy
// primitives, so device pools are supported without a host view.
//
// Vector is not safe for concurrent use.
type Vector[T any] struct {
	alloc memory.Allocator[T]
	ptr   memory.Pointer
	len   int
	cap   int
}

// NewVector returns an empty vector allocating from a.
func NewVector[T any](a memory.Allocator[T]) *Vector[T] {
	return &Vector[T]{alloc: a}
}

func (v *Vector[T]) Len() int                       { return v.len }
func (v *Vector[T]) Cap() int                       { return v.cap }
func (v *Vector[T]) Ptr() memory.Pointer            { return v.ptr }
func (v *Vector[T]) Allocator() memory.Allocator[T] { return v.alloc }

// Reserve grows the backing run to hold at least n elements. Existing
// elements are moved to the new run.
func (v *Vector[T]) Reserve(n int) error {
	if n <= v.cap {
		return nil
	}
	ptr, err := v.alloc.Allocate(n)
	if err != nil {
		return fmt.Errorf("reserve %d elements: %w", n, err)
	}

	if v.cap > 0 {
		if size := v.len * v.alloc.ElementSize(); size > 0 {
			pool := v.alloc.Pool()
			tmp := make([]byte, size)
			if err := pool.CopyOut(v.ptr, tmp); err != nil {
				v.alloc.Deallocate(ptr, n)
				return err
			}
			if err := pool.CopyIn(ptr, tmp); err != nil {
				v.alloc.Deallocate(ptr, n)
				return err
			}
		}
		v.alloc.Deallocate(v.ptr, v.cap)
	}

	v.ptr = ptr
	v.cap = n
	return nil
}

// Append adds x at the end, doubling capacity when full.
func (v *Vector[T]) Append(x T) error {
	if v.len == v.cap {
		if err := v.Reserve(max(2*v.cap, 1)); err != nil {
			return err
		}
	}
	if err := v.store(v.len, x); err != nil {
		return err
	}
	v.len++
	return nil
}

// At returns element i.
func (v *Vector[T]) At(i int) (T, error) {
	var x T
	if i < 0 || i >= v.len {
		return x, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, v.len)
	}
	if b := elemBytes(&x); len(b) > 0 {
		if err := v.alloc.Pool().CopyOut(v.addr(i), b); err != nil {
			return x, err
		}
	}
	return x, nil
}

// Set overwrites element i.
func (v *Vector[T]) Set(i int, x T) error {
	if i < 0 || i >= v.len {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, v.len)
	}
	return v.store(i, x)
}

// Slice views the elements in place. Only host accessible pools can be viewed.
func (v *Vector[T]) Slice() ([]T, error) {
	return v.alloc.Slice(v.ptr, v.len)
}

// Free returns the backing run to the pool and empties the vector.
func (v *Vector[T]) Free() {
	if v.cap > 0 {
		v.alloc.Deallocate(v.ptr, v.cap)
	}
	v.ptr, v.len, v.cap = 0, 0, 0
}

func (v *Vector[T]) store(i int, x T) error {
	b := elemBytes(&x)
	if len(b) == 0 {
		return nil
	}
	return v.alloc.Pool().CopyIn(v.addr(i), b)
}

func (v *Vector[T]) addr(i int) memory.Pointer {
	return v.ptr + memory.Pointer(i*v.alloc.ElementSize())
}

func elemBytes[T any](x *T) []byte {
	n := int(unsafe.Sizeof(*x))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(x)), n)
}
