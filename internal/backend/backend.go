// Package backend supplies and releases the raw buffers that block pools are
// carved from. A backend never does bookkeeping of its own; it only decides a
// block size and where the bytes come from.
package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidBlockSize = errors.New("backend: block size must be positive")
	ErrInvalidSize      = errors.New("backend: buffer size must be positive")
	ErrPinFailed        = errors.New("backend: failed to pin host memory")
	ErrDeviceAlloc      = errors.New("backend: device allocation failed")
	ErrUnsupported      = errors.New("backend: not supported on this platform")
	ErrNotHostMemory    = errors.New("backend: buffer is not host addressable")
)

// Kind identifies where a backend's memory physically lives.
type Kind uint8

const (
	KindHost Kind = iota
	KindAligned
	KindPinned
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "HOST"
	case KindAligned:
		return "ALIGNED"
	case KindPinned:
		return "PINNED"
	case KindDevice:
		return "DEVICE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// HostAccessible reports whether the process can address the memory directly.
func (k Kind) HostAccessible() bool {
	return k != KindDevice
}

// ParseKind maps a backend name (case-insensitive) to its Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "HOST":
		return KindHost, nil
	case "ALIGNED":
		return KindAligned, nil
	case "PINNED":
		return KindPinned, nil
	case "DEVICE":
		return KindDevice, nil
	}
	return 0, fmt.Errorf("unknown backend kind %q", s)
}

// Buffer is one contiguous raw region owned by a pool.
type Buffer struct {
	// Base is the address of the first byte in the backend's address space.
	Base uintptr
	// Size is the length of the region in bytes.
	Size int
	// Host views the region when it is host addressable, nil otherwise.
	Host []byte
}

// IsZero reports whether the buffer is empty or already released.
func (b Buffer) IsZero() bool {
	return b.Size == 0
}

// Backend is the capability a pool composes: pick a block size, obtain one
// contiguous buffer, give it back.
type Backend interface {
	Kind() Kind

	// BlockSize resolves the block size for a pool. Backends with a fixed
	// block size ignore requested.
	BlockSize(requested int) (int, error)

	// Acquire obtains one contiguous buffer of exactly size bytes.
	Acquire(size int) (Buffer, error)

	// Release returns a buffer obtained from Acquire. Releasing a zero Buffer
	// is a no-op.
	Release(buf Buffer) error
}

// Transferer is implemented by backends whose buffers are not host
// addressable and must be reached through explicit copies.
type Transferer interface {
	CopyIn(buf Buffer, off int, src []byte) error
	CopyOut(buf Buffer, off int, dst []byte) error
}

func callerBlockSize(requested int) (int, error) {
	if requested <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidBlockSize, requested)
	}
	return requested, nil
}

func checkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return nil
}
