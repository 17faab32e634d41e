package gpu

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	// simulatedBase keeps device addresses far away from anything a host
	// allocation could plausibly return.
	simulatedBase  DevicePtr = 0x7d00_0000_0000
	simulatedAlign           = 256
	simulatedGuard           = 4096
)

type region struct {
	base DevicePtr
	mem  []byte
}

func (r *region) contains(p DevicePtr, n int) bool {
	return p >= r.base && uintptr(p-r.base)+uintptr(n) <= uintptr(len(r.mem))
}

// Simulated is a Device whose memory lives on the host heap but is only
// reachable through the copy primitives, the same way real device memory is.
type Simulated struct {
	mu      sync.Mutex
	id      int
	alloc   memory.Allocator
	limit   int64
	used    int64
	next    DevicePtr
	regions []*region
}

// NewSimulated creates a simulated device. If alloc is nil the arrow Go
// allocator provides the storage.
func NewSimulated(cfg Config, alloc memory.Allocator) *Simulated {
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	return &Simulated{
		id:    cfg.DeviceID,
		alloc: alloc,
		limit: cfg.MemoryLimit,
		next:  simulatedBase,
	}
}

func (s *Simulated) Name() string {
	return fmt.Sprintf("simulated:%d", s.id)
}

func (s *Simulated) Malloc(size int) (DevicePtr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("device malloc of %d bytes", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.used+int64(size) > s.limit {
		return 0, fmt.Errorf("%w: requested %d, in use %d, limit %d", ErrOutOfDeviceMemory, size, s.used, s.limit)
	}

	r := &region{base: s.next, mem: s.alloc.Allocate(size)}
	s.regions = append(s.regions, r)
	s.used += int64(size)

	span := (uintptr(size) + simulatedAlign - 1) &^ (simulatedAlign - 1)
	s.next += DevicePtr(span + simulatedGuard)
	return r.base, nil
}

func (s *Simulated) Free(ptr DevicePtr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.regions {
		if r.base != ptr {
			continue
		}
		s.used -= int64(len(r.mem))
		s.alloc.Free(r.mem)
		s.regions = append(s.regions[:i], s.regions[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %#x", ErrInvalidDevicePtr, uintptr(ptr))
}

func (s *Simulated) CopyFromHost(dst DevicePtr, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.find(dst, len(src))
	if err != nil {
		return err
	}
	copy(r.mem[dst-r.base:], src)
	return nil
}

func (s *Simulated) CopyToHost(dst []byte, src DevicePtr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.find(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, r.mem[src-r.base:])
	return nil
}

// Used returns the bytes currently allocated on the device.
func (s *Simulated) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.regions {
		s.alloc.Free(r.mem)
	}
	s.regions = nil
	s.used = 0
	return nil
}

func (s *Simulated) find(p DevicePtr, n int) (*region, error) {
	for _, r := range s.regions {
		if p >= r.base && uintptr(p-r.base) < uintptr(len(r.mem)) {
			if !r.contains(p, n) {
				return nil, fmt.Errorf("%w: %d bytes at %#x", ErrTransferOutOfBounds, n, uintptr(p))
			}
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x", ErrInvalidDevicePtr, uintptr(p))
}

var _ Device = (*Simulated)(nil)
