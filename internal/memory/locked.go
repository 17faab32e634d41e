package memory

import (
	"sync"

	"github.com/23skdu/blockpool/internal/backend"
	"github.com/RoaringBitmap/roaring/v2"
)

// Locked serializes access to a Pool shared between goroutines. The pool
// itself stays lock free; Locked is the caller-side mutex.
type Locked struct {
	mu   sync.Mutex
	pool *Pool
}

func NewLocked(p *Pool) *Locked {
	return &Locked{pool: p}
}

// Name and Kind never change after construction and need no lock.
func (l *Locked) Name() string       { return l.pool.Name() }
func (l *Locked) Kind() backend.Kind { return l.pool.Kind() }

func (l *Locked) Allocate(nBytes int) (Pointer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Allocate(nBytes)
}

func (l *Locked) Deallocate(ptr Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.Deallocate(ptr)
}

func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Stats()
}

func (l *Locked) Occupancy() *roaring.Bitmap {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Occupancy()
}

// Pool returns the wrapped pool, for example to build an Allocator from a
// registry handle. Calls on the returned pool bypass the lock; callers must
// serialize them with every other user of l, typically by only touching the
// pool inside Do.
func (l *Locked) Pool() *Pool { return l.pool }

// Do runs fn with exclusive access to the pool. fn must not use the pool after
// it returns unless the caller serializes that use some other way.
func (l *Locked) Do(fn func(*Pool) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.pool)
}

func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Close()
}
