package backend

import "fmt"

// Pinned maps pages and locks them in physical memory so they can be used
// as DMA staging buffers. A buffer that cannot be pinned is never handed out.
type Pinned struct{}

func NewPinned() *Pinned {
	return &Pinned{}
}

func (p *Pinned) Kind() Kind { return KindPinned }

func (p *Pinned) BlockSize(requested int) (int, error) {
	return callerBlockSize(requested)
}

func (p *Pinned) Acquire(size int) (Buffer, error) {
	if err := checkSize(size); err != nil {
		return Buffer{}, err
	}
	b, err := mapPages(size)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: map %d bytes: %v", ErrPinFailed, size, err)
	}
	if err := lockPages(b); err != nil {
		_ = unmapPages(b)
		return Buffer{}, fmt.Errorf("%w: lock %d bytes: %v", ErrPinFailed, size, err)
	}
	return hostBuffer(b), nil
}

func (p *Pinned) Release(buf Buffer) error {
	if buf.IsZero() {
		return nil
	}
	if err := unlockPages(buf.Host); err != nil {
		return fmt.Errorf("unlock pinned buffer: %w", err)
	}
	return unmapPages(buf.Host)
}

var _ Backend = (*Pinned)(nil)
