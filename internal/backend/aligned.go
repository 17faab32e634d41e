package backend

import "fmt"

// Aligned maps whole pages from the operating system, so every block starts
// on a page boundary. Its block size is always the OS page size.
type Aligned struct {
	pageSize int
}

func NewAligned() *Aligned {
	return &Aligned{pageSize: PageSize()}
}

func (a *Aligned) Kind() Kind { return KindAligned }

func (a *Aligned) BlockSize(int) (int, error) {
	if a.pageSize <= 0 {
		return 0, fmt.Errorf("%w: page size %d", ErrInvalidBlockSize, a.pageSize)
	}
	return a.pageSize, nil
}

func (a *Aligned) Acquire(size int) (Buffer, error) {
	if err := checkSize(size); err != nil {
		return Buffer{}, err
	}
	b, err := mapPages(size)
	if err != nil {
		return Buffer{}, fmt.Errorf("map %d bytes: %w", size, err)
	}
	return hostBuffer(b), nil
}

func (a *Aligned) Release(buf Buffer) error {
	if buf.IsZero() {
		return nil
	}
	return unmapPages(buf.Host)
}

var _ Backend = (*Aligned)(nil)
