package memory

import "errors"

var (
	// ErrExhausted means no contiguous run of free blocks is long enough.
	// It is not fatal: the caller may free memory and retry, or fall back.
	ErrExhausted = errors.New("memory: no contiguous free run large enough")

	ErrInvalidSize       = errors.New("memory: allocation size must be positive")
	ErrClosed            = errors.New("memory: pool is closed")
	ErrNotHostAccessible = errors.New("memory: pool memory is not host accessible")
	ErrOutOfRange        = errors.New("memory: address range outside the pool")
)

// ErrMisaligned is returned when a typed view would place elements at an
// address not aligned for the element type.
var ErrMisaligned = errors.New("memory: address is misaligned for element type")
