package memory

import (
	"fmt"

	perrors "github.com/23skdu/blockpool/internal/errors"
)

// Pointer is an address in a pool's backend address space. For host backends
// it is a real process address; for device backends it is only meaningful to
// the device driver.
type Pointer uintptr

// Block describes one fixed-size slice of a pool's backing buffer.
type Block struct {
	Index int
	Base  Pointer
}

// Table is the block table: a fixed sequence of blocks carved from one buffer
// at a uniform stride, plus a used flag per block. Its length never changes
// after construction.
type Table struct {
	blockSize int
	blocks    []Block
	used      []bool
	usedCount int
}

// NumBlocksFor returns ceil(nBytes / blockSize) for positive inputs.
func NumBlocksFor(nBytes, blockSize int) int {
	return 1 + (nBytes-1)/blockSize
}

// NewTable sizes a table for capacityBytes split into blockSize blocks.
// Every block starts free and unbased until Carve is called.
func NewTable(capacityBytes, blockSize int) (*Table, error) {
	if blockSize <= 0 {
		return nil, perrors.NewValidationError("new_table", "block size must be positive").
			WithContext("block_size", blockSize)
	}
	if capacityBytes <= 0 {
		return nil, perrors.NewValidationError("new_table", "capacity must be positive").
			WithContext("capacity", capacityBytes)
	}

	n := NumBlocksFor(capacityBytes, blockSize)
	t := &Table{
		blockSize: blockSize,
		blocks:    make([]Block, n),
		used:      make([]bool, n),
	}
	for i := range t.blocks {
		t.blocks[i].Index = i
	}
	return t, nil
}

// Carve assigns block base addresses at a fixed stride from base.
func (t *Table) Carve(base Pointer) {
	for i := range t.blocks {
		t.blocks[i].Base = base + Pointer(i*t.blockSize)
	}
}

// Len returns the number of blocks.
func (t *Table) Len() int { return len(t.blocks) }

// BlockSize returns the size of each block in bytes.
func (t *Table) BlockSize() int { return t.blockSize }

// Capacity returns the number of bytes covered by the table.
func (t *Table) Capacity() int { return len(t.blocks) * t.blockSize }

// UsedCount returns the number of blocks currently marked used.
func (t *Table) UsedCount() int { return t.usedCount }

// Block returns the block at index i.
func (t *Table) Block(i int) Block { return t.blocks[i] }

// Base returns the address of block 0.
func (t *Table) Base() Pointer {
	if len(t.blocks) == 0 {
		return 0
	}
	return t.blocks[0].Base
}

// IsUsed reports whether block i is in use.
func (t *Table) IsUsed(i int) bool { return t.used[i] }

// IndexOf maps a block base address back to its index. Addresses inside a
// block, or outside the table, are not block identities and return false.
func (t *Table) IndexOf(addr Pointer) (int, bool) {
	base := t.Base()
	if addr < base {
		return 0, false
	}
	off := uintptr(addr - base)
	if off%uintptr(t.blockSize) != 0 {
		return 0, false
	}
	i := int(off / uintptr(t.blockSize))
	if i >= len(t.blocks) {
		return 0, false
	}
	return i, true
}

// markUsed flips block i from FREE to USED.
func (t *Table) markUsed(i int) {
	if checksEnabled && t.used[i] {
		panic(fmt.Sprintf("memory: block %d is already used", i))
	}
	t.used[i] = true
	t.usedCount++
}

// markFree flips block i from USED to FREE.
func (t *Table) markFree(i int) {
	if checksEnabled && !t.used[i] {
		panic(fmt.Sprintf("memory: block %d is already free", i))
	}
	t.used[i] = false
	t.usedCount--
}

// reset returns every block to FREE.
func (t *Table) reset() {
	clear(t.used)
	t.usedCount = 0
}
