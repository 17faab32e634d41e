package memory

import "fmt"

// Extent is the opaque handle for one allocation: a run of Blocks consecutive
// blocks starting at Start.
type Extent struct {
	Start  int
	Blocks int
}

// End returns the index one past the last block of the run.
func (e Extent) End() int { return e.Start + e.Blocks }

// Engine searches, marks and records contiguous block runs on a Table. It
// never allocates memory itself; callers translate extents into addresses.
//
// Engine is not safe for concurrent use.
type Engine struct {
	table *Table
	// runs[i] is the length of the live run starting at block i, 0 if none.
	runs []int
	live int
	// lastTouched is the block most recently allocated or freed; searches
	// start there to stay near recently active regions.
	lastTouched int
}

// NewEngine returns an engine with every block of table free.
func NewEngine(table *Table) *Engine {
	return &Engine{
		table: table,
		runs:  make([]int, table.Len()),
	}
}

// Table returns the block table the engine manages.
func (e *Engine) Table() *Table { return e.table }

// Live returns the number of outstanding allocations.
func (e *Engine) Live() int { return e.live }

// LastTouched returns the search cursor.
func (e *Engine) LastTouched() int { return e.lastTouched }

// BlocksFor returns how many blocks a request of nBytes consumes.
func (e *Engine) BlocksFor(nBytes int) int {
	return NumBlocksFor(nBytes, e.table.blockSize)
}

// Allocate reserves the first run of free blocks long enough for nBytes,
// searching forward from the cursor and then wrapping once. It returns false
// when no contiguous run is long enough; free blocks elsewhere that do not
// form a run are never combined.
func (e *Engine) Allocate(nBytes int) (Extent, bool) {
	if nBytes <= 0 {
		return Extent{}, false
	}
	need := e.BlocksFor(nBytes)
	n := e.table.Len()
	if need > n {
		return Extent{}, false
	}

	start, ok := e.findRun(e.lastTouched, n, need)
	if !ok {
		// Runs that begin before the cursor end no later than
		// lastTouched+need-1, so the wrap never needs a full second pass.
		start, ok = e.findRun(0, min(e.lastTouched+need, n), need)
	}
	if !ok {
		return Extent{}, false
	}

	for i := start; i < start+need; i++ {
		e.table.markUsed(i)
	}
	e.lastTouched = start + need - 1
	e.runs[start] = need
	e.live++

	return Extent{Start: start, Blocks: need}, true
}

// findRun scans [from, to) for need consecutive free blocks.
func (e *Engine) findRun(from, to, need int) (int, bool) {
	used := e.table.used
	count := 0
	start := 0
	for i := from; i < to; i++ {
		if used[i] {
			count = 0
			continue
		}
		if count == 0 {
			start = i
		}
		count++
		if count == need {
			return start, true
		}
	}
	return 0, false
}

// Lookup returns the live extent starting at block start.
func (e *Engine) Lookup(start int) (Extent, bool) {
	if start < 0 || start >= len(e.runs) || e.runs[start] == 0 {
		return Extent{}, false
	}
	return Extent{Start: start, Blocks: e.runs[start]}, true
}

// Free releases the live run starting at block start. Unknown or already
// freed starts leave the table untouched and return false.
func (e *Engine) Free(start int) (Extent, bool) {
	ext, ok := e.Lookup(start)
	if !ok {
		return Extent{}, false
	}

	for i := ext.End() - 1; i >= ext.Start; i-- {
		e.table.markFree(i)
	}
	e.lastTouched = ext.Start
	e.runs[start] = 0
	e.live--

	return ext, true
}

// Extents returns every live allocation ordered by start block.
func (e *Engine) Extents() []Extent {
	out := make([]Extent, 0, e.live)
	for i, n := range e.runs {
		if n > 0 {
			out = append(out, Extent{Start: i, Blocks: n})
		}
	}
	return out
}

// Reset abandons every live allocation and frees all blocks.
func (e *Engine) Reset() {
	clear(e.runs)
	e.table.reset()
	e.live = 0
	e.lastTouched = 0
}

// verify cross-checks the run records against the used flags. Only called
// when checksEnabled.
func (e *Engine) verify() error {
	covered := make([]bool, e.table.Len())
	for _, ext := range e.Extents() {
		for i := ext.Start; i < ext.End(); i++ {
			if covered[i] {
				return fmt.Errorf("block %d belongs to two runs", i)
			}
			if !e.table.used[i] {
				return fmt.Errorf("block %d of run %v is free", i, ext)
			}
			covered[i] = true
		}
	}
	for i, u := range e.table.used {
		if u && !covered[i] {
			return fmt.Errorf("block %d is used but unrecorded", i)
		}
	}
	return nil
}
