package memory

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	propBlocks    = 16
	propBlockSize = 64
)

// hasFreeRun reports whether any need consecutive blocks are free.
func hasFreeRun(t *Table, need int) bool {
	count := 0
	for i := 0; i < t.Len(); i++ {
		if t.IsUsed(i) {
			count = 0
			continue
		}
		count++
		if count >= need {
			return true
		}
	}
	return false
}

// runOps interprets ops as a workload: positive values allocate that many
// bytes, other values free one live extent chosen by magnitude. check is
// called after every step and stops the run on false.
func runOps(e *Engine, ops []int, check func(op int, ext Extent, ok bool) bool) bool {
	var live []Extent
	for _, op := range ops {
		if op > 0 {
			ext, ok := e.Allocate(op)
			if ok {
				live = append(live, ext)
			}
			if !check(op, ext, ok) {
				return false
			}
			continue
		}
		if len(live) == 0 {
			continue
		}
		i := -op % len(live)
		ext, ok := e.Free(live[i].Start)
		live = append(live[:i], live[i+1:]...)
		if !check(op, ext, ok) {
			return false
		}
	}
	return true
}

func newPropEngine() *Engine {
	tbl, _ := NewTable(propBlocks*propBlockSize, propBlockSize)
	tbl.Carve(0x4000)
	return NewEngine(tbl)
}

func opsGen() gopter.Gen {
	return gen.SliceOf(gen.IntRange(-propBlocks, propBlocks*propBlockSize/2))
}

func TestEngineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("used runs never overlap", prop.ForAll(
		func(ops []int) bool {
			e := newPropEngine()
			return runOps(e, ops, func(int, Extent, bool) bool {
				return e.verify() == nil
			})
		},
		opsGen(),
	))

	properties.Property("runs are contiguous and long enough", prop.ForAll(
		func(ops []int) bool {
			e := newPropEngine()
			return runOps(e, ops, func(op int, ext Extent, ok bool) bool {
				if op <= 0 || !ok {
					return true
				}
				if ext.Blocks*propBlockSize < op || ext.Blocks != NumBlocksFor(op, propBlockSize) {
					return false
				}
				for i := ext.Start; i < ext.End(); i++ {
					if !e.table.IsUsed(i) {
						return false
					}
				}
				return true
			})
		},
		opsGen(),
	))

	properties.Property("allocation succeeds iff a free run exists", prop.ForAll(
		func(ops []int, n int) bool {
			e := newPropEngine()
			runOps(e, ops, func(int, Extent, bool) bool { return true })

			want := hasFreeRun(e.table, NumBlocksFor(n, propBlockSize))
			_, ok := e.Allocate(n)
			return ok == want
		},
		opsGen(),
		gen.IntRange(1, propBlocks*propBlockSize),
	))

	properties.Property("allocate then free restores occupancy", prop.ForAll(
		func(ops []int, n int) bool {
			e := newPropEngine()
			runOps(e, ops, func(int, Extent, bool) bool { return true })

			before := usedSet(e)
			ext, ok := e.Allocate(n)
			if !ok {
				return true
			}
			if _, ok := e.Free(ext.Start); !ok {
				return false
			}
			after := usedSet(e)
			if len(before) != len(after) {
				return false
			}
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			again, ok := e.Allocate(n)
			return ok && again == ext
		},
		opsGen(),
		gen.IntRange(1, propBlocks*propBlockSize),
	))

	properties.Property("invalid free leaves the table unchanged", prop.ForAll(
		func(ops []int, start int) bool {
			e := newPropEngine()
			runOps(e, ops, func(int, Extent, bool) bool { return true })

			if _, live := e.Lookup(start); live {
				return true
			}
			before := usedSet(e)
			cursor := e.LastTouched()
			if _, ok := e.Free(start); ok {
				return false
			}
			after := usedSet(e)
			if len(before) != len(after) || cursor != e.LastTouched() {
				return false
			}
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			return true
		},
		opsGen(),
		gen.IntRange(-4, propBlocks+4),
	))

	properties.TestingRun(t)
}
