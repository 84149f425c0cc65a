package spider

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/value"
)

// FilterMode is the predicate applied by a next search.
type FilterMode uint8

const (
	Greater FilterMode = iota
	GreaterEq
	Less
	LessEq
	Equal
	NotEqual
	// Changed keeps results whose value differs from the one seen by the
	// previous search.
	Changed
	// Unchanged keeps results whose value is the one seen by the previous
	// search.
	Unchanged
)

var filterModeNames = [...]string{
	Greater:   "Greater",
	GreaterEq: "Greater or Equal",
	Less:      "Less",
	LessEq:    "Less or Equal",
	Equal:     "Equal",
	NotEqual:  "Not equal",
	Changed:   "Changed",
	Unchanged: "Unchanged",
}

// FilterModes returns all filter modes.
func FilterModes() []FilterMode {
	return []FilterMode{Greater, GreaterEq, Less, LessEq, Equal, NotEqual, Changed, Unchanged}
}

func (m FilterMode) String() string {
	if int(m) < len(filterModeNames) {
		return filterModeNames[m]
	}
	return fmt.Sprintf("FilterMode(%d)", m)
}

// NeedsValue reports whether m compares against a caller supplied value.
// Changed and Unchanged compare against the previous value instead.
func (m FilterMode) NeedsValue() bool {
	return m != Changed && m != Unchanged
}

// ParseFilterMode parses the operator or the short name of a filter mode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt", "greater":
		return Greater, nil
	case ">=", "ge", "greatereq":
		return GreaterEq, nil
	case "<", "lt", "less":
		return Less, nil
	case "<=", "le", "lesseq":
		return LessEq, nil
	case "==", "=", "eq", "equal":
		return Equal, nil
	case "!=", "ne", "notequal":
		return NotEqual, nil
	case "changed", "ch":
		return Changed, nil
	case "unchanged", "un":
		return Unchanged, nil
	}
	return 0, fmt.Errorf("unknown filter %q", s)
}

func keep[T value.Number](m FilterMode, current, cmp, last T) bool {
	switch m {
	case Greater:
		return current > cmp
	case GreaterEq:
		return current >= cmp
	case Less:
		return current < cmp
	case LessEq:
		return current <= cmp
	case Equal:
		return current == cmp
	case NotEqual:
		return current != cmp
	case Changed:
		return current != last
	case Unchanged:
		return current == last
	}
	panic(fmt.Sprintf("unknown filter mode %d", m))
}

// readAddr reads a pointer at addr. Unreadable memory reads as zero.
func readAddr(mem procmem.MemoryReader, addr uint64) uint64 {
	buf, _ := procmem.ReadUint64(mem, addr)
	return binary.NativeEndian.Uint64(buf[:])
}

// Current replays r from base and returns the value found at the end of
// the chain: every offset of the path is dereferenced, then the slot at
// Offset is dereferenced once more and the value is read at the address
// it holds. Reads are best effort, unreadable memory reads as zero.
func (r *Result[T]) Current(mem procmem.MemoryReader, base uint64) T {
	addr := base
	for _, off := range r.Path.offsets {
		addr = readAddr(mem, addr+off)
	}
	addr = readAddr(mem, addr+r.Offset)
	buf, _ := procmem.ReadUint64(mem, addr)
	return value.DecodeAs[T](buf)
}

// Evaluate reads the current value of r, stores it as r.Last and reports
// whether r satisfies mode. cmp is ignored by Changed and Unchanged, which
// compare against the previous r.Last.
func (r *Result[T]) Evaluate(mem procmem.MemoryReader, base uint64, mode FilterMode, cmp T) bool {
	current := r.Current(mem, base)
	ok := keep(mode, current, cmp, r.Last)
	r.Last = current
	return ok
}

// refineChunk is the smallest number of results evaluated by a goroutine.
const refineChunk = 512

// Refine evaluates every result against mode and returns the ones that
// remain, in their original order. The backing array of results is
// reused. Results are split in disjoint chunks evaluated concurrently by
// up to workers goroutines, each result is only touched by one of them.
func Refine[T value.Number](mem procmem.MemoryReader, results []Result[T], base uint64, mode FilterMode, cmp T, workers int) []Result[T] {
	if len(results) == 0 {
		return results
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(results) + workers - 1) / workers
	if chunk < refineChunk {
		chunk = refineChunk
	}

	verdicts := make([]bool, len(results))
	var g errgroup.Group
	for lo := 0; lo < len(results); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(results))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				verdicts[i] = results[i].Evaluate(mem, base, mode, cmp)
			}
			return nil
		})
	}
	g.Wait()

	n := 0
	for i := range results {
		if verdicts[i] {
			results[n] = results[i]
			n++
		}
	}
	clear(results[n:])
	return results[:n]
}
