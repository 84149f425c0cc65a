// Package spider searches the memory of a process for chains of pointers
// that lead to a value, and narrows the chains found down by re-reading
// them as the process runs.
//
// A first search starts at a base address and probes a window of
// StructSize bytes every Alignment bytes. Each probed slot is compared
// against the target value, and every pointer-aligned slot holding a
// readable address is followed, one level deeper, until Depth levels have
// been visited. Every match is recorded as a Result: the offsets of the
// pointers followed (its Path) plus the offset of the matching slot.
//
// Later searches replay those paths from a base address and keep only the
// results whose current value satisfies a FilterMode.
package spider

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/structspider/spider/pkg/value"
)

var (
	// ErrScanInProgress is returned when an operation needs the scanner
	// to be idle.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrInvalidOptions is returned by Begin for options that can not
	// describe a scan.
	ErrInvalidOptions = errors.New("invalid scan options")
)

// Path is an immutable sequence of byte offsets, outermost first, one per
// pointer followed. Paths are shared by every result found in the same
// structure and by the sub-scans started from it, so they must never be
// modified in place.
type Path struct {
	offsets []uint64
}

// NewPath returns a path with a copy of offsets.
func NewPath(offsets ...uint64) Path {
	if len(offsets) == 0 {
		return Path{}
	}
	return Path{offsets: append([]uint64(nil), offsets...)}
}

// Len returns the number of pointer hops in p.
func (p Path) Len() int {
	return len(p.offsets)
}

// At returns the i-th offset.
func (p Path) At(i int) uint64 {
	return p.offsets[i]
}

// Offsets returns a copy of the offsets in p.
func (p Path) Offsets() []uint64 {
	return append([]uint64(nil), p.offsets...)
}

// With returns a new path made of p followed by off.
func (p Path) With(off uint64) Path {
	o := make([]uint64, len(p.offsets)+1)
	copy(o, p.offsets)
	o[len(p.offsets)] = off
	return Path{offsets: o}
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, off := range p.offsets {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%#x", off)
	}
	b.WriteByte(']')
	return b.String()
}

// Options describes one level of a first search.
type Options[T value.Number] struct {
	// Base is the address of the structure. The probed window starts at
	// Base rounded up to Alignment.
	Base uint64
	// Alignment is the distance between probed offsets.
	Alignment uint64
	// StructSize is the number of bytes probed.
	StructSize uint64
	// Depth is the number of pointer levels still allowed below this
	// one. At zero the window is probed but no pointer is followed.
	Depth int
	// Target is the value searched for.
	Target T
	// Path leads from the root structure to this one.
	Path Path
}

func (o Options[T]) validate() error {
	if o.Alignment == 0 {
		return fmt.Errorf("%w: alignment must be at least 1", ErrInvalidOptions)
	}
	if o.Depth < 0 {
		return fmt.Errorf("%w: negative depth %d", ErrInvalidOptions, o.Depth)
	}
	if _, _, ok := o.window(); !ok {
		return fmt.Errorf("%w: window of %#x bytes at %#x exceeds the address space", ErrInvalidOptions, o.StructSize, o.Base)
	}
	return nil
}

// window returns the aligned start of the probed window and its size. When
// the window does not fit below the top of the address space ok is false
// and size is clamped to what fits.
func (o Options[T]) window() (start, size uint64, ok bool) {
	if o.Base > math.MaxUint64-(o.Alignment-1) {
		return 0, 0, false
	}
	start = alignUp(o.Base, o.Alignment)
	size = o.StructSize
	if size > 0 && size-1 > math.MaxUint64-start {
		return start, math.MaxUint64 - start + 1, false
	}
	return start, size, true
}

// child returns the options of the structure pointed to by the slot at
// offset off.
func (o Options[T]) child(base, off uint64) Options[T] {
	c := o
	c.Base = base
	c.Depth--
	c.Path = o.Path.With(off)
	return c
}

func alignUp(addr, alignment uint64) uint64 {
	if rem := addr % alignment; rem != 0 {
		addr += alignment - rem
	}
	return addr
}

// Result is a pointer chain ending in a slot that held the searched
// value.
type Result[T value.Number] struct {
	// Path holds the offsets of the pointers followed from the base.
	Path Path
	// Offset is the offset of the slot in the last structure.
	Offset uint64
	// Last is the value seen by the most recent search.
	Last T
}

func (r Result[T]) String() string {
	return fmt.Sprintf("%v+%#x = %v", r.Path, r.Offset, value.Of(r.Last))
}
