package procmem

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory address space made of disjoint byte regions. It
// is used by tests and by the terminal's demo target.
type Fake struct {
	mu      sync.RWMutex
	regions []fakeRegion
}

type fakeRegion struct {
	addr uint64
	data []byte
}

var _ Memory = (*Fake)(nil)

// NewFake returns an empty address space.
func NewFake() *Fake {
	return &Fake{}
}

// Map adds a readable and writable region of size bytes at addr.
func (f *Fake) Map(addr uint64, size int) {
	f.MapBytes(addr, make([]byte, size))
}

// MapBytes adds a region at addr backed by a copy of data.
func (f *Fake) MapBytes(addr uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.regions {
		if addr < r.addr+uint64(len(r.data)) && r.addr < addr+uint64(len(data)) {
			panic(fmt.Sprintf("fake region %#x+%#x overlaps %#x+%#x", addr, len(data), r.addr, len(r.data)))
		}
	}
	f.regions = append(f.regions, fakeRegion{addr: addr, data: append([]byte(nil), data...)})
	sort.Slice(f.regions, func(i, j int) bool { return f.regions[i].addr < f.regions[j].addr })
}

// Regions returns the mapped regions, sorted by address.
func (f *Fake) Regions() []Region {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r := make([]Region, len(f.regions))
	for i := range f.regions {
		r[i] = Region{Addr: f.regions[i].addr, Size: uint64(len(f.regions[i].data)), Read: true, Write: true}
	}
	return r
}

// slice returns the bytes backing [addr, addr+size), if they are all
// inside one region.
func (f *Fake) slice(addr uint64, size int) ([]byte, bool) {
	i := sort.Search(len(f.regions), func(i int) bool {
		return f.regions[i].addr+uint64(len(f.regions[i].data)) > addr
	})
	if i == len(f.regions) || f.regions[i].addr > addr {
		return nil, false
	}
	off := addr - f.regions[i].addr
	if off+uint64(size) > uint64(len(f.regions[i].data)) {
		return nil, false
	}
	return f.regions[i].data[off : off+uint64(size)], true
}

func (f *Fake) ReadMemory(buf []byte, addr uint64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src, ok := f.slice(addr, len(buf))
	if !ok {
		return 0, fmt.Errorf("read of %d bytes at %#x: %w", len(buf), addr, ErrAddressNotMapped)
	}
	return copy(buf, src), nil
}

func (f *Fake) WriteMemory(addr uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst, ok := f.slice(addr, len(data))
	if !ok {
		return 0, fmt.Errorf("write of %d bytes at %#x: %w", len(data), addr, ErrAddressNotMapped)
	}
	return copy(dst, data), nil
}

func (f *Fake) CanRead(addr uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.slice(addr, 1)
	return ok
}

// PutUint64 stores v at addr in host byte order. It panics if addr is not
// mapped, fixtures are expected to be laid out correctly.
func (f *Fake) PutUint64(addr, v uint64) {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	if _, err := f.WriteMemory(addr, buf[:]); err != nil {
		panic(err)
	}
}

// Put stores data at addr, panicking if addr is not mapped.
func (f *Fake) Put(addr uint64, data []byte) {
	if _, err := f.WriteMemory(addr, data); err != nil {
		panic(err)
	}
}
