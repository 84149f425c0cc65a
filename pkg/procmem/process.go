package procmem

import (
	"fmt"
	"sync/atomic"

	"github.com/structspider/spider/pkg/logflags"
)

// Process is a live process opened for memory access.
type Process struct {
	pid       int
	cacheSize int
	index     atomic.Pointer[regionIndex]
	log       logflags.Logger
}

var _ Memory = (*Process)(nil)

// Open opens the process with the given pid and loads its memory map.
// pageCache is the number of pages whose readability is memoized, zero
// selects a default.
func Open(pid int, pageCache int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	p := &Process{pid: pid, cacheSize: pageCache, log: logflags.ProcmemLogger().WithField("pid", pid)}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.pid
}

// Refresh reloads the memory map of the process. Scans that are running
// keep using the map they started with until their next CanRead call.
func (p *Process) Refresh() error {
	regions, err := readMaps(p.pid)
	if err != nil {
		return fmt.Errorf("could not read memory map of %d: %w", p.pid, err)
	}
	ix, err := newRegionIndex(regions, p.cacheSize)
	if err != nil {
		return err
	}
	p.index.Store(ix)
	if logflags.Procmem() {
		p.log.Debugf("loaded %d readable regions out of %d", len(ix.regions), len(regions))
	}
	return nil
}

// Regions returns the readable regions of the process, sorted by address.
func (p *Process) Regions() []Region {
	ix := p.index.Load()
	r := make([]Region, len(ix.regions))
	copy(r, ix.regions)
	return r
}

// CanRead reports whether addr belongs to a readable mapping.
func (p *Process) CanRead(addr uint64) bool {
	return p.index.Load().canRead(addr)
}

// ReadMemory reads len(buf) bytes at addr.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := processVMRead(p.pid, uintptr(addr), buf)
	if err == nil && n < len(buf) {
		err = fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(buf))
	}
	return n, err
}

// WriteMemory writes data at addr.
func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return processVMWrite(p.pid, uintptr(addr), data)
}
