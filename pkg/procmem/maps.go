package procmem

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Region describes a mapping of the target address space, as listed in
// /proc/<pid>/maps.
type Region struct {
	Addr uint64
	Size uint64

	Read, Write, Exec bool

	Filename string
	Offset   uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Addr + r.Size
}

// Contains reports whether addr is inside r.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.End()
}

func (r Region) String() string {
	perm := []byte("---")
	if r.Read {
		perm[0] = 'r'
	}
	if r.Write {
		perm[1] = 'w'
	}
	if r.Exec {
		perm[2] = 'x'
	}
	return fmt.Sprintf("%#x-%#x %s %s", r.Addr, r.End(), perm, r.Filename)
}

// parseMaps parses the contents of /proc/<pid>/maps.
func parseMaps(buf string) ([]Region, error) {
	lines := strings.Split(buf, "\n")
	r := make([]Region, 0, len(lines))
	for i, line := range lines {
		if line == "" {
			continue
		}
		start, end, perm, offset, dev, filename, err := parseMapsLine(i+1, line)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(dev, "00:") {
			offset = 0
		}
		r = append(r, Region{
			Addr: start,
			Size: end - start,

			Read:  perm[0] == 'r',
			Write: perm[1] == 'w',
			Exec:  perm[2] == 'x',

			Filename: filename,
			Offset:   offset,
		})
	}
	return r, nil
}

func parseMapsLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.Fields(in)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	if end < start {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (end before start)", lineno, in)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	if len(fields) > 5 {
		filename = strings.Join(fields[5:], " ")
	}
	return
}

const (
	pageShift        = 12
	defaultPageCache = 4096
)

// regionIndex answers CanRead queries over a snapshot of the readable
// regions of a process. Answers are memoized per page.
type regionIndex struct {
	regions []Region
	pages   *lru.Cache
}

func newRegionIndex(regions []Region, cacheSize int) (*regionIndex, error) {
	if cacheSize <= 0 {
		cacheSize = defaultPageCache
	}
	pages, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	readable := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Read && r.Size > 0 {
			readable = append(readable, r)
		}
	}
	sort.Slice(readable, func(i, j int) bool { return readable[i].Addr < readable[j].Addr })
	return &regionIndex{regions: readable, pages: pages}, nil
}

func (ix *regionIndex) find(addr uint64) (Region, bool) {
	i := sort.Search(len(ix.regions), func(i int) bool { return ix.regions[i].End() > addr })
	if i < len(ix.regions) && ix.regions[i].Contains(addr) {
		return ix.regions[i], true
	}
	return Region{}, false
}

func (ix *regionIndex) canRead(addr uint64) bool {
	page := addr >> pageShift
	if v, ok := ix.pages.Get(page); ok {
		return v.(bool)
	}
	_, ok := ix.find(addr)
	ix.pages.Add(page, ok)
	return ok
}
