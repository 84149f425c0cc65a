package spider

import (
	"context"
	"encoding/binary"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/structspider/spider/pkg/logflags"
	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/value"
)

// ScanState is the state of a Scanner as seen by Poll.
type ScanState uint8

const (
	// Idle means no scan was started since the last Finished report.
	Idle ScanState = iota
	// InProgress means a scan is running.
	InProgress
	// Finished means the scan has completed; it is reported exactly once.
	Finished
)

func (s ScanState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in progress"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Stats counts the work done by a scan.
type Stats struct {
	// Structures is the number of windows probed, one per level visited.
	Structures int64
	// Probes is the number of slots read.
	Probes int64
	// FailedReads is the number of slots that could not be read.
	FailedReads int64
}

// Report is returned by Scanner.Poll.
type Report[T value.Number] struct {
	State ScanState
	// ID identifies the scan in log messages.
	ID string
	// Elapsed is the time between Begin and the completion of the scan.
	// It is only set for Finished reports.
	Elapsed time.Duration
	// Results are sorted by ascending path length. Only set for Finished
	// reports.
	Results []Result[T]
	Stats   Stats
}

// Scanner runs first searches for values of type T.
//
// A scan can not be cancelled: once begun it runs until every reachable
// structure has been probed. Callers that lose interest can only discard
// the report. Poll must only be called by one goroutine at a time.
type Scanner[T value.Number] struct {
	mem     procmem.Memory
	workers int
	log     logflags.Logger

	mu  sync.Mutex
	cur *scan[T]
}

// NewScanner returns a Scanner reading mem with the given number of
// worker goroutines. A non-positive workers uses GOMAXPROCS.
func NewScanner[T value.Number](mem procmem.Memory, workers int) *Scanner[T] {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner[T]{mem: mem, workers: workers, log: logflags.SpiderLogger()}
}

type scan[T value.Number] struct {
	id    string
	mem   procmem.Memory
	pool  *pool
	start time.Time
	end   time.Time

	mu      sync.Mutex
	results []Result[T]

	structures, probes, failedReads atomic.Int64
}

// Begin starts a first search described by opts. It returns immediately,
// the progress of the scan is observed through Poll or Wait.
func (s *Scanner[T]) Begin(opts Options[T]) error {
	if err := opts.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return ErrScanInProgress
	}

	sc := &scan[T]{id: xid.New().String(), mem: s.mem, start: time.Now()}
	sc.pool = newPool(s.workers, func() { sc.end = time.Now() })
	s.cur = sc

	if logflags.Spider() {
		s.log.WithField("scan", sc.id).Debugf("first search: base=%#x align=%d size=%#x depth=%d value=%v (%s)",
			opts.Base, opts.Alignment, opts.StructSize, opts.Depth, value.Of(opts.Target), value.KindOf[T]())
	}

	sc.pool.submit(func() { sc.level(opts) })
	return nil
}

// Active reports whether a scan was begun and its Finished report has not
// been taken yet.
func (s *Scanner[T]) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Poll reports the state of the scanner without blocking. When the scan
// has completed the report carries its results and the scanner goes back
// to Idle.
func (s *Scanner[T]) Poll() Report[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.cur
	if sc == nil {
		return Report[T]{State: Idle}
	}
	select {
	case <-sc.pool.done:
	default:
		return Report[T]{State: InProgress, ID: sc.id, Stats: sc.stats()}
	}

	s.cur = nil
	sc.mu.Lock()
	results := sc.results
	sc.results = nil
	sc.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Path.Len() < results[j].Path.Len()
	})

	r := Report[T]{
		State:   Finished,
		ID:      sc.id,
		Elapsed: sc.end.Sub(sc.start),
		Results: results,
		Stats:   sc.stats(),
	}
	if logflags.Spider() {
		s.log.WithField("scan", sc.id).Debugf("finished in %v: %d results, %d structures, %d probes, %d failed reads",
			r.Elapsed, len(results), r.Stats.Structures, r.Stats.Probes, r.Stats.FailedReads)
	}
	return r
}

// Wait blocks until the current scan completes and returns its Finished
// report. If ctx ends first Wait returns ctx.Err() and the scan keeps
// running.
func (s *Scanner[T]) Wait(ctx context.Context) (Report[T], error) {
	s.mu.Lock()
	sc := s.cur
	s.mu.Unlock()
	if sc == nil {
		return Report[T]{State: Idle}, nil
	}
	select {
	case <-sc.pool.done:
		return s.Poll(), nil
	case <-ctx.Done():
		return Report[T]{State: InProgress, ID: sc.id, Stats: sc.stats()}, ctx.Err()
	}
}

func (sc *scan[T]) stats() Stats {
	return Stats{
		Structures:  sc.structures.Load(),
		Probes:      sc.probes.Load(),
		FailedReads: sc.failedReads.Load(),
	}
}

// level probes the window of one structure. Pointers to readable memory
// found on 8-byte aligned slots are queued as sub-scans one level deeper.
// The window of a sub-scan is cut at the top of the address space.
func (sc *scan[T]) level(opts Options[T]) {
	start, size, _ := opts.window()

	n := size / opts.Alignment
	if size%opts.Alignment != 0 {
		n++
	}

	var found []Result[T]
	var probes, failed int64
	for i := uint64(0); i < n; i++ {
		off := i * opts.Alignment
		addr := start + off
		probes++
		buf, err := procmem.ReadUint64(sc.mem, addr)
		if err != nil {
			failed++
			continue
		}

		if opts.Depth > 0 && addr%8 == 0 {
			if ptr := binary.NativeEndian.Uint64(buf[:]); sc.mem.CanRead(ptr) {
				child := opts.child(ptr, off)
				sc.pool.submit(func() { sc.level(child) })
			}
		}

		if v := value.DecodeAs[T](buf); v == opts.Target {
			found = append(found, Result[T]{Path: opts.Path, Offset: off, Last: v})
		}
	}

	sc.structures.Add(1)
	sc.probes.Add(probes)
	sc.failedReads.Add(failed)
	if len(found) > 0 {
		sc.mu.Lock()
		sc.results = append(sc.results, found...)
		sc.mu.Unlock()
	}
}
