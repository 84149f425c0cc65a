package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/structspider/spider/pkg/logflags"
	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/value"
)

var (
	// ErrNotEmpty is returned by First when the session already holds
	// results.
	ErrNotEmpty = errors.New("session already holds results, clear them first")
	// ErrNoResults is returned by operations that need results.
	ErrNoResults = errors.New("no results, run a first search")
)

// Params are the scan parameters of a first search.
type Params struct {
	MaxDepth   int
	StructSize uint64
	Alignment  uint64
}

// DefaultParams returns the parameters used when nothing is configured:
// the root structure and the structures its slots point to.
func DefaultParams(k value.Kind) Params {
	return Params{MaxDepth: 1, StructSize: 256, Alignment: uint64(k.Size())}
}

// SessionState is the state of a Session.
type SessionState uint8

const (
	Empty SessionState = iota
	Scanning
	Populated
)

func (s SessionState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Scanning:
		return "scanning"
	case Populated:
		return "populated"
	}
	return "unknown"
}

// Progress is returned by Session.Poll and Session.Wait.
type Progress struct {
	State SessionState
	// Finished is set by the call that observed the end of the scan.
	Finished bool
	ScanID   string
	Stats    Stats
	// Elapsed is the duration of the last completed scan.
	Elapsed time.Duration
	Results int
}

// Refinement describes the outcome of Session.Next.
type Refinement struct {
	Mode    FilterMode
	Before  int
	After   int
	Elapsed time.Duration
}

// Row is a kind-erased view of a result.
type Row struct {
	Path   Path
	Offset uint64
	Last   value.Value
}

// Session drives the first search and the following next searches for
// values of one kind. It is safe for concurrent use.
type Session struct {
	kind value.Kind
	e    engine
}

type engine interface {
	first(p Params, base uint64, text string) error
	poll() Progress
	wait(ctx context.Context) (Progress, error)
	next(mode FilterMode, base uint64, text string) (Refinement, error)
	clear() error
	state() SessionState
	rows() []Row
	row(i int) Row
	len() int
	current(i int, base uint64) value.Value
}

// NewSession returns an empty session searching mem for values of kind k.
// A non-positive workers uses GOMAXPROCS.
func NewSession(mem procmem.Memory, k value.Kind, workers int) *Session {
	var e engine
	switch k {
	case value.I8:
		e = newTypedSession[int8](mem, workers)
	case value.I16:
		e = newTypedSession[int16](mem, workers)
	case value.I32:
		e = newTypedSession[int32](mem, workers)
	case value.I64:
		e = newTypedSession[int64](mem, workers)
	case value.U8:
		e = newTypedSession[uint8](mem, workers)
	case value.U16:
		e = newTypedSession[uint16](mem, workers)
	case value.U32:
		e = newTypedSession[uint32](mem, workers)
	case value.U64:
		e = newTypedSession[uint64](mem, workers)
	case value.F32:
		e = newTypedSession[float32](mem, workers)
	case value.F64:
		e = newTypedSession[float64](mem, workers)
	default:
		panic(fmt.Sprintf("unknown kind %d", k))
	}
	return &Session{kind: k, e: e}
}

// Kind returns the kind of values searched by s.
func (s *Session) Kind() value.Kind { return s.kind }

// State returns the current state. A finished scan is only noticed by
// Poll or Wait.
func (s *Session) State() SessionState { return s.e.state() }

// First parses text as the session kind and starts a first search from
// base. It fails with ErrScanInProgress while scanning and ErrNotEmpty
// when results are held.
func (s *Session) First(p Params, base uint64, text string) error {
	return s.e.first(p, base, text)
}

// Poll reports the progress of the session without blocking, adopting the
// results of a finished scan. A scan that found nothing leaves the session
// Empty.
func (s *Session) Poll() Progress { return s.e.poll() }

// Wait blocks until the running scan finishes or ctx ends. The scan keeps
// running when ctx ends first.
func (s *Session) Wait(ctx context.Context) (Progress, error) { return s.e.wait(ctx) }

// Next refines the held results with mode, replaying them from base. text
// is the comparison value; it is ignored by Changed and Unchanged. When no
// result survives the session goes back to Empty.
func (s *Session) Next(mode FilterMode, base uint64, text string) (Refinement, error) {
	return s.e.next(mode, base, text)
}

// Clear drops the held results.
func (s *Session) Clear() error { return s.e.clear() }

// Len returns the number of held results.
func (s *Session) Len() int { return s.e.len() }

// Rows returns a snapshot of the held results.
func (s *Session) Rows() []Row { return s.e.rows() }

// Row returns the i-th held result.
func (s *Session) Row(i int) Row { return s.e.row(i) }

// Current reads the live value of the i-th result, replayed from base.
func (s *Session) Current(i int, base uint64) value.Value { return s.e.current(i, base) }

type typedSession[T value.Number] struct {
	mem     procmem.Memory
	workers int
	scanner *Scanner[T]
	log     logflags.Logger

	mu      sync.Mutex
	st      SessionState
	results []Result[T]
	last    Progress
}

func newTypedSession[T value.Number](mem procmem.Memory, workers int) *typedSession[T] {
	ts := &typedSession[T]{
		mem:     mem,
		workers: workers,
		scanner: NewScanner[T](mem, workers),
		log:     logflags.SpiderLogger(),
	}
	return ts
}

func (ts *typedSession[T]) state() SessionState {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.st
}

func (ts *typedSession[T]) first(p Params, base uint64, text string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	switch ts.st {
	case Scanning:
		return ErrScanInProgress
	case Populated:
		return ErrNotEmpty
	}
	target, err := value.ParseAs[T](text)
	if err != nil {
		return err
	}
	err = ts.scanner.Begin(Options[T]{
		Base:       base,
		Alignment:  p.Alignment,
		StructSize: p.StructSize,
		Depth:      p.MaxDepth,
		Target:     target,
	})
	if err != nil {
		return err
	}
	ts.st = Scanning
	ts.last = Progress{State: Scanning}
	return nil
}

// adopt records a scanner report. Must be called with the lock held.
func (ts *typedSession[T]) adopt(r Report[T]) Progress {
	if ts.st != Scanning {
		return ts.snapshot()
	}
	switch r.State {
	case InProgress:
		return Progress{State: Scanning, ScanID: r.ID, Stats: r.Stats}
	case Finished:
		ts.results = r.Results
		ts.st = Populated
		if len(ts.results) == 0 {
			ts.st = Empty
		}
		ts.last = Progress{ScanID: r.ID, Stats: r.Stats, Elapsed: r.Elapsed}
		p := ts.snapshot()
		p.Finished = true
		return p
	}
	return ts.snapshot()
}

func (ts *typedSession[T]) snapshot() Progress {
	p := ts.last
	p.State = ts.st
	p.Results = len(ts.results)
	return p
}

func (ts *typedSession[T]) poll() Progress {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.st != Scanning {
		return ts.snapshot()
	}
	return ts.adopt(ts.scanner.Poll())
}

func (ts *typedSession[T]) wait(ctx context.Context) (Progress, error) {
	if ts.state() != Scanning {
		return ts.poll(), nil
	}
	r, err := ts.scanner.Wait(ctx)
	if err != nil {
		return Progress{State: Scanning, ScanID: r.ID, Stats: r.Stats}, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if r.State == Idle {
		// Another caller took the report.
		return ts.snapshot(), nil
	}
	return ts.adopt(r), nil
}

func (ts *typedSession[T]) next(mode FilterMode, base uint64, text string) (Refinement, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	switch ts.st {
	case Scanning:
		return Refinement{}, ErrScanInProgress
	case Empty:
		return Refinement{}, ErrNoResults
	}

	var cmp T
	if mode.NeedsValue() {
		var err error
		if cmp, err = value.ParseAs[T](text); err != nil {
			return Refinement{}, err
		}
	}

	start := time.Now()
	r := Refinement{Mode: mode, Before: len(ts.results)}
	ts.results = Refine(ts.mem, ts.results, base, mode, cmp, ts.workers)
	r.After = len(ts.results)
	r.Elapsed = time.Since(start)
	if r.After == 0 {
		ts.results = nil
		ts.st = Empty
	}

	if logflags.Spider() {
		ts.log.WithFields(logflags.Fields{"mode": mode, "base": fmt.Sprintf("%#x", base)}).
			Debugf("next search kept %d of %d results in %v", r.After, r.Before, r.Elapsed)
	}
	return r, nil
}

func (ts *typedSession[T]) clear() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	switch ts.st {
	case Scanning:
		return ErrScanInProgress
	case Empty:
		return ErrNoResults
	}
	ts.results = nil
	ts.st = Empty
	return nil
}

func (ts *typedSession[T]) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.results)
}

func toRow[T value.Number](r *Result[T]) Row {
	return Row{Path: r.Path, Offset: r.Offset, Last: value.Of(r.Last)}
}

func (ts *typedSession[T]) rows() []Row {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	rows := make([]Row, len(ts.results))
	for i := range ts.results {
		rows[i] = toRow(&ts.results[i])
	}
	return rows
}

func (ts *typedSession[T]) row(i int) Row {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return toRow(&ts.results[i])
}

func (ts *typedSession[T]) current(i int, base uint64) value.Value {
	ts.mu.Lock()
	r := ts.results[i]
	ts.mu.Unlock()
	return value.Of(r.Current(ts.mem, base))
}
