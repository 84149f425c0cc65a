package spider

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// pool runs units of work on a fixed number of goroutines. A unit may
// submit more units. The pool is done once every unit submitted, directly
// or by another unit, has returned; done is closed after the worker
// goroutines have exited.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	// pending counts units submitted but not yet returned. It is
	// incremented before a unit is queued, so it can not drop to zero
	// while the parent of a queued unit is still running.
	pending atomic.Int64

	group  errgroup.Group
	onIdle func()
	done   chan struct{}
}

func newPool(workers int, onIdle func()) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{onIdle: onIdle, done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.group.Go(p.worker)
	}
	return p
}

func (p *pool) submit(fn func()) {
	p.pending.Add(1)
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *pool) worker() error {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		// Last in, first out: depth first keeps the queue short.
		n := len(p.queue) - 1
		fn := p.queue[n]
		p.queue[n] = nil
		p.queue = p.queue[:n]
		p.mu.Unlock()

		fn()

		if p.pending.Add(-1) == 0 {
			p.finish()
		}
	}
}

func (p *pool) finish() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	go func() {
		p.group.Wait()
		if p.onIdle != nil {
			p.onIdle()
		}
		close(p.done)
	}()
}
