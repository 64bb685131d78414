// Package parallel provides the work-stealing goroutine pool behind the
// parallel host substrate.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines splitting index ranges into chunks.
//
// Each worker owns a queue and steals from the others when its own queue
// is empty, so uneven chunks (patches of different basis sizes) balance
// out.
//
// Thread safety: WorkerPool is safe for concurrent use. For must not be
// called from inside a chunk function.
type WorkerPool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.workQueues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *WorkerPool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// Chunks returns how many chunks For splits n items into for the given
// grain size.
func (p *WorkerPool) Chunks(n, grain int) int {
	if n <= 0 {
		return 0
	}
	grain = max(grain, 1)
	return min((n+grain-1)/grain, p.workers*4)
}

// For calls fn on disjoint ranges [lo, hi) covering [0, n) and waits for
// all of them. Ranges hold at least grain items. It returns the error of
// the lowest failing range. On a closed pool, or when there is a single
// chunk, fn runs on the calling goroutine.
func (p *WorkerPool) For(n, grain int, fn func(lo, hi int) error) error {
	chunks := p.Chunks(n, grain)
	if chunks == 0 {
		return nil
	}
	if chunks == 1 || !p.running.Load() {
		return fn(0, n)
	}

	errs := make([]error, chunks)
	var wg sync.WaitGroup
	wg.Add(chunks)

	size := (n + chunks - 1) / chunks
	for c := range chunks {
		lo, hi := c*size, min((c+1)*size, n)
		work := func() {
			defer wg.Done()
			if lo < hi {
				errs[c] = fn(lo, hi)
			}
		}
		select {
		case p.workQueues[c%p.workers] <- work:
		case <-p.done:
			work()
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops the workers after queued work completes. Close is safe to
// call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }
