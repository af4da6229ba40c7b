package parallel

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when work is submitted to a closed pool.
var ErrPoolClosed = errors.New("parallel: worker pool is closed")

// WorkerPool is a pool of goroutines that runs the groups of a dispatch.
//
// The pool distributes work items across multiple workers, each with their own
// queue. Workers can steal work from other workers when their own queue is empty.
// This helps balance load when some groups finish earlier than others.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// workQueues holds per-worker work queues.
	// Each worker primarily pulls from its own queue but can steal from others.
	workQueues []chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool

	// next rotates the first worker of each batch.
	next atomic.Uint32
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

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

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]

	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return

		case work := <-myQueue:
			work()

		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			// No work available anywhere, block on own queue
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				work()
			}
		}
	}
}

// drainQueue executes all remaining work in a queue.
func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

// steal attempts to take work from another worker's queue.
// Returns nil if no work is available.
func (p *WorkerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
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

// Batch tracks a set of work items submitted together.
type Batch struct {
	wg      sync.WaitGroup
	pending atomic.Int64
}

// Wait blocks until every item of the batch has run.
func (b *Batch) Wait() {
	b.wg.Wait()
}

// Done reports whether every item of the batch has run.
func (b *Batch) Done() bool {
	return b.pending.Load() == 0
}

// Pending returns the number of items that have not finished yet.
func (b *Batch) Pending() int {
	return int(b.pending.Load())
}

func (b *Batch) finish() {
	b.pending.Add(-1)
	b.wg.Done()
}

func (b *Batch) abandon(n int) {
	for range n {
		b.finish()
	}
}

// Start distributes work across workers and returns without waiting.
// The returned Batch reports completion. Items are queued round-robin,
// starting at a rotating worker so that small batches spread out.
//
// Start may block while worker queues are full. If the pool is closed
// before all items are queued, the unqueued items are marked finished
// without running and ErrPoolClosed is returned. Callers must not Close
// the pool while one of their own batches is still being queued.
func (p *WorkerPool) Start(work []func()) (*Batch, error) {
	b := &Batch{}
	if !p.running.Load() {
		return b, ErrPoolClosed
	}
	if len(work) == 0 {
		return b, nil
	}

	b.wg.Add(len(work))
	b.pending.Store(int64(len(work)))

	first := int(p.next.Add(1)) % p.workers
	for i, fn := range work {
		wrapped := func() {
			defer b.finish()
			fn()
		}

		select {
		case <-p.done:
			b.abandon(len(work) - i)
			return b, ErrPoolClosed
		default:
		}

		select {
		case p.workQueues[(first+i)%p.workers] <- wrapped:
		case <-p.done:
			b.abandon(len(work) - i)
			return b, ErrPoolClosed
		}
	}
	return b, nil
}

// Close gracefully shuts down the pool.
// It stops accepting new work, waits for all queued work to complete,
// and then stops all workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// QueuedWork returns the total number of work items currently queued.
// This is an approximation as queues can change while iterating.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}
