package sim

import "sync"

// groupBarrier is a reusable barrier for the lanes of one group. Every
// lane must call Wait once per step; the last arrival releases the rest.
type groupBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	waiting int
	phase   uint64
}

func newGroupBarrier(n int) *groupBarrier {
	b := &groupBarrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all n lanes have called Wait for the current phase.
func (b *groupBarrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	phase := b.phase
	b.waiting++
	if b.waiting == b.n {
		b.waiting = 0
		b.phase++
		b.cond.Broadcast()
		return
	}
	for phase == b.phase {
		b.cond.Wait()
	}
}
