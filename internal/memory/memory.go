// Package memory tracks device buffer allocations against a byte budget.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpusort/kernel"
)

// Budget errors.
var (
	// ErrBudgetExceeded is returned when a reservation would exceed the budget.
	// It wraps kernel.ErrBufferTooLarge so callers can classify it as resource
	// exhaustion.
	ErrBudgetExceeded = fmt.Errorf("memory: budget exceeded: %w", kernel.ErrBufferTooLarge)

	// ErrBudgetClosed is returned when reserving from a closed budget.
	ErrBudgetClosed = errors.New("memory: budget closed")
)

// Stats contains budget usage statistics.
type Stats struct {
	// TotalBytes is the budget in bytes. Zero means unlimited.
	TotalBytes uint64

	// UsedBytes is the currently reserved memory in bytes.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// Reservations is the number of live reservations.
	Reservations int

	// Rejected is the number of reservations refused for lack of budget.
	Rejected uint64
}

// Utilization returns the fraction of the budget in use (0.0 to 1.0).
// It is always 0 for an unlimited budget.
func (s Stats) Utilization() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes)
}

// String returns a human-readable string of budget stats.
func (s Stats) String() string {
	if s.TotalBytes == 0 {
		return fmt.Sprintf("Memory[%d KB used, unlimited, %d buffers, %d rejected]",
			s.UsedBytes/1024, s.Reservations, s.Rejected)
	}
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, %d buffers, %d rejected]",
		s.Utilization()*100,
		s.UsedBytes/1024,
		s.TotalBytes/1024,
		s.Reservations,
		s.Rejected)
}

// Budget tracks device memory reserved by live buffers. Buffers in use are
// never evicted: a reservation that does not fit fails immediately.
//
// Budget is safe for concurrent use.
type Budget struct {
	mu sync.Mutex

	limit    uint64
	used     uint64
	peak     uint64
	live     int
	rejected uint64
	closed   bool
}

// NewBudget creates a budget of limit bytes. A zero limit is unlimited.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Reservation is a block of budget held by one buffer.
type Reservation struct {
	budget *Budget
	size   uint64
	once   sync.Once
}

// Size returns the reserved byte count.
func (r *Reservation) Size() uint64 {
	return r.size
}

// Release returns the reservation to its budget. It is safe to call more
// than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.budget.release(r.size)
	})
}

// Reserve claims size bytes.
func (b *Budget) Reserve(size uint64) (*Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBudgetClosed
	}

	if b.limit > 0 && (size > b.limit || b.used > b.limit-size) {
		b.rejected++
		return nil, fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrBudgetExceeded, size, b.limit-b.used)
	}

	b.used += size
	b.live++
	if b.used > b.peak {
		b.peak = b.used
	}
	return &Reservation{budget: b, size: size}, nil
}

func (b *Budget) release(size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used -= size
	b.live--
}

// Stats returns current budget statistics.
func (b *Budget) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		TotalBytes:   b.limit,
		UsedBytes:    b.used,
		PeakBytes:    b.peak,
		Reservations: b.live,
		Rejected:     b.rejected,
	}
}

// Close refuses further reservations. Outstanding reservations may still
// be released.
func (b *Budget) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
