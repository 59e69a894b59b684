package recorder

import "sync/atomic"

// Clock is the monotonic logical clock for ledger ordering.
//
// Every history entry and execution is stamped with a strictly increasing
// seq from this clock. Wall-clock timestamps are informational only; two
// entries written in the same nanosecond still order deterministically.
//
// Seqs are unique but not dense: a write that loses a compare-and-swap
// consumes a seq without persisting it.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume after a restart from the ledger's highest seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
