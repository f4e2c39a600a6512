package engine

import "sync/atomic"

// Clock is a monotonic logical clock.
//
// The engine keeps two: one stamps emitted changes with a sequence number,
// the other issues resolution and recomputation tokens. A completion carrying
// a token is applied only when that token is still the latest one issued for
// its field or scope; wall-clock time never decides ordering.
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
// Used to continue a change log that was persisted earlier.
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
