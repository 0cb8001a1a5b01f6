package engine

import "sync/atomic"

// Clock is the monotonic logical clock stamping commit-log entries.
//
// Entries are ordered by seq alone; wall-clock time never participates.
// This keeps replay exact: rebuilding a store from a persisted log
// reproduces the identical sequence regardless of when it runs.
//
// Safe for concurrent use, although commits are serialised through the
// frozen store's single commit point anyway.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when resuming from a checkpointed log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
