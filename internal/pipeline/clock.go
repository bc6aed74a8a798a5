package pipeline

import "sync/atomic"

// Clock numbers compilations in the order they start. The compilation log
// sorts by it, so two runs over the same inputs list identically.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes numbering after start, e.g. from the last sequence
// number in an existing log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

func (c *Clock) Current() int64 {
	return c.seq.Load()
}
