// Package util holds small shared helpers.
package util

import "sync/atomic"

// Counter hands out strictly monotone, unique uint64 identifiers starting at
// a caller-provided seed. Safe for concurrent use.
type Counter struct {
	next atomic.Uint64
}

// NewCounter returns a counter whose first Next() call yields seed.
func NewCounter(seed uint64) *Counter {
	c := &Counter{}
	c.next.Store(seed)
	return c
}

// Next returns the next identifier.
func (c *Counter) Next() uint64 {
	return c.next.Add(1) - 1
}
