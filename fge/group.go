package fge

import (
	"context"
	"errors"
	"sync"

	"helenraid.dev/hr/errs"
)

// Group reserves up to wuCount slots in the pool up front; if the pool
// can't spare that many, the remainder is allocated from the group's
// own overflow memory, freed when the group is destroyed (spec.md
// §4.1 group_create).
type Group struct {
	pool *Pool

	mu       sync.Mutex
	reserved [][]byte
	overflow [][]byte
	nalloc   int

	results   chan error
	submitted int
}

// NewGroup reserves up to wuCount slots in the pool.
func (p *Pool) NewGroup(wuCount int) *Group {
	g := &Group{pool: p, results: make(chan error, wuCount)}
	for i := 0; i < wuCount; i++ {
		if buf, ok := p.acquireSlot(); ok {
			g.reserved = append(g.reserved, buf)
		} else {
			g.overflow = append(g.overflow, make([]byte, p.slotSize))
		}
	}
	return g
}

// Alloc returns a scratch buffer drawn first from the reserved pool
// slots (so freeing the slot on Destroy returns capacity to the pool)
// then from group-owned overflow memory. A caller that allocates more
// times than the group's wuCount grows overflow rather than failing —
// the source never refuses group_alloc outright.
func (g *Group) Alloc() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nalloc < len(g.reserved) {
		buf := g.reserved[g.nalloc]
		g.nalloc++
		return buf
	}

	idx := g.nalloc - len(g.reserved)
	g.nalloc++
	if idx < len(g.overflow) {
		return g.overflow[idx]
	}

	buf := make([]byte, g.pool.slotSize)
	g.overflow = append(g.overflow, buf)
	return buf
}

// Result is what group_wait returns: pass/fail counts plus a terminal
// rc (spec.md §4.1).
type Result struct {
	OK   int
	Fail int
	// Err is nil (EOK), a RetryError (EAGAIN — restart the whole
	// group under newly observed state) or the first OutOfMemoryError
	// observed among the group's members.
	Err error
}

// Submit enqueues (fn, arg) on the pool ring. It blocks if the ring is
// full (backpressure). Call Wait once, after the last Submit; that one
// call collects a result from every submitted unit.
func (g *Group) Submit(ctx context.Context, fn WorkFunc, arg []byte) {
	g.mu.Lock()
	g.submitted++
	g.mu.Unlock()

	select {
	case g.pool.work <- workItem{fn: fn, arg: arg, result: g.results}:
	case <-ctx.Done():
		g.results <- ctx.Err()
	}
}

// Wait blocks until every submitted work unit has reported in. Workers
// that fail keep running — parity math would otherwise be corrupt —
// so Wait always drains exactly `submitted` results.
func (g *Group) Wait() Result {
	var res Result
	var firstOOM error
	var sawRetry bool

	for i := 0; i < g.submitted; i++ {
		err := <-g.results
		if err == nil {
			res.OK++
			continue
		}
		res.Fail++
		if errs.IsRetry(err) {
			sawRetry = true
		}
		var oom *errs.OutOfMemoryError
		if firstOOM == nil && errors.As(err, &oom) {
			firstOOM = err
		}
	}

	switch {
	case sawRetry:
		res.Err = errs.Retry("a group member requested retry")
	case firstOOM != nil:
		res.Err = firstOOM
	}
	return res
}

// Destroy returns reserved pool slots to the pool's free-list. Overflow
// memory is simply dropped for the garbage collector, matching the
// source's group-owned heap freed on group destruction.
func (g *Group) Destroy() {
	for _, buf := range g.reserved {
		g.pool.releaseSlot(buf)
	}
	g.reserved = nil
	g.overflow = nil
}
