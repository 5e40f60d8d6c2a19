// Package rangelock implements the per-volume range-lock table
// (spec.md §4.2): short-lived [start, length) reservations that
// serialize a client write or a rebuild step against any overlapping
// write or rebuild step on the same volume.
//
// The source implementation blocks a waiter by incrementing the
// overlapper's pending count and locking its mutex, then hands the
// mutex off to the next waiter one at a time. This package gets the
// same observable contract — mutual exclusion on overlap, and the
// "ignored" flag's liveness guarantee — from a broadcast close of a
// done channel instead of a mutex relay chain; that's the idiomatic Go
// shape for "wake every waiter queued on this release" and avoids
// hand-rolling mutex hand-off on top of sync.Mutex, which doesn't
// expose the primitives needed to pass ownership to a specific waiter.
package rangelock

import (
	"context"
	"sync"
)

// Lock is a single active reservation. Start and Length are in block
// units within the volume's data address space (post data_offset
// translation).
type Lock struct {
	Start, Length int64

	mu      sync.Mutex
	ignored bool
	done    chan struct{}
}

func (l *Lock) overlaps(start, length int64) bool {
	return start < l.Start+l.Length && l.Start < start+length
}

// Table is the per-volume list of active range locks, guarded by a
// short, non-yielding mutex (spec.md §5 lock #5 in the acquisition
// order).
type Table struct {
	mu    sync.Mutex
	locks []*Lock
}

func New() *Table {
	return &Table{}
}

// Acquire blocks until [start, start+length) does not overlap any
// active, non-ignored lock, then registers and returns a handle. The
// rescan-from-the-beginning after each wakeup is required: while this
// call was blocked, other ranges may have started overlapping it.
func (t *Table) Acquire(ctx context.Context, start, length int64) (*Lock, error) {
	for {
		t.mu.Lock()
		var overlap *Lock
		for _, l := range t.locks {
			l.mu.Lock()
			ig := l.ignored
			l.mu.Unlock()
			if ig {
				continue
			}
			if l.overlaps(start, length) {
				overlap = l
				break
			}
		}
		if overlap == nil {
			me := &Lock{Start: start, Length: length, done: make(chan struct{})}
			t.locks = append(t.locks, me)
			t.mu.Unlock()
			return me, nil
		}
		t.mu.Unlock()

		select {
		case <-overlap.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// Mark it ignored so no new waiter sleeps on an entry that's
		// already been released; it only still serves waiters that
		// queued on it before the release.
		overlap.mu.Lock()
		overlap.ignored = true
		overlap.mu.Unlock()
		// loop: rescan from the beginning
	}
}

// Release unlinks handle and wakes every acquirer blocked on it.
func (t *Table) Release(handle *Lock) {
	t.mu.Lock()
	for i, l := range t.locks {
		if l == handle {
			t.locks = append(t.locks[:i], t.locks[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	close(handle.done)
}

// Active returns a snapshot of currently active lock ranges, used by
// tests asserting on contention.
func (t *Table) Active() []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Lock, len(t.locks))
	for i, l := range t.locks {
		out[i] = Lock{Start: l.Start, Length: l.Length}
	}
	return out
}
