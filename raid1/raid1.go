// Package raid1 implements the mirroring engine (spec.md §4.6): a
// read dispatcher with four selectable strategies, write fan-out with
// "at least one writer succeeds" semantics, and the rebuild fibril
// that streams a promoted hotspare back to ONLINE.
package raid1

import (
	"context"
	"sync"
	"sync/atomic"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

// ReadStrategy selects how the engine picks among ONLINE candidate
// extents for a read (spec.md §4.6).
type ReadStrategy int

const (
	RoundRobin ReadStrategy = iota
	ClosestToLastUsedOffset
	FirstOnline
	Split
)

// Engine drives one RAID-1 volume.
type Engine struct {
	V              *volume.Volume
	Strategy       ReadStrategy
	SplitThreshold int64 // blocks; requests at or above this split across extents

	rrMu   sync.Mutex
	rrNext int

	offsetMu    sync.Mutex
	lastOffsets map[int]int64

	rebuildMu      sync.Mutex
	rebuildRunning bool
}

func New(v *volume.Volume, strategy ReadStrategy, splitThreshold int64) *Engine {
	e := &Engine{V: v, Strategy: strategy, SplitThreshold: splitThreshold}
	v.Rebuilder = e
	return e
}

// onlineCandidates returns the indices of every ONLINE extent, the
// pool a read may choose from.
func (e *Engine) onlineCandidates() []int {
	var out []int
	for i, ext := range e.V.Extents() {
		if ext.State == model.ExtentOnline {
			out = append(out, i)
		}
	}
	return out
}

// writeTargets returns every ONLINE extent plus, if a rebuild is
// in progress and the write's range lies entirely behind the rebuild
// position, the REBUILD extent too (spec.md §4.6).
func (e *Engine) writeTargets(ba, cnt int64) []int {
	var out []int
	pos := e.V.RebuildPosition()
	for i, ext := range e.V.Extents() {
		switch ext.State {
		case model.ExtentOnline:
			out = append(out, i)
		case model.ExtentRebuild:
			if ba+cnt <= pos {
				out = append(out, i)
			}
		}
	}
	return out
}

// pick chooses one candidate extent index per the engine's strategy.
func (e *Engine) pick(candidates []int, ba int64) int {
	if len(candidates) == 0 {
		return -1
	}
	switch e.Strategy {
	case FirstOnline:
		return candidates[0]
	case ClosestToLastUsedOffset:
		e.offsetMu.Lock()
		defer e.offsetMu.Unlock()
		best := candidates[0]
		bestDist := abs64(e.lastOffsets[best] - ba)
		for _, c := range candidates[1:] {
			d := abs64(e.lastOffsets[c] - ba)
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		return best
	case Split:
		fallthrough
	case RoundRobin:
		e.rrMu.Lock()
		idx := e.rrNext % len(candidates)
		e.rrNext++
		e.rrMu.Unlock()
		return candidates[idx]
	default:
		return candidates[0]
	}
}

// recordOffset remembers where extent idx's head was left, for the
// ClosestToLastUsedOffset strategy's next decision.
func (e *Engine) recordOffset(idx int, ba, cnt int64) {
	e.offsetMu.Lock()
	if e.lastOffsets == nil {
		e.lastOffsets = make(map[int]int64)
	}
	e.lastOffsets[idx] = ba + cnt
	e.offsetMu.Unlock()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// errNoHealthyExtent is returned internally when every candidate has
// been exhausted; callers translate it to errs.IO.
var errNoHealthyExtent = errs.IO("raid1: no healthy extent answered", nil)
