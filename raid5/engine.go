package raid5

import (
	"context"
	"sync"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/pkg/set"
	"helenraid.dev/hr/volume"
)

// Engine drives one RAID-4/5 volume.
type Engine struct {
	V *volume.Volume

	rebuildMu      sync.Mutex
	rebuildRunning bool
}

func New(v *volume.Volume) *Engine {
	e := &Engine{V: v}
	v.Rebuilder = e
	return e
}

func (e *Engine) n() int            { return e.V.ExtentCount() }
func (e *Engine) stripBlocks() int64 { return e.V.StripSize / e.V.BlockSize }

// badExtentIndex returns the index of the one non-ONLINE extent, or
// -1 if every extent is ONLINE. RAID-4/5 volumes in this engine only
// ever attempt I/O while OPTIMAL or DEGRADED (FAULTY refuses at
// CheckRange), so there is at most one.
func badExtentIndex(v *volume.Volume) int {
	for i, ext := range v.Extents() {
		if ext.State != model.ExtentOnline {
			return i
		}
	}
	return -1
}

// extentContribution reads extent idx's contribution to a plan's
// parity union range: new buffer bytes for the sub-span this write
// touches (if any), and the old on-disk bytes for the rest of the
// union (spec.md §4.7's subtract/reconstruct parity math). idx is only
// ever called here for an extent the plan's skip set believes is
// healthy, so any failure — a state that already moved out from under
// us, or a fresh ReadAt error — is new information the caller didn't
// plan against; both are reported as errs.Retry so the stripe gets
// replanned under the now-current extent state (spec.md §4.7, §8.5)
// instead of surfacing EIO for a transient single-fault flap.
func (e *Engine) extentContribution(ctx context.Context, idx int, p *Plan, buf []byte) ([]byte, error) {
	bs := e.V.BlockSize
	width := p.UnionEnd - p.UnionStart
	contrib := make([]byte, width*bs)

	span, touched := p.Touched[idx]
	ext := e.V.Extent(idx)

	for _, r := range gapRanges(p.UnionStart, p.UnionEnd, span, touched) {
		if ext.Device == nil || ext.State != model.ExtentOnline {
			return nil, errs.Retry("raid5: extent unavailable for parity read")
		}
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + r[0]
		sub := contrib[(r[0]-p.UnionStart)*bs : (r[1]-p.UnionStart)*bs]
		if err := ext.Device.ReadAt(ctx, blkno, sub); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return nil, errs.Retry("raid5: parity read: " + err.Error())
		}
	}
	if touched {
		off := (span.StripOff - p.UnionStart) * bs
		copy(contrib[off:off+span.Count*bs], buf[span.BufOff*bs:(span.BufOff+span.Count)*bs])
	}
	return contrib, nil
}

// readUnionRange reads extent idx's on-disk bytes for a plan's parity
// union range, unmodified — the reconstruct-read path's building
// block, as opposed to extentContribution's write-side blend of new
// and old bytes. Failures map to errs.Retry for the same reason as
// extentContribution: idx was believed healthy when the plan was built.
func (e *Engine) readUnionRange(ctx context.Context, idx int, p *Plan) ([]byte, error) {
	bs := e.V.BlockSize
	width := p.UnionEnd - p.UnionStart
	out := make([]byte, width*bs)
	ext := e.V.Extent(idx)
	if ext.Device == nil || ext.State != model.ExtentOnline {
		return nil, errs.Retry("raid5: extent unavailable for reconstruct read")
	}
	blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + p.UnionStart
	if err := ext.Device.ReadAt(ctx, blkno, out); err != nil {
		e.V.OnExtentError(ctx, idx, err)
		return nil, errs.Retry("raid5: reconstruct read: " + err.Error())
	}
	return out, nil
}

// gatherReconstructRange XORs every extent not in skip's on-disk
// union-range bytes together, run in parallel through the volume's
// fibril pool when one is attached (spec.md §4.1). group.Wait's Result
// takes priority over the first member error seen: it is the one place
// that knows whether ANY member hit a fresh failure, so it is what
// decides whether the caller sees errs.Retry.
func (e *Engine) gatherReconstructRange(ctx context.Context, p *Plan, skip set.Set[int]) ([]byte, error) {
	bs := e.V.BlockSize
	width := p.UnionEnd - p.UnionStart
	acc := make([]byte, width*bs)

	var targets []int
	for idx := 0; idx < e.n(); idx++ {
		if !skip.Contains(idx) {
			targets = append(targets, idx)
		}
	}

	if e.V.Pool == nil {
		for _, idx := range targets {
			b, err := e.readUnionRange(ctx, idx, p)
			if err != nil {
				return nil, err
			}
			xorInto(acc, b)
		}
		return acc, nil
	}

	group := e.V.Pool.NewGroup(len(targets))
	defer group.Destroy()

	var mu sync.Mutex
	var firstErr error
	for _, idx := range targets {
		idx := idx
		group.Submit(ctx, func(ctx context.Context, _ []byte) error {
			b, err := e.readUnionRange(ctx, idx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return err
			}
			xorInto(acc, b)
			return nil
		}, group.Alloc())
	}
	if res := group.Wait(); res.Err != nil {
		return nil, res.Err
	} else if firstErr != nil {
		return nil, firstErr
	}
	return acc, nil
}

// gatherContributions collects every extent's contribution to the
// parity union range in parallel through the volume's fibril pool
// (spec.md §4.1 group_submit/group_wait), XORing them together as
// they land. extents named in skip are excluded entirely (the bad
// extent, and/or the parity extent itself). As in gatherReconstructRange,
// group.Wait's Result.Err — not the first member error observed — is
// what decides whether the caller sees errs.Retry.
func (e *Engine) gatherContributions(ctx context.Context, p *Plan, buf []byte, skip set.Set[int]) ([]byte, error) {
	bs := e.V.BlockSize
	width := p.UnionEnd - p.UnionStart
	parityBuf := make([]byte, width*bs)

	var targets []int
	for idx := 0; idx < e.n(); idx++ {
		if skip.Contains(idx) {
			continue
		}
		targets = append(targets, idx)
	}
	if len(targets) == 0 {
		return parityBuf, nil
	}

	if e.V.Pool == nil {
		for _, idx := range targets {
			c, err := e.extentContribution(ctx, idx, p, buf)
			if err != nil {
				return nil, err
			}
			xorInto(parityBuf, c)
		}
		return parityBuf, nil
	}

	group := e.V.Pool.NewGroup(len(targets))
	defer group.Destroy()

	var mu sync.Mutex
	var firstErr error
	for _, idx := range targets {
		idx := idx
		group.Submit(ctx, func(ctx context.Context, _ []byte) error {
			c, err := e.extentContribution(ctx, idx, p, buf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return err
			}
			xorInto(parityBuf, c)
			return nil
		}, group.Alloc())
	}
	if res := group.Wait(); res.Err != nil {
		return nil, res.Err
	} else if firstErr != nil {
		return nil, firstErr
	}
	return parityBuf, nil
}
