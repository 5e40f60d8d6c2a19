package raid1

import (
	"context"

	"golang.org/x/sync/errgroup"

	"helenraid.dev/hr/errs"
)

// ReadBlocks implements the block-device read contract (spec.md §6,
// §4.6). On a read failure the engine advances to the next candidate
// extent; only if every candidate fails does it surface an I/O error.
func (e *Engine) ReadBlocks(ctx context.Context, ba, cnt int64, buf []byte) error {
	if err := e.V.CheckRange(ba, cnt); err != nil {
		return err
	}

	if e.Strategy == Split && cnt >= e.SplitThreshold {
		return e.readSplit(ctx, ba, cnt, buf)
	}
	return e.readSingle(ctx, ba, cnt, buf)
}

// readSingle serves the whole request from one extent, advancing
// through candidates on failure.
func (e *Engine) readSingle(ctx context.Context, ba, cnt int64, buf []byte) error {
	candidates := e.onlineCandidates()
	if len(candidates) == 0 {
		return errNoHealthyExtent
	}

	first := e.pick(candidates, ba)
	ordered := rotate(candidates, first)

	var lastErr error
	for _, idx := range ordered {
		ext := e.V.Extent(idx)
		if ext.Device == nil {
			continue
		}
		err := ext.Device.ReadAt(ctx, e.V.DataOffset+ba, buf[:cnt*e.V.BlockSize])
		if err == nil {
			e.recordOffset(idx, ba, cnt)
			return nil
		}
		e.V.OnExtentError(ctx, idx, err)
		lastErr = err
	}
	return errs.IO("raid1 read: all candidates failed", lastErr)
}

// readSplit divides [ba, ba+cnt) across the candidate extents and
// reads the pieces in parallel (spec.md §4.6's split strategy).
func (e *Engine) readSplit(ctx context.Context, ba, cnt int64, buf []byte) error {
	candidates := e.onlineCandidates()
	if len(candidates) == 0 {
		return errNoHealthyExtent
	}

	n := int64(len(candidates))
	if n > cnt {
		n = cnt
	}
	chunk := cnt / n
	bs := e.V.BlockSize

	g, gctx := errgroup.WithContext(ctx)
	cur := ba
	for i := int64(0); i < n; i++ {
		take := chunk
		if i == n-1 {
			take = cnt - (cur - ba)
		}
		idx := candidates[i]
		start := cur
		sub := buf[(start-ba)*bs : (start-ba+take)*bs]
		g.Go(func() error {
			ext := e.V.Extent(idx)
			if ext.Device == nil {
				return errNoHealthyExtent
			}
			if err := ext.Device.ReadAt(gctx, e.V.DataOffset+start, sub); err != nil {
				e.V.OnExtentError(gctx, idx, err)
				return err
			}
			return nil
		})
		cur += take
	}
	if err := g.Wait(); err != nil {
		return errs.IO("raid1 split read", err)
	}
	return nil
}

func rotate(candidates []int, first int) []int {
	out := make([]int, 0, len(candidates))
	firstPos := 0
	for i, c := range candidates {
		if c == first {
			firstPos = i
			break
		}
	}
	out = append(out, candidates[firstPos:]...)
	out = append(out, candidates[:firstPos]...)
	return out
}
