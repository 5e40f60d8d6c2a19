package raid5

import (
	"context"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/pkg/set"
)

// maxReadAttempts bounds the same EAGAIN replan loop as
// maxWriteAttempts, for a read that discovers an extent went bad mid-
// flight that the plan's view of the volume didn't know about yet.
const maxReadAttempts = 4

// ReadBlocks implements the block-device read contract (spec.md §6,
// §4.7), replanning under newly observed extent state when a sub-I/O
// reports retry rather than surfacing EIO for a transient single-fault
// flap.
func (e *Engine) ReadBlocks(ctx context.Context, ba, cnt int64, buf []byte) error {
	if err := e.V.CheckRange(ba, cnt); err != nil {
		return err
	}

	plans := BuildPlans(e.V.Layout, e.n(), e.stripBlocks(), ba, cnt)
	for _, p := range plans {
		if err := e.readStripeWithRetry(ctx, p, buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readStripeWithRetry(ctx context.Context, p *Plan, buf []byte) error {
	var err error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		err = e.readStripe(ctx, p, badExtentIndex(e.V), buf)
		if err == nil || !errs.IsRetry(err) {
			return err
		}
	}
	return errs.IO("raid5 read: exceeded replan attempts", err)
}

func (e *Engine) readStripe(ctx context.Context, p *Plan, bad int, buf []byte) error {
	bs := e.V.BlockSize

	badSpan, badTouched := p.Touched[bad]
	needsReconstruct := bad >= 0 && bad != p.ParityExtent && badTouched

	if !needsReconstruct {
		for idx, span := range p.Touched {
			if idx == bad {
				// bad extent untouched-in-this-plan or is parity: no
				// read needed from it at all.
				continue
			}
			ext := e.V.Extent(idx)
			if ext.Device == nil || ext.State != model.ExtentOnline {
				return errs.Retry("raid5 read: extent unavailable")
			}
			blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + span.StripOff
			sub := buf[span.BufOff*bs : (span.BufOff+span.Count)*bs]
			if err := ext.Device.ReadAt(ctx, blkno, sub); err != nil {
				e.V.OnExtentError(ctx, idx, err)
				return errs.Retry("raid5 read: " + err.Error())
			}
		}
		return nil
	}

	// Reconstruct path: XOR every other ONLINE extent's union range
	// (including parity) to recover the bad extent's contribution.
	skip := set.New[int]()
	skip.Add(bad)
	parityBuf, err := e.gatherReconstructRange(ctx, p, skip)
	if err != nil {
		if errs.IsRetry(err) {
			return err
		}
		return errs.IO("raid5 read: reconstruct failed", err)
	}

	off := (badSpan.StripOff - p.UnionStart) * bs
	copy(buf[badSpan.BufOff*bs:(badSpan.BufOff+badSpan.Count)*bs], parityBuf[off:off+badSpan.Count*bs])

	for idx, span := range p.Touched {
		if idx == bad {
			continue
		}
		ext := e.V.Extent(idx)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			return errs.Retry("raid5 read: extent unavailable")
		}
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + span.StripOff
		sub := buf[span.BufOff*bs : (span.BufOff+span.Count)*bs]
		if err := ext.Device.ReadAt(ctx, blkno, sub); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return errs.Retry("raid5 read: " + err.Error())
		}
	}
	return nil
}
