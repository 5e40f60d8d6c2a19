package raid5

import (
	"context"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/pkg/set"
)

// maxWriteAttempts bounds the EAGAIN replan loop — group_wait only
// ever asks for one retry when an extent's state changed mid-flight
// (spec.md §4.1), so a handful of attempts is generous headroom
// against a pathological flap.
const maxWriteAttempts = 4

// WriteBlocks implements the block-device write contract (spec.md §6,
// §4.7): per-stripe subtract-mode or reconstruct-mode parity
// maintenance for an OPTIMAL volume, and the parity-bad / data-bad
// degraded paths, replanning under newly observed extent state when a
// sub-I/O reports retry.
func (e *Engine) WriteBlocks(ctx context.Context, ba, cnt int64, buf []byte) error {
	if err := e.V.CheckWritable(ba, cnt); err != nil {
		return err
	}

	lock, err := e.V.Ranges.Acquire(ctx, ba, cnt)
	if err != nil {
		return err
	}
	defer e.V.Ranges.Release(lock)

	e.V.ConsumeFirstWrite(ctx)

	plans := BuildPlans(e.V.Layout, e.n(), e.stripBlocks(), ba, cnt)
	for _, p := range plans {
		if err := e.writeStripeWithRetry(ctx, p, buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeStripeWithRetry(ctx context.Context, p *Plan, buf []byte) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err = e.writeStripe(ctx, p, buf)
		if err == nil || !errs.IsRetry(err) {
			return err
		}
	}
	// Every attempt kept observing newly-bad extent state: either a
	// pathological flap outlasting maxWriteAttempts, or a second fault
	// the single-parity scheme can't route around. Either way errs.Retry
	// is internal-only and must not reach the caller as-is.
	return errs.IO("raid5 write: exceeded replan attempts", err)
}

func (e *Engine) writeStripe(ctx context.Context, p *Plan, buf []byte) error {
	bad := badExtentIndex(e.V)

	switch {
	case bad == p.ParityExtent:
		return e.writeParityBad(ctx, p, buf)
	case bad >= 0:
		return e.writeDataBad(ctx, p, buf, bad)
	default:
		return e.writeOptimal(ctx, p, buf)
	}
}

// writeOptimal picks subtract-mode (read only the touched spans' old
// data and old parity) when few strips are touched, or reconstruct-mode
// (XOR every data extent's current content across the union range)
// when most of the stripe is being rewritten anyway (spec.md §4.7).
func (e *Engine) writeOptimal(ctx context.Context, p *Plan, buf []byte) error {
	if p.stripsTouched()*2 < e.n()-1 {
		return e.subtractWrite(ctx, p, buf)
	}
	return e.reconstructWrite(ctx, p, buf, set.New[int](), true)
}

// subtractWrite maintains parity as old_parity XOR old_data XOR
// new_data, computed independently per touched span — no read of any
// untouched extent required.
func (e *Engine) subtractWrite(ctx context.Context, p *Plan, buf []byte) error {
	bs := e.V.BlockSize
	parityExt := e.V.Extent(p.ParityExtent)
	if parityExt.Device == nil || parityExt.State != model.ExtentOnline {
		return errs.Retry("raid5 write: parity extent unavailable")
	}

	for idx, span := range p.Touched {
		ext := e.V.Extent(idx)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			return errs.Retry("raid5 write: data extent unavailable")
		}
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + span.StripOff

		oldData := make([]byte, span.Count*bs)
		if err := ext.Device.ReadAt(ctx, blkno, oldData); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return errs.Retry("raid5 write: old data read: " + err.Error())
		}
		oldParity := make([]byte, span.Count*bs)
		if err := parityExt.Device.ReadAt(ctx, blkno, oldParity); err != nil {
			e.V.OnExtentError(ctx, p.ParityExtent, err)
			return errs.Retry("raid5 write: old parity read: " + err.Error())
		}

		newData := buf[span.BufOff*bs : (span.BufOff+span.Count)*bs]
		xorInto(oldData, newData) // oldData now holds the delta
		xorInto(oldParity, oldData)

		if err := ext.Device.WriteAt(ctx, blkno, newData); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return errs.Retry("raid5 write: data write: " + err.Error())
		}
		if err := parityExt.Device.WriteAt(ctx, blkno, oldParity); err != nil {
			e.V.OnExtentError(ctx, p.ParityExtent, err)
			return errs.Retry("raid5 write: parity write: " + err.Error())
		}
	}
	return nil
}

// reconstructWrite recomputes the plan's full parity union range by
// XORing every extent's contribution except those named in dataSkip
// (plus the parity extent itself, which is never a data contributor),
// then writes new data to each touched, non-skipped extent and —
// unless writeParity is false, because the parity extent itself is the
// one that's unavailable — the recomputed parity to the parity
// extent's union range.
func (e *Engine) reconstructWrite(ctx context.Context, p *Plan, buf []byte, dataSkip set.Set[int], writeParity bool) error {
	contribSkip := dataSkip.Clone()
	contribSkip.Add(p.ParityExtent)
	newParity, err := e.gatherContributions(ctx, p, buf, contribSkip)
	if err != nil {
		if errs.IsRetry(err) {
			return err
		}
		return errs.IO("raid5 write: parity recompute failed", err)
	}

	for idx, span := range p.Touched {
		if dataSkip.Contains(idx) {
			continue
		}
		ext := e.V.Extent(idx)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			return errs.Retry("raid5 write: data extent unavailable")
		}
		bs := e.V.BlockSize
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + span.StripOff
		newData := buf[span.BufOff*bs : (span.BufOff+span.Count)*bs]
		if err := ext.Device.WriteAt(ctx, blkno, newData); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return errs.Retry("raid5 write: data write: " + err.Error())
		}
	}

	if writeParity {
		parityExt := e.V.Extent(p.ParityExtent)
		if parityExt.Device == nil || parityExt.State != model.ExtentOnline {
			return errs.Retry("raid5 write: parity extent unavailable")
		}
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + p.UnionStart
		if err := parityExt.Device.WriteAt(ctx, blkno, newParity); err != nil {
			e.V.OnExtentError(ctx, p.ParityExtent, err)
			return errs.Retry("raid5 write: parity write: " + err.Error())
		}
	}
	return nil
}

// writeParityBad handles a write whose plan's parity extent is not
// ONLINE: data is written directly with no redundancy maintained for
// this stripe until the parity extent rebuilds.
func (e *Engine) writeParityBad(ctx context.Context, p *Plan, buf []byte) error {
	bs := e.V.BlockSize
	for idx, span := range p.Touched {
		ext := e.V.Extent(idx)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			return errs.Retry("raid5 write: data extent unavailable")
		}
		blkno := e.V.DataOffset + p.StripeNo*p.stripBlocks + span.StripOff
		newData := buf[span.BufOff*bs : (span.BufOff+span.Count)*bs]
		if err := ext.Device.WriteAt(ctx, blkno, newData); err != nil {
			e.V.OnExtentError(ctx, idx, err)
			return errs.Retry("raid5 write: data write: " + err.Error())
		}
	}
	return nil
}

// writeDataBad handles a write against a stripe with one non-ONLINE
// data extent, whether or not this particular plan touches it: parity
// is recomputed over every other ONLINE extent so that it keeps
// satisfying "XOR of ONLINE extents' data equals parity" (spec.md §8),
// and no I/O is attempted against the bad extent at all — the same
// reconstruct path serves both the bad-extent-is-the-one-written and
// bad-extent-is-a-bystander cases.
func (e *Engine) writeDataBad(ctx context.Context, p *Plan, buf []byte, bad int) error {
	skip := set.New[int]()
	skip.Add(bad)
	return e.reconstructWrite(ctx, p, buf, skip, true)
}

// SyncCache fans a whole-device sync out to every ONLINE extent.
func (e *Engine) SyncCache(ctx context.Context, ba, cnt int64) error {
	if ba != 0 || cnt != 0 {
		return nil
	}
	for i, ext := range e.V.Extents() {
		if ext.Device == nil || ext.State != model.ExtentOnline {
			continue
		}
		if err := ext.Device.Sync(ctx); err != nil {
			e.V.OnExtentError(ctx, i, err)
			return errs.IO("raid5 sync", err)
		}
	}
	return nil
}
