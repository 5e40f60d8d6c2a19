package raid1

import (
	"context"

	"helenraid.dev/hr/errs"
)

// WriteBlocks fans a write out to every ONLINE extent and to the
// REBUILD extent when the write lies entirely behind the current
// rebuild position (spec.md §4.6). A range lock on the write's block
// span is held throughout so the rebuilder cannot race it. The write
// returns success if at least one writer succeeds.
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

	targets := e.writeTargets(ba, cnt)
	if len(targets) == 0 {
		return errNoHealthyExtent
	}

	bs := e.V.BlockSize
	sub := buf[:cnt*bs]

	succeeded := 0
	for _, idx := range targets {
		ext := e.V.Extent(idx)
		if ext.Device == nil {
			continue
		}
		if werr := ext.Device.WriteAt(ctx, e.V.DataOffset+ba, sub); werr != nil {
			e.V.OnExtentError(ctx, idx, werr)
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		return errs.IO("raid1 write: every target failed", nil)
	}
	return nil
}

// SyncCache fans a whole-device sync out to every ONLINE extent;
// partial ranges are a no-op, matching raid0's behavior.
func (e *Engine) SyncCache(ctx context.Context, ba, cnt int64) error {
	if ba != 0 || cnt != 0 {
		return nil
	}
	for _, idx := range e.onlineCandidates() {
		ext := e.V.Extent(idx)
		if ext.Device == nil {
			continue
		}
		if err := ext.Device.Sync(ctx); err != nil {
			e.V.OnExtentError(ctx, idx, err)
		}
	}
	return nil
}
