// Package raid0 implements the striping engine (spec.md §4.5): a
// stateless address translator plus the per-sub-I/O fan-out for
// reads, writes and whole-device sync. RAID-0 has no redundancy, so
// any sub-I/O failure faults the whole volume.
package raid0

import (
	"context"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

// Engine drives one RAID-0 volume.
type Engine struct {
	V *volume.Volume
}

func New(v *volume.Volume) *Engine { return &Engine{V: v} }

// addr is the translated position of one client block address (spec.md
// §4.5): strip_no = ba / strip_blocks, extent = strip_no mod N,
// stripe = strip_no / N, strip_off = ba mod strip_blocks.
type addr struct {
	extent  int
	blkno   int64 // block address within the target extent
	stripNo int64
}

func (e *Engine) translate(ba int64) addr {
	n := e.V.ExtentCount()
	stripBlocks := e.V.StripSize / e.V.BlockSize
	stripNo := ba / stripBlocks
	extent := int(stripNo % int64(n))
	stripe := stripNo / int64(n)
	stripOff := ba % stripBlocks
	return addr{
		extent:  extent,
		blkno:   e.V.DataOffset + stripe*stripBlocks + stripOff,
		stripNo: stripNo,
	}
}

// piece is one contiguous sub-I/O landing entirely within a single
// extent and a single strip.
type piece struct {
	extent   int
	blkno    int64
	count    int64
	bufStart int64 // block offset into the caller's buffer
}

func (e *Engine) plan(ba, cnt int64) []piece {
	stripBlocks := e.V.StripSize / e.V.BlockSize
	var pieces []piece
	remaining := cnt
	cur := ba
	bufStart := int64(0)
	for remaining > 0 {
		a := e.translate(cur)
		stripOff := cur % stripBlocks
		room := stripBlocks - stripOff
		take := remaining
		if take > room {
			take = room
		}
		pieces = append(pieces, piece{extent: a.extent, blkno: a.blkno, count: take, bufStart: bufStart})
		cur += take
		bufStart += take
		remaining -= take
	}
	return pieces
}

// ReadBlocks implements the block-device read contract (spec.md §6).
func (e *Engine) ReadBlocks(ctx context.Context, ba, cnt int64, buf []byte) error {
	if err := e.V.CheckRange(ba, cnt); err != nil {
		return err
	}
	bs := e.V.BlockSize
	for _, p := range e.plan(ba, cnt) {
		ext := e.V.Extent(p.extent)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			e.V.SetExtentState(ctx, p.extent, model.ExtentMissing)
			return errs.IO("raid0 read: extent unavailable", nil)
		}
		sub := buf[p.bufStart*bs : (p.bufStart+p.count)*bs]
		if err := ext.Device.ReadAt(ctx, p.blkno, sub); err != nil {
			e.V.OnExtentError(ctx, p.extent, err)
			return errs.IO("raid0 read", err)
		}
	}
	return nil
}

// WriteBlocks implements the block-device write contract (spec.md
// §6). Any sub-I/O failure faults the volume: RAID-0 has no
// redundancy to fall back on.
func (e *Engine) WriteBlocks(ctx context.Context, ba, cnt int64, buf []byte) error {
	if err := e.V.CheckWritable(ba, cnt); err != nil {
		return err
	}
	e.V.ConsumeFirstWrite(ctx)

	bs := e.V.BlockSize
	for _, p := range e.plan(ba, cnt) {
		ext := e.V.Extent(p.extent)
		if ext.Device == nil || ext.State != model.ExtentOnline {
			e.V.SetExtentState(ctx, p.extent, model.ExtentMissing)
			return errs.IO("raid0 write: extent unavailable", nil)
		}
		sub := buf[p.bufStart*bs : (p.bufStart+p.count)*bs]
		if err := ext.Device.WriteAt(ctx, p.blkno, sub); err != nil {
			e.V.OnExtentError(ctx, p.extent, err)
			return errs.IO("raid0 write", err)
		}
	}
	return nil
}

// SyncCache fans a whole-device sync (ba=0, cnt=0) out to every
// extent; any other range is a no-op since RAID-0 has no write-back
// cache layered above the extents themselves.
func (e *Engine) SyncCache(ctx context.Context, ba, cnt int64) error {
	if ba != 0 || cnt != 0 {
		return nil
	}
	for i, ext := range e.V.Extents() {
		if ext.Device == nil {
			continue
		}
		if err := ext.Device.Sync(ctx); err != nil {
			e.V.OnExtentError(ctx, i, err)
			return errs.IO("raid0 sync", err)
		}
	}
	return nil
}
