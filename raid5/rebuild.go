package raid5

import (
	"context"

	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

// MaybeStart implements volume.Rebuilder (spec.md §4.6, §4.7). At most
// one rebuild fibril runs per volume at a time, enforced by
// rebuildRunning.
func (e *Engine) MaybeStart(ctx context.Context, v *volume.Volume) {
	e.rebuildMu.Lock()
	if e.rebuildRunning {
		e.rebuildMu.Unlock()
		return
	}

	idx := badExtentIndex(v)
	if idx < 0 || !v.HasHotspare() {
		e.rebuildMu.Unlock()
		return
	}

	e.rebuildRunning = true
	e.rebuildMu.Unlock()

	go e.runRebuild(context.WithoutCancel(ctx), idx)
}

// runRebuild reconstructs the bad extent's physical block range window
// by window: for any stripe, parity = XOR of its data extents, so
// XOR-ing every surviving extent's content at a given physical block
// offset recovers whichever extent is missing there, data or parity,
// without needing to know per-stripe which role it played (spec.md
// §4.7).
func (e *Engine) runRebuild(ctx context.Context, idx int) {
	defer func() {
		e.rebuildMu.Lock()
		e.rebuildRunning = false
		e.rebuildMu.Unlock()
	}()

	v := e.V
	if _, err := v.PromoteHotspare(idx); err != nil {
		return
	}
	v.EnterRebuild()

	total := v.TruncatedBlocks
	window := int64(model.RebuildWindowBlocks)
	bs := v.BlockSize
	acc := make([]byte, window*bs)
	scratch := make([]byte, window*bs)
	savedSince := int64(0)

	for pos := int64(0); pos < total; pos += window {
		cnt := window
		if pos+cnt > total {
			cnt = total - pos
		}
		accSub := acc[:cnt*bs]
		scratchSub := scratch[:cnt*bs]
		for i := range accSub {
			accSub[i] = 0
		}

		lock, err := v.Ranges.Acquire(ctx, pos, cnt)
		if err != nil {
			return
		}

		v.SetRebuildPosition(pos)

		ok := true
		for _, src := range e.onlineCandidates(idx) {
			ext := v.Extent(src)
			if err := ext.Device.ReadAt(ctx, v.DataOffset+pos, scratchSub); err != nil {
				v.OnExtentError(ctx, src, err)
				ok = false
				break
			}
			xorInto(accSub, scratchSub)
		}
		if !ok {
			v.Ranges.Release(lock)
			return
		}

		dstExt := v.Extent(idx)
		if dstExt.Device == nil {
			v.Ranges.Release(lock)
			return
		}
		if err := dstExt.Device.WriteAt(ctx, v.DataOffset+pos, accSub); err != nil {
			v.OnExtentError(ctx, idx, err)
			v.Ranges.Release(lock)
			return
		}

		v.Ranges.Release(lock)

		savedSince += cnt * bs
		if savedSince >= model.RebuildSaveBytes {
			v.SaveExtent(ctx, idx)
			savedSince = 0
		}
	}

	v.FinishRebuild(ctx, idx)
}

// onlineCandidates returns every ONLINE extent other than excl.
func (e *Engine) onlineCandidates(excl int) []int {
	var out []int
	for i, ext := range e.V.Extents() {
		if i == excl {
			continue
		}
		if ext.Device != nil && ext.State == model.ExtentOnline {
			out = append(out, i)
		}
	}
	return out
}
