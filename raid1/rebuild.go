package raid1

import (
	"context"

	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

// MaybeStart implements volume.Rebuilder. It picks a bad extent, and
// if a hotspare is available, launches the rebuild fibril (spec.md
// §4.6). At most one rebuild fibril runs per volume at a time
// (spec.md §3 invariant), enforced by rebuildRunning.
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

func badExtentIndex(v *volume.Volume) int {
	for i, ext := range v.Extents() {
		switch ext.State {
		case model.ExtentFailed, model.ExtentMissing, model.ExtentInvalid:
			return i
		}
	}
	return -1
}

// runRebuild performs steps 2-6 of spec.md §4.6: promote the
// hotspare, mark REBUILD, stream fixed-size windows from any ONLINE
// extent, checkpoint metadata periodically, and finish.
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

	total := v.DataBlocks
	window := int64(model.RebuildWindowBlocks)
	bs := v.BlockSize
	buf := make([]byte, window*bs)
	savedSince := int64(0)

	for pos := int64(0); pos < total; pos += window {
		cnt := window
		if pos+cnt > total {
			cnt = total - pos
		}

		lock, err := v.Ranges.Acquire(ctx, pos, cnt)
		if err != nil {
			return
		}

		v.SetRebuildPosition(pos)

		src := e.pickRebuildSource(idx)
		if src < 0 {
			v.Ranges.Release(lock)
			return
		}
		srcExt := v.Extent(src)
		sub := buf[:cnt*bs]
		if err := srcExt.Device.ReadAt(ctx, v.DataOffset+pos, sub); err != nil {
			v.OnExtentError(ctx, src, err)
			v.Ranges.Release(lock)
			return
		}

		dstExt := v.Extent(idx)
		if dstExt.Device == nil {
			v.Ranges.Release(lock)
			return
		}
		if err := dstExt.Device.WriteAt(ctx, v.DataOffset+pos, sub); err != nil {
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

// pickRebuildSource returns any ONLINE extent other than the one
// being rebuilt.
func (e *Engine) pickRebuildSource(rebuilding int) int {
	for _, i := range e.onlineCandidates() {
		if i != rebuilding {
			return i
		}
	}
	return -1
}
