package volume

import (
	"context"

	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/model"
)

// Evaluate consumes the dirty flag and recomputes the volume's state
// from current extent states (spec.md §4.4). It is triggered by
// SetExtentState, by a rebuild step finishing, or can be called
// directly after any other dirty-marking event. Concurrent callers
// coalesce into a single metadata write: only the caller that wins
// the CompareAndSwap on the dirty flag does the work.
func (v *Volume) Evaluate(ctx context.Context) {
	if !v.dirty.CompareAndSwap(true, false) {
		return
	}

	v.statesLock.Lock()
	newState := v.computeState()
	prev := v.state
	v.state = newState
	v.statesLock.Unlock()

	v.bumpAndSave(ctx)

	if newState == model.VolumeDegraded && v.Rebuilder != nil {
		v.Rebuilder.MaybeStart(ctx, v)
	}

	if v.Log != nil && prev != newState {
		v.Log.Info("volume state transition", "from", prev.String(), "to", newState.String())
	}
}

// computeState implements the per-level transition table (spec.md
// §4.4). Caller must hold statesLock.
func (v *Volume) computeState() model.VolumeState {
	online, bad := 0, 0
	for _, e := range v.extents {
		if e.State == model.ExtentOnline {
			online++
		} else {
			bad++
		}
	}

	switch v.Level {
	case model.Level0:
		if bad > 0 {
			return model.VolumeFaulty
		}
		return model.VolumeOptimal
	case model.Level1:
		switch {
		case online == 0:
			return model.VolumeFaulty
		case bad == 0:
			return model.VolumeOptimal
		default:
			return model.VolumeDegraded
		}
	case model.Level4, model.Level5:
		switch {
		case bad == 0:
			return model.VolumeOptimal
		case bad == 1:
			return model.VolumeDegraded
		default:
			return model.VolumeFaulty
		}
	default:
		return model.VolumeFaulty
	}
}

// EnterRebuild sets the volume state to REBUILD. It does not touch any
// extent: the rebuild fibril calls it after PromoteHotspare has already
// marked the promoted slot REBUILD (spec.md §4.6 step 3, invariant in
// spec.md §3: "when volume state is REBUILD, exactly one extent is
// REBUILD").
func (v *Volume) EnterRebuild() {
	v.statesLock.Lock()
	v.state = model.VolumeRebuild
	v.statesLock.Unlock()
}

// FinishRebuild marks extent idx ONLINE, resets the rebuild position,
// and re-runs the evaluator (spec.md §4.6 step 6).
func (v *Volume) FinishRebuild(ctx context.Context, idx int) {
	v.rebuildPos.Store(0)
	v.SetExtentState(ctx, idx, model.ExtentOnline)
}

// bumpAndSave bumps the metadata counter and persists the superblock
// to every online extent, coalescing whatever dirty-triggering events
// happened since the last save into one write (spec.md §4.4).
func (v *Volume) bumpAndSave(ctx context.Context) {
	if v.metaVariant == nil || v.metaDecoded == nil {
		return
	}
	v.metaVariant.IncCounter(v.metaDecoded)
	v.saveAll(ctx)
}

// ConsumeFirstWrite atomically claims the first-write flag, which Open
// re-arms when the open count rises from zero. Only the first accepted
// write since then claims it, and for that write the metadata counter
// is bumped once unless the variant is NOOP (spec.md §3).
func (v *Volume) ConsumeFirstWrite(ctx context.Context) {
	if !v.firstWrite.CompareAndSwap(false, true) {
		return
	}
	if v.Flags.Has(model.FlagNoopMeta) {
		return
	}
	v.MarkDirty()
	v.Evaluate(ctx)
}

// saveAll calls the metadata variant's Save against every ONLINE
// extent's device, reporting per-extent failures through the extent
// state callback rather than failing the whole save (spec.md §4.3's
// save/save_ext with_state_callback contract).
func (v *Volume) saveAll(ctx context.Context) {
	v.extentsLock.RLock()
	extents := make([]*Extent, len(v.extents))
	copy(extents, v.extents)
	v.extentsLock.RUnlock()

	for i, e := range extents {
		if e.State != model.ExtentOnline || e.Device == nil {
			continue
		}
		metadata.SaveExt(ctx, v.metaVariant, e.Device, v.metaDecoded, i, func(idx int, err error) {
			v.OnExtentError(ctx, idx, err)
		})
	}
}

// SaveExtent persists the superblock to a single extent slot, used by
// the rebuild loops to checkpoint progress every RebuildSaveBytes
// (spec.md §4.6, §4.7) without re-saving every other member.
func (v *Volume) SaveExtent(ctx context.Context, idx int) {
	if v.metaVariant == nil || v.metaDecoded == nil {
		return
	}
	v.extentsLock.RLock()
	ext := v.extents[idx]
	v.extentsLock.RUnlock()
	if ext.Device == nil {
		return
	}
	metadata.SaveExt(ctx, v.metaVariant, ext.Device, v.metaDecoded, idx, func(i int, err error) {
		v.OnExtentError(ctx, i, err)
	})
}

// Decoded returns the in-memory metadata the volume was assembled
// from, for diagnostics and for level packages that need layout
// parameters this package doesn't itself expose as fields.
func (v *Volume) Decoded() *metadata.Decoded { return v.metaDecoded }
