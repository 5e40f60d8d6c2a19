// Package volume implements the per-array data model and state
// machine (spec.md §3, §4.4): Volume, Extent and Hotspare, the
// dirty-flag-driven state evaluator, and the lock discipline
// (spec.md §5) everything above this package is built against.
//
// Package volume must never import raid0, raid1, raid5 or registry:
// those packages drive a Volume, not the other way around. Level-
// specific behavior the evaluator needs (deciding whether to spawn a
// rebuild) is injected through the Rebuilder interface rather than
// imported.
package volume

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/fge"
	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/pkg/units"
	"helenraid.dev/hr/rangelock"
)

// Extent is one underlying member of a Volume (spec.md §3). State is
// only ever mutated under the owning Volume's states lock.
type Extent struct {
	ServiceID string
	Device    blockdev.Device
	State     model.ExtentState
}

// Hotspare has the same shape as Extent; it sits in the volume's
// spare pool until promoted into a failed slot.
type Hotspare struct {
	ServiceID string
	Device    blockdev.Device
}

// Rebuilder is implemented by each RAID level's rebuild logic
// (raid1.Engine, raid5.Engine) and registered on a Volume after
// construction, so the state evaluator can trigger a rebuild without
// this package depending on the level packages.
type Rebuilder interface {
	// MaybeStart inspects v for a bad extent and, if there is one and
	// a hotspare is available, launches the rebuild fibril, which
	// promotes the hotspare into that slot. A bad extent (INVALID or an
	// interrupted REBUILD included) is not rebuilt in place when no
	// hotspare is available. Must return without blocking on the rebuild
	// itself; at most one rebuild fibril may run per volume
	// (enforced by the implementation, not by this package).
	MaybeStart(ctx context.Context, v *Volume)
}

// Volume is one assembled RAID array (spec.md §3).
type Volume struct {
	ServiceID string
	Devname   string
	Log       *slog.Logger

	Level           model.Level
	Layout          model.Layout
	StripSize       int64 // bytes
	BlockSize       int64 // bytes
	DataOffset      int64 // blocks
	DataBlocks      int64
	TruncatedBlocks int64

	Flags model.Flags

	metaVariant metadata.Variant
	metaDecoded *metadata.Decoded

	extentsLock sync.RWMutex
	extents     []*Extent

	hotspareLock sync.Mutex
	hotspares    []*Hotspare

	statesLock sync.RWMutex
	state      model.VolumeState

	rebuildPos atomic.Int64
	openCount  atomic.Int32
	dirty      atomic.Bool
	firstWrite atomic.Bool

	Ranges *rangelock.Table
	Pool   *fge.Pool

	Rebuilder Rebuilder
}

// New constructs a Volume around already-decoded metadata and a set
// of member extents. extents[i] corresponds to metadata candidate
// index i; a nil Device at index i means the member was absent at
// assembly (state model.ExtentMissing).
func New(log *slog.Logger, variant metadata.Variant, d *metadata.Decoded, extents []*Extent, states []model.ExtentState) *Volume {
	v := &Volume{
		ServiceID:       d.UUID.String(),
		Devname:         d.Devname,
		Log:             log.With("module", "volume", "devname", d.Devname),
		Level:           d.Level,
		Layout:          d.Layout,
		StripSize:       d.StripSize,
		BlockSize:       d.BlockSize,
		DataOffset:      d.DataOffset,
		DataBlocks:      d.DataBlocks,
		TruncatedBlocks: d.TruncatedBlocks,
		Flags:           variant.GetFlags(d),
		metaVariant:     variant,
		metaDecoded:     d,
		extents:         extents,
		Ranges:          rangelock.New(),
		state:           model.VolumeNone,
	}
	for i, s := range states {
		if i < len(v.extents) {
			v.extents[i].State = s
		}
	}
	return v
}

// Open bumps the reference count; concurrent opens are allowed
// (spec.md §6). The open that takes the count up from zero re-arms
// the first-write counter bump (see ConsumeFirstWrite).
func (v *Volume) Open() {
	if v.openCount.Add(1) == 1 {
		v.firstWrite.Store(false)
	}
}

// Close drops the reference count.
func (v *Volume) Close() { v.openCount.Add(-1) }

// OpenCount reports the current reference count, used by Stop to
// refuse tearing down a volume still in use.
func (v *Volume) OpenCount() int32 { return v.openCount.Load() }

// Size reports the volume's usable data capacity, for status reporting
// and logging; it is DataBlocks at BlockSize, never TruncatedBlocks,
// since those blocks aren't addressable through ReadBlocks/WriteBlocks.
func (v *Volume) Size() units.Bytes {
	return units.Blocks(v.DataBlocks).Bytes(units.Bytes(v.BlockSize))
}

// State returns the current volume state under the states read lock.
func (v *Volume) State() model.VolumeState {
	v.statesLock.RLock()
	defer v.statesLock.RUnlock()
	return v.state
}

// ExtentCount returns the number of extent slots (fixed for the
// volume's lifetime).
func (v *Volume) ExtentCount() int {
	v.extentsLock.RLock()
	defer v.extentsLock.RUnlock()
	return len(v.extents)
}

// Extent returns a snapshot of extent slot i's service id and state.
// The returned Device is shared and may be concurrently read/written;
// State is a point-in-time copy.
func (v *Volume) Extent(i int) Extent {
	v.extentsLock.RLock()
	e := v.extents[i]
	v.extentsLock.RUnlock()
	v.statesLock.RLock()
	defer v.statesLock.RUnlock()
	return Extent{ServiceID: e.ServiceID, Device: e.Device, State: e.State}
}

// Extents returns a snapshot of every extent slot.
func (v *Volume) Extents() []Extent {
	v.extentsLock.RLock()
	defer v.extentsLock.RUnlock()
	v.statesLock.RLock()
	defer v.statesLock.RUnlock()
	out := make([]Extent, len(v.extents))
	for i, e := range v.extents {
		out[i] = Extent{ServiceID: e.ServiceID, Device: e.Device, State: e.State}
	}
	return out
}

// RebuildPosition is the atomic block offset the active rebuild has
// reached. Reads use acquire ordering relative to a client's range
// check (spec.md §9); Go's atomic package gives every load/store
// sequentially-consistent ordering, which subsumes acquire/release.
func (v *Volume) RebuildPosition() int64 { return v.rebuildPos.Load() }

func (v *Volume) SetRebuildPosition(pos int64) { v.rebuildPos.Store(pos) }

// MarkDirty sets the dirty flag; Evaluate consumes it atomically so
// concurrent events coalesce into a single metadata write (spec.md
// §4.4).
func (v *Volume) MarkDirty() { v.dirty.Store(true) }

// FlagsValue reports the volume's current effective flags (the metadata
// variant's capability flags, narrowed by anything the volume itself
// forces, e.g. a REBUILD-in-progress READ_ONLY override is not
// modeled here since nothing in spec.md requires it).
func (v *Volume) FlagsValue() model.Flags { return v.Flags }

// OnExtentError maps a sub-I/O failure to an extent state transition
// and marks the volume dirty (spec.md §4.4's extent-state callback
// contract): NotFound maps to MISSING, anything else to FAILED. The
// return reports whether this call is what transitioned the extent
// (false if it was already in that state), so a caller mid-stripe can
// tell a freshly observed failure from state it already knew about.
func (v *Volume) OnExtentError(ctx context.Context, idx int, err error) bool {
	state := model.ExtentFailed
	if errs.IsNotFound(err) {
		state = model.ExtentMissing
	}
	return v.SetExtentState(ctx, idx, state)
}

// SetExtentState sets extent idx's state under the states write
// lock, marks the volume dirty, and runs the state evaluator. Reports
// whether the state actually changed.
func (v *Volume) SetExtentState(ctx context.Context, idx int, s model.ExtentState) bool {
	v.extentsLock.RLock()
	e := v.extents[idx]
	v.extentsLock.RUnlock()

	v.statesLock.Lock()
	changed := e.State != s
	e.State = s
	v.statesLock.Unlock()

	if changed {
		v.MarkDirty()
		v.Evaluate(ctx)
	}
	return changed
}

// PromoteHotspare pops the most recently added hotspare and installs
// it into extent slot idx, marking the slot REBUILD (spec.md §4.6
// step 2). It holds the extent, state and hotspare locks for the
// duration, matching the outer-to-inner order in spec.md §5.
func (v *Volume) PromoteHotspare(idx int) (*Hotspare, error) {
	v.extentsLock.Lock()
	defer v.extentsLock.Unlock()
	v.hotspareLock.Lock()
	defer v.hotspareLock.Unlock()
	v.statesLock.Lock()
	defer v.statesLock.Unlock()

	if len(v.hotspares) == 0 {
		return nil, errs.NotFound("no hotspare available")
	}
	last := v.hotspares[len(v.hotspares)-1]
	v.hotspares = v.hotspares[:len(v.hotspares)-1]

	v.extents[idx].Device = last.Device
	v.extents[idx].ServiceID = last.ServiceID
	v.extents[idx].State = model.ExtentRebuild
	return last, nil
}

// AddHotspare appends a hotspare to the volume's spare pool (spec.md
// §6's AddHotspare control operation).
func (v *Volume) AddHotspare(h *Hotspare) {
	v.hotspareLock.Lock()
	defer v.hotspareLock.Unlock()
	v.hotspares = append(v.hotspares, h)
}

// HasHotspare reports whether the spare pool has at least one member
// available to promote.
func (v *Volume) HasHotspare() bool {
	v.hotspareLock.Lock()
	defer v.hotspareLock.Unlock()
	return len(v.hotspares) > 0
}
