// Package metadata implements the RAID engine's metadata capability
// set (spec.md §4.3): a small interface every on-disk format variant
// implements, so the registry and volume packages can probe, assemble
// and persist superblocks without knowing which format is in play.
//
// Native and Noop can produce metadata from a volume's parameters, and
// Native is the only variant whose Save writes a superblock (Noop's
// writes nothing); the foreign variants (MD,
// GEOM mirror, GEOM stripe, softraid) are read-only citizens, present
// so a host's existing arrays can be recognized and assembled
// read-only rather than reformatted.
package metadata

import (
	"context"

	"github.com/google/uuid"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/model"
)

// ExtentFailFunc reports that writing extent idx's superblock failed,
// the same callback shape the volume state machine uses for data
// sub-I/O failures (spec.md §4.4).
type ExtentFailFunc func(idx int, err error)

// VolumeParams is what a volume supplies to InitVol2Meta to produce
// fresh metadata for a brand-new array.
type VolumeParams struct {
	UUID            uuid.UUID
	Level           model.Level
	Layout          model.Layout
	StripSize       int64 // bytes
	BlockSize       int64 // bytes
	DataOffset      int64 // blocks
	DataBlocks      int64
	TruncatedBlocks int64
	ExtentCount     int
	Index           int
	Devname         string
}

// Decoded is the in-memory, format-agnostic view of one member's
// superblock, regardless of which variant produced it.
type Decoded struct {
	Variant Variant

	UUID            uuid.UUID
	Counter         uint64
	Level           model.Level
	Layout          model.Layout
	StripSize       int64
	BlockSize       int64
	DataOffset      int64
	DataBlocks      int64
	TruncatedBlocks int64
	ExtentCount     int
	Index           int
	Devname         string

	// Raw is the variant's private decoded payload (e.g. the exact
	// on-disk struct), kept around for Dump and Save.
	Raw any
}

// Assembled is the result of InitMeta2Vol: the chosen primary plus
// the initial state to give every extent slot (spec.md §4.3, §4.4).
type Assembled struct {
	Primary *Decoded
	// States is indexed by extent position (0..ExtentCount-1).
	// A candidate that never showed up at assembly is MISSING.
	States []model.ExtentState
}

// Variant is the capability set every metadata format implements
// (spec.md §4.3).
type Variant interface {
	// Name identifies the variant for logging and Dump.
	Name() string

	// Probe decodes dev's superblock, or returns an errs.NotFoundError
	// if none is present, or an errs.InvalidArgumentError if the
	// block is malformed.
	Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error)

	// InitVol2Meta produces fresh metadata from a volume's
	// parameters. The native and noop variants support this; foreign
	// variants return errs.NotSupported.
	InitVol2Meta(ctx context.Context, p VolumeParams) (*Decoded, error)

	// InitMeta2Vol picks the primary (highest counter) among
	// candidates and derives the initial extent states.
	InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error)

	// CompareUUIDs reports whether two candidates belong to the same
	// array.
	CompareUUIDs(a, b *Decoded) bool

	// IncCounter bumps d's monotonic counter in place.
	IncCounter(d *Decoded)

	// Save encodes and writes d's superblock to dev. onFail, if
	// non-nil, is invoked instead of returning an error for a
	// per-extent write failure. SaveExt always passes nil here and
	// reports the returned error through its own callback.
	Save(ctx context.Context, dev blockdev.Device, d *Decoded, onFail ExtentFailFunc) error

	// GetFlags reports the capability flags this variant grants;
	// foreign variants clear HotspareSupport and/or AllowRebuild.
	GetFlags(d *Decoded) model.Flags

	// Dump renders d for diagnostics.
	Dump(d *Decoded) string
}

// AllVariants is the probe order assembly walks for an unrecognized
// candidate device (spec.md §4.8): native first since it is the
// engine's own format, then the foreign read-only formats.
func AllVariants() []Variant {
	return []Variant{
		Native{},
		NewMD(),
		NewGeomMirror(),
		NewGeomStripe(),
		NewSoftraid(),
	}
}

// SaveExt writes d's superblock to a single named extent of a
// multi-extent volume, reporting failure through onFail rather than
// returning it, mirroring the source's save_ext fan-out helper
// (spec.md §4.3).
func SaveExt(ctx context.Context, v Variant, dev blockdev.Device, d *Decoded, idx int, onFail ExtentFailFunc) {
	if err := v.Save(ctx, dev, d, nil); err != nil {
		if onFail != nil {
			onFail(idx, err)
		}
	}
}
