package metadata

import (
	"context"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// Noop is the metadata variant for volumes created with the
// NoopMeta flag (spec.md §3): no superblock is ever read or written,
// and the metadata counter never advances. Used for ephemeral or
// test volumes that should not touch the underlying device at all.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	return nil, errs.NotFound("noop: no metadata to probe")
}

func (Noop) InitVol2Meta(ctx context.Context, p VolumeParams) (*Decoded, error) {
	return &Decoded{
		Variant:         Noop{},
		UUID:            p.UUID,
		Level:           p.Level,
		Layout:          p.Layout,
		StripSize:       p.StripSize,
		BlockSize:       p.BlockSize,
		DataOffset:      p.DataOffset,
		DataBlocks:      p.DataBlocks,
		TruncatedBlocks: p.TruncatedBlocks,
		ExtentCount:     p.ExtentCount,
		Index:           p.Index,
		Devname:         p.Devname,
	}, nil
}

func (Noop) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

func (Noop) CompareUUIDs(a, b *Decoded) bool { return a.UUID == b.UUID }

func (Noop) IncCounter(d *Decoded) {}

func (Noop) Save(ctx context.Context, dev blockdev.Device, d *Decoded, onFail ExtentFailFunc) error {
	return nil
}

func (Noop) GetFlags(d *Decoded) model.Flags {
	return model.FlagHotspareSupport | model.FlagAllowRebuild | model.FlagNoopMeta
}

func (Noop) Dump(d *Decoded) string {
	return "noop: uuid=" + d.UUID.String() + " level=" + d.Level.String()
}
