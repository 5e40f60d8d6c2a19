package registry

import (
	"context"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/raid0"
	"helenraid.dev/hr/raid1"
	"helenraid.dev/hr/raid5"
	"helenraid.dev/hr/volume"
)

// Engine is the block-device contract every RAID level's driver
// satisfies (spec.md §6): a Volume on its own is just state and
// metadata, this is what actually moves bytes.
type Engine interface {
	ReadBlocks(ctx context.Context, ba, cnt int64, buf []byte) error
	WriteBlocks(ctx context.Context, ba, cnt int64, buf []byte) error
	SyncCache(ctx context.Context, ba, cnt int64) error
}

// AttachEngine wires a freshly assembled Volume to its level's driver
// (spec.md §4.8 step 4). For levels 1, 4 and 5 the driver also
// registers itself as the volume's Rebuilder; RAID-0 has none.
// Mirrors the switch the source's array-open path uses to pick a
// level-specific vtable, but returning an interface value instead of
// filling in function pointers.
func AttachEngine(v *volume.Volume) (Engine, error) {
	switch v.Level {
	case model.Level0:
		return raid0.New(v), nil
	case model.Level1:
		return raid1.New(v, raid1.FirstOnline, 0), nil
	case model.Level4, model.Level5:
		return raid5.New(v), nil
	default:
		return nil, errs.InvalidArgument("unsupported level for assembly: " + v.Level.String())
	}
}
