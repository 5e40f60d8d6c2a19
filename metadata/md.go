package metadata

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// Linux MD 1.x superblock, recognized read-only (spec.md §6). Offsets
// and field widths follow the documented 1.x layout; fields this
// engine never consumes (bitmap offset, chunk size, ...) are skipped.
const (
	mdMagic        uint32 = 0xa92b4efc
	mdSuperOffsetB        = 8 // blocks
)

type mdRaw struct {
	Magic        uint32
	SetUUID      [16]byte
	Level        uint32
	Layout       uint32
	RaidDisks    uint32
	DevNumber    uint32
	Events       uint64
	ResyncOffset uint64
}

// MD recognizes Linux software RAID 1.x superblocks for read-only
// assembly.
type MD struct{ foreignReadOnly }

func NewMD() MD { return MD{foreignReadOnly{variantName: "md"}} }

func (MD) Name() string { return "md" }

func (m MD) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	bs := dev.BlockSize()
	buf := make([]byte, bs)
	if err := dev.ReadAt(ctx, mdSuperOffsetB, buf); err != nil {
		return nil, errs.IO("md superblock read", err)
	}
	if len(buf) < 4+16+4*4+8*2 {
		return nil, errs.NotFound("md superblock: short block")
	}

	b := buf
	magic := binary.LittleEndian.Uint32(b)
	if magic != mdMagic {
		return nil, errs.NotFound("md superblock: magic mismatch")
	}
	b = b[4:]

	var setUUID [16]byte
	copy(setUUID[:], b[:16])
	b = b[16:]

	level := binary.LittleEndian.Uint32(b)
	b = b[4:]
	layout := binary.LittleEndian.Uint32(b)
	b = b[4:]
	raidDisks := binary.LittleEndian.Uint32(b)
	b = b[4:]
	devNumber := binary.LittleEndian.Uint32(b)
	b = b[4:]
	events := binary.LittleEndian.Uint64(b)
	b = b[8:]
	resyncOffset := binary.LittleEndian.Uint64(b)

	id, err := uuid.FromBytes(setUUID[:])
	if err != nil {
		return nil, errs.InvalidArgument("md superblock: bad uuid")
	}

	return &Decoded{
		Variant:     m,
		UUID:        id,
		Counter:     events,
		Level:       mdLevel(level),
		Layout:      mdLayout(layout),
		BlockSize:   int64(bs),
		ExtentCount: int(raidDisks),
		Index:       int(devNumber),
		Raw: &mdRaw{
			Magic: magic, SetUUID: setUUID, Level: level, Layout: layout,
			RaidDisks: raidDisks, DevNumber: devNumber, Events: events,
			ResyncOffset: resyncOffset,
		},
	}, nil
}

// Resyncing reports whether the decoded superblock indicates an
// in-progress rebuild (spec.md §6), i.e. a non-zero resync_offset.
// Assembly does not call it; nothing in this module does.
func Resyncing(d *Decoded) bool {
	r, ok := d.Raw.(*mdRaw)
	return ok && r.ResyncOffset != 0
}

func mdLevel(v uint32) model.Level {
	switch v {
	case 0:
		return model.Level0
	case 1:
		return model.Level1
	case 4:
		return model.Level4
	case 5:
		return model.Level5
	default:
		return model.Level0
	}
}

// mdLayout maps the MD 1.x layout algorithm number to this engine's
// layout enum. Only the three algorithms spec.md names are
// recognized; anything else decodes as RAID5-NR, the MD default.
func mdLayout(v uint32) model.Layout {
	switch v {
	case 0:
		return model.LayoutRAID5_0R
	case 2:
		return model.LayoutRAID5_NC
	default:
		return model.LayoutRAID5_NR
	}
}

func (MD) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

func (MD) CompareUUIDs(a, b *Decoded) bool { return a.UUID == b.UUID }

func (MD) IncCounter(d *Decoded) {
	d.Counter++
	if r, ok := d.Raw.(*mdRaw); ok {
		r.Events = d.Counter
	}
}

func (MD) GetFlags(d *Decoded) model.Flags { return 0 }

func (MD) Dump(d *Decoded) string {
	return "md: uuid=" + d.UUID.String() + " events=" + itoa(d.Counter)
}
