package metadata

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// OpenBSD softraid superblock, 64 blocks starting at block offset 16
// (spec.md §6). ssd_uuid ties members together; ssd_ondisk is the
// counter; ssd_level is restricted to {0,1,5} by the format.
const (
	softraidMagic   uint64 = 0x4d4152436372616d
	softraidOffsetB        = 16
)

type softraidRaw struct {
	Level   uint32
	Index   uint32
	Ondisk  uint64
}

type Softraid struct{ foreignReadOnly }

func NewSoftraid() Softraid { return Softraid{foreignReadOnly{variantName: "softraid"}} }

func (Softraid) Name() string { return "softraid" }

func (s Softraid) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	bs := dev.BlockSize()
	buf := make([]byte, bs)
	if err := dev.ReadAt(ctx, softraidOffsetB, buf); err != nil {
		return nil, errs.IO("softraid superblock read", err)
	}
	if len(buf) < 8+16+4+4+8 {
		return nil, errs.NotFound("softraid: short block")
	}

	b := buf
	magic := binary.LittleEndian.Uint64(b)
	if magic != softraidMagic {
		return nil, errs.NotFound("softraid: magic mismatch")
	}
	b = b[8:]

	var ssdUUID [16]byte
	copy(ssdUUID[:], b[:16])
	b = b[16:]

	level := binary.LittleEndian.Uint32(b)
	b = b[4:]
	index := binary.LittleEndian.Uint32(b)
	b = b[4:]
	ondisk := binary.LittleEndian.Uint64(b)

	id, err := uuid.FromBytes(ssdUUID[:])
	if err != nil {
		return nil, errs.InvalidArgument("softraid: bad uuid")
	}

	return &Decoded{
		Variant:   s,
		UUID:      id,
		Counter:   ondisk,
		Level:     softraidLevel(level),
		BlockSize: int64(bs),
		Index:     int(index),
		Raw:       &softraidRaw{Level: level, Index: index, Ondisk: ondisk},
	}, nil
}

func softraidLevel(v uint32) model.Level {
	switch v {
	case 0:
		return model.Level0
	case 1:
		return model.Level1
	case 5:
		return model.Level5
	default:
		return model.Level0
	}
}

func (Softraid) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

func (Softraid) CompareUUIDs(a, b *Decoded) bool { return a.UUID == b.UUID }

func (Softraid) IncCounter(d *Decoded) {
	d.Counter++
	if r, ok := d.Raw.(*softraidRaw); ok {
		r.Ondisk = d.Counter
	}
}

func (Softraid) GetFlags(d *Decoded) model.Flags { return 0 }

func (Softraid) Dump(d *Decoded) string {
	return "softraid: uuid=" + d.UUID.String() + " ondisk=" + itoa(d.Counter)
}
