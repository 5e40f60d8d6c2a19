package metadata

import (
	"bytes"
	"context"
	"encoding/binary"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// FreeBSD GEOM stripe v3 superblock (spec.md §6): md_all is the
// member count, md_no this member's index. GEOM stripe has no
// counter field in the source format; this engine treats a missing
// counter as always-primary (every candidate is equally current),
// which is sound because GEOM stripe has no concept of a stale
// member to begin with — RAID-0 has nothing to resync.
const geomStripeMagic = "GEOM::STRIPE"

type geomStripeRaw struct {
	MdAll uint32
	MdNo  uint32
}

type GeomStripe struct{ foreignReadOnly }

func NewGeomStripe() GeomStripe { return GeomStripe{foreignReadOnly{variantName: "geom_stripe"}} }

func (GeomStripe) Name() string { return "geom_stripe" }

func (g GeomStripe) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	bs := dev.BlockSize()
	buf := make([]byte, bs)
	last := dev.NumBlocks() - 1
	if last < 0 {
		return nil, errs.NotFound("geom_stripe: device too small")
	}
	if err := dev.ReadAt(ctx, last, buf); err != nil {
		return nil, errs.IO("geom_stripe superblock read", err)
	}
	if len(buf) < len(geomStripeMagic)+4+4 {
		return nil, errs.NotFound("geom_stripe: short block")
	}
	if !bytes.HasPrefix(buf, []byte(geomStripeMagic)) {
		return nil, errs.NotFound("geom_stripe: magic mismatch")
	}

	b := buf[len(geomStripeMagic):]
	all := binary.LittleEndian.Uint32(b)
	b = b[4:]
	no := binary.LittleEndian.Uint32(b)

	return &Decoded{
		Variant:     g,
		UUID:        synthesizeUUID("geom_stripe", all),
		Counter:     1,
		Level:       model.Level0,
		ExtentCount: int(all),
		Index:       int(no),
		Raw:         &geomStripeRaw{MdAll: all, MdNo: no},
	}, nil
}

func (GeomStripe) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

func (GeomStripe) CompareUUIDs(a, b *Decoded) bool {
	ra, _ := a.Raw.(*geomStripeRaw)
	rb, _ := b.Raw.(*geomStripeRaw)
	return ra != nil && rb != nil && ra.MdAll == rb.MdAll
}

func (GeomStripe) IncCounter(d *Decoded) {}

func (GeomStripe) GetFlags(d *Decoded) model.Flags { return 0 }

func (GeomStripe) Dump(d *Decoded) string {
	r, _ := d.Raw.(*geomStripeRaw)
	if r == nil {
		return "geom_stripe: <invalid>"
	}
	return "geom_stripe: all=" + itoa(uint64(r.MdAll)) + " no=" + itoa(uint64(r.MdNo))
}
