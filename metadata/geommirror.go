package metadata

import (
	"bytes"
	"context"
	"encoding/binary"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// FreeBSD GEOM mirror v4 superblock, in the last block of every
// member (spec.md §6). md_genid is the counter; md_mid ties members
// of the same mirror together.
const geomMirrorMagic = "GEOM::MIRROR"

type geomMirrorRaw struct {
	MdMid   uint32
	MdGenID uint32
	MdDid   uint32 // this member's id, used as index surrogate
}

// GeomMirror recognizes FreeBSD GEOM mirror superblocks for read-only
// assembly. The source's save for this variant is a no-op with
// hardcoded provider names (spec.md §9); this variant refuses save
// outright instead.
type GeomMirror struct{ foreignReadOnly }

func NewGeomMirror() GeomMirror { return GeomMirror{foreignReadOnly{variantName: "geom_mirror"}} }

func (GeomMirror) Name() string { return "geom_mirror" }

func (g GeomMirror) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	bs := dev.BlockSize()
	buf := make([]byte, bs)
	last := dev.NumBlocks() - 1
	if last < 0 {
		return nil, errs.NotFound("geom_mirror: device too small")
	}
	if err := dev.ReadAt(ctx, last, buf); err != nil {
		return nil, errs.IO("geom_mirror superblock read", err)
	}
	if len(buf) < len(geomMirrorMagic)+4+4+4 {
		return nil, errs.NotFound("geom_mirror: short block")
	}
	if !bytes.HasPrefix(buf, []byte(geomMirrorMagic)) {
		return nil, errs.NotFound("geom_mirror: magic mismatch")
	}

	b := buf[len(geomMirrorMagic):]
	mid := binary.LittleEndian.Uint32(b)
	b = b[4:]
	genid := binary.LittleEndian.Uint32(b)
	b = b[4:]
	did := binary.LittleEndian.Uint32(b)

	return &Decoded{
		Variant: g,
		UUID:    synthesizeUUID("geom_mirror", mid),
		Counter: uint64(genid),
		Level:   model.Level1,
		Index:   int(did),
		Raw:     &geomMirrorRaw{MdMid: mid, MdGenID: genid, MdDid: did},
	}, nil
}

func (GeomMirror) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

func (GeomMirror) CompareUUIDs(a, b *Decoded) bool {
	ra, _ := a.Raw.(*geomMirrorRaw)
	rb, _ := b.Raw.(*geomMirrorRaw)
	return ra != nil && rb != nil && ra.MdMid == rb.MdMid
}

func (GeomMirror) IncCounter(d *Decoded) {
	d.Counter++
	if r, ok := d.Raw.(*geomMirrorRaw); ok {
		r.MdGenID = uint32(d.Counter)
	}
}

func (GeomMirror) GetFlags(d *Decoded) model.Flags { return 0 }

func (GeomMirror) Dump(d *Decoded) string {
	r, _ := d.Raw.(*geomMirrorRaw)
	if r == nil {
		return "geom_mirror: <invalid>"
	}
	return "geom_mirror: mid=" + itoa(uint64(r.MdMid)) + " genid=" + itoa(uint64(r.MdGenID))
}
