package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// Native on-disk superblock layout (spec.md §6): one block at the
// last LBA of each extent, all integers little-endian.
const (
	nativeMagic     = "HelenRAID"
	nativeMagicLen  = 16
	nativeUUIDLen   = 16
	nativeVersion   = 1
	nativeDevLen    = model.MaxDevnameLen
	nativeChecksumOff = 0 // checksum coverage starts here; the trailing CRC covers every byte before it

	// nativeRecordLen is magic+uuid+4*u64+7*u32+devname+crc32.
	nativeRecordLen = nativeMagicLen + nativeUUIDLen + 8*4 + 4*7 + nativeDevLen + 4
)

type nativeRaw struct {
	Magic           [nativeMagicLen]byte
	UUID            [nativeUUIDLen]byte
	DataBlkno       uint64
	TruncatedBlkno  uint64
	DataOffset      uint64
	Counter         uint64
	Version         uint32
	ExtentNo        uint32
	Index           uint32
	Level           uint32
	Layout          uint32
	StripSize       uint32
	Bsize           uint32
	Devname         [nativeDevLen]byte
	Checksum        uint32
}

func (r *nativeRaw) encode() []byte {
	buf := make([]byte, nativeRecordLen)
	w := buf
	copy(w, r.Magic[:])
	w = w[nativeMagicLen:]
	copy(w, r.UUID[:])
	w = w[nativeUUIDLen:]
	binary.LittleEndian.PutUint64(w, r.DataBlkno)
	w = w[8:]
	binary.LittleEndian.PutUint64(w, r.TruncatedBlkno)
	w = w[8:]
	binary.LittleEndian.PutUint64(w, r.DataOffset)
	w = w[8:]
	binary.LittleEndian.PutUint64(w, r.Counter)
	w = w[8:]
	binary.LittleEndian.PutUint32(w, r.Version)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.ExtentNo)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.Index)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.Level)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.Layout)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.StripSize)
	w = w[4:]
	binary.LittleEndian.PutUint32(w, r.Bsize)
	w = w[4:]
	copy(w, r.Devname[:])
	w = w[nativeDevLen:]

	sum := crc32.ChecksumIEEE(buf[:nativeRecordLen-4])
	binary.LittleEndian.PutUint32(w, sum)
	r.Checksum = sum
	return buf
}

func decodeNativeRaw(buf []byte) (*nativeRaw, error) {
	if len(buf) < nativeRecordLen {
		return nil, errs.InvalidArgument("native superblock: short block")
	}
	r := &nativeRaw{}
	b := buf
	copy(r.Magic[:], b[:nativeMagicLen])
	b = b[nativeMagicLen:]
	copy(r.UUID[:], b[:nativeUUIDLen])
	b = b[nativeUUIDLen:]
	r.DataBlkno = binary.LittleEndian.Uint64(b)
	b = b[8:]
	r.TruncatedBlkno = binary.LittleEndian.Uint64(b)
	b = b[8:]
	r.DataOffset = binary.LittleEndian.Uint64(b)
	b = b[8:]
	r.Counter = binary.LittleEndian.Uint64(b)
	b = b[8:]
	r.Version = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.ExtentNo = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.Index = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.Level = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.Layout = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.StripSize = binary.LittleEndian.Uint32(b)
	b = b[4:]
	r.Bsize = binary.LittleEndian.Uint32(b)
	b = b[4:]
	copy(r.Devname[:], b[:nativeDevLen])
	b = b[nativeDevLen:]
	r.Checksum = binary.LittleEndian.Uint32(b)

	if !bytes.HasPrefix(r.Magic[:], []byte(nativeMagic)) {
		return nil, errs.NotFound("native superblock: magic mismatch")
	}
	got := crc32.ChecksumIEEE(buf[:nativeRecordLen-4])
	if got != r.Checksum {
		return nil, errs.InvalidArgument("native superblock: checksum mismatch")
	}
	return r, nil
}

// Native is the metadata.Variant for this engine's own on-disk
// format (spec.md §6).
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Probe(ctx context.Context, dev blockdev.Device) (*Decoded, error) {
	bs := dev.BlockSize()
	buf := make([]byte, bs)
	lastBlock := dev.NumBlocks() - 1
	if lastBlock < 0 {
		return nil, errs.NotFound("native superblock: device too small")
	}
	if err := dev.ReadAt(ctx, lastBlock, buf); err != nil {
		return nil, errs.IO("native superblock read", err)
	}

	r, err := decodeNativeRaw(buf)
	if err != nil {
		return nil, err
	}

	id, err := uuid.FromBytes(r.UUID[:])
	if err != nil {
		return nil, errs.InvalidArgument("native superblock: bad uuid")
	}

	return &Decoded{
		Variant:         Native{},
		UUID:            id,
		Counter:         r.Counter,
		Level:           model.Level(r.Level),
		Layout:          model.Layout(r.Layout),
		StripSize:       int64(r.StripSize),
		BlockSize:       int64(bs),
		DataOffset:      int64(r.DataOffset),
		DataBlocks:      int64(r.DataBlkno),
		TruncatedBlocks: int64(r.TruncatedBlkno),
		ExtentCount:     int(r.ExtentNo),
		Index:           int(r.Index),
		Devname:         cstring(r.Devname[:]),
		Raw:             r,
	}, nil
}

func (Native) InitVol2Meta(ctx context.Context, p VolumeParams) (*Decoded, error) {
	var devname [nativeDevLen]byte
	copy(devname[:], p.Devname)

	d := &Decoded{
		Variant:         Native{},
		UUID:            p.UUID,
		Counter:         0,
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
	}
	d.Raw = d.toRaw()
	return d, nil
}

func (d *Decoded) toRaw() *nativeRaw {
	r := &nativeRaw{
		DataBlkno:      uint64(d.DataBlocks),
		TruncatedBlkno: uint64(d.TruncatedBlocks),
		DataOffset:     uint64(d.DataOffset),
		Counter:        d.Counter,
		Version:        nativeVersion,
		ExtentNo:       uint32(d.ExtentCount),
		Index:          uint32(d.Index),
		Level:          uint32(d.Level),
		Layout:         uint32(d.Layout),
		StripSize:      uint32(d.StripSize),
		Bsize:          uint32(d.BlockSize),
	}
	copy(r.Magic[:], nativeMagic)
	copy(r.UUID[:], d.UUID[:])
	copy(r.Devname[:], d.Devname)
	return r
}

func (Native) InitMeta2Vol(ctx context.Context, candidates []*Decoded) (*Assembled, error) {
	return initMeta2VolByCounter(candidates)
}

// initMeta2VolByCounter is the shared primary-selection rule (spec.md
// §4.3, §9's explicit-primary-selection decision): the candidate with
// the highest counter is primary; every other candidate present is
// INVALID; extent positions with no candidate are MISSING.
func initMeta2VolByCounter(candidates []*Decoded) (*Assembled, error) {
	if len(candidates) == 0 {
		return nil, errs.InvalidArgument("metadata: no candidates to assemble")
	}

	primary := candidates[0]
	for _, c := range candidates[1:] {
		if c.Counter > primary.Counter {
			primary = c
		}
	}

	states := make([]model.ExtentState, primary.ExtentCount)
	for i := range states {
		states[i] = model.ExtentMissing
	}
	for _, c := range candidates {
		if c.Index < 0 || c.Index >= len(states) {
			continue
		}
		if c.Counter == primary.Counter {
			states[c.Index] = model.ExtentOnline
		} else {
			states[c.Index] = model.ExtentInvalid
		}
	}

	return &Assembled{Primary: primary, States: states}, nil
}

func (Native) CompareUUIDs(a, b *Decoded) bool { return a.UUID == b.UUID }

func (Native) IncCounter(d *Decoded) { d.Counter++ }

func (Native) Save(ctx context.Context, dev blockdev.Device, d *Decoded, onFail ExtentFailFunc) error {
	r := d.toRaw()
	buf := r.encode()

	bs := dev.BlockSize()
	if len(buf) > bs {
		return errs.InvalidArgument("native superblock larger than block size")
	}
	block := make([]byte, bs)
	copy(block, buf)

	lastBlock := dev.NumBlocks() - 1
	if err := dev.WriteAt(ctx, lastBlock, block); err != nil {
		if onFail != nil {
			onFail(d.Index, err)
			return nil
		}
		return errs.IO("native superblock write", err)
	}
	d.Raw = r
	return nil
}

func (Native) GetFlags(d *Decoded) model.Flags {
	return model.FlagHotspareSupport | model.FlagAllowRebuild
}

func (Native) Dump(d *Decoded) string {
	return "native: uuid=" + d.UUID.String() +
		" level=" + d.Level.String() +
		" layout=" + d.Layout.String() +
		" counter=" + itoa(d.Counter) +
		" devname=" + d.Devname
}

func cstring(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
