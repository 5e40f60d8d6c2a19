package metadata

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/model"
)

func TestMDProbeDecodesFields(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(32, 512)

	block := make([]byte, 512)
	b := block
	binary.LittleEndian.PutUint32(b, mdMagic)
	b = b[4:]
	copy(b[:16], []byte("0123456789abcdef"))
	b = b[16:]
	binary.LittleEndian.PutUint32(b, 5) // level
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 0) // layout -> RAID5-0R
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 3) // raid_disks
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 1) // dev_number
	b = b[4:]
	binary.LittleEndian.PutUint64(b, 42) // events
	require.NoError(t, dev.WriteAt(ctx, mdSuperOffsetB, block))

	md := NewMD()
	d, err := md.Probe(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, model.Level5, d.Level)
	assert.Equal(t, model.LayoutRAID5_0R, d.Layout)
	assert.Equal(t, uint64(42), d.Counter)
	assert.Equal(t, 3, d.ExtentCount)
	assert.Equal(t, 1, d.Index)
}

func TestMDSaveIsRefused(t *testing.T) {
	md := NewMD()
	err := md.Save(context.Background(), blockdev.NewMemory(1, 512), &Decoded{}, nil)
	assert.Error(t, err)
	_, err = md.InitVol2Meta(context.Background(), VolumeParams{})
	assert.Error(t, err)
}

func TestGeomMirrorProbeAndCompareUUIDs(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(8, 512)

	block := make([]byte, 512)
	copy(block, []byte(geomMirrorMagic))
	b := block[len(geomMirrorMagic):]
	binary.LittleEndian.PutUint32(b, 77) // md_mid
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 3) // md_genid
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 0) // md_did
	require.NoError(t, dev.WriteAt(ctx, 7, block))

	gm := NewGeomMirror()
	d1, err := gm.Probe(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, model.Level1, d1.Level)
	assert.Equal(t, uint64(3), d1.Counter)

	d2 := &Decoded{Raw: &geomMirrorRaw{MdMid: 77}}
	assert.True(t, gm.CompareUUIDs(d1, d2))

	d3 := &Decoded{Raw: &geomMirrorRaw{MdMid: 78}}
	assert.False(t, gm.CompareUUIDs(d1, d3))
}

func TestGeomStripeProbeMembership(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(4, 512)

	block := make([]byte, 512)
	copy(block, []byte(geomStripeMagic))
	b := block[len(geomStripeMagic):]
	binary.LittleEndian.PutUint32(b, 4) // md_all
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 2) // md_no

	require.NoError(t, dev.WriteAt(ctx, 3, block))

	gs := NewGeomStripe()
	d, err := gs.Probe(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, model.Level0, d.Level)
	assert.Equal(t, 4, d.ExtentCount)
	assert.Equal(t, 2, d.Index)
}

func TestSoftraidProbeDecodesLevelAndCounter(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(128, 512)

	block := make([]byte, 512)
	b := block
	binary.LittleEndian.PutUint64(b, softraidMagic)
	b = b[8:]
	copy(b[:16], []byte("fedcba9876543210"))
	b = b[16:]
	binary.LittleEndian.PutUint32(b, 1) // level
	b = b[4:]
	binary.LittleEndian.PutUint32(b, 0) // index
	b = b[4:]
	binary.LittleEndian.PutUint64(b, 9) // ondisk
	require.NoError(t, dev.WriteAt(ctx, softraidOffsetB, block))

	sr := NewSoftraid()
	d, err := sr.Probe(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, model.Level1, d.Level)
	assert.Equal(t, uint64(9), d.Counter)
}

func TestGeomMirrorSaveIsRefused(t *testing.T) {
	gm := NewGeomMirror()
	err := gm.Save(context.Background(), blockdev.NewMemory(1, 512), &Decoded{}, nil)
	assert.Error(t, err)
}
