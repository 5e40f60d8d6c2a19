package metadata

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/model"
)

func TestNativeSaveThenProbeRoundTrips(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(100, 512)

	id := uuid.New()
	d, err := Native{}.InitVol2Meta(ctx, VolumeParams{
		UUID:            id,
		Level:           model.Level5,
		Layout:          model.LayoutRAID5_NR,
		StripSize:       4096,
		BlockSize:       512,
		DataOffset:      0,
		DataBlocks:      1000,
		TruncatedBlocks: 99,
		ExtentCount:     3,
		Index:           1,
		Devname:         "sd1",
	})
	require.NoError(t, err)

	require.NoError(t, Native{}.Save(ctx, dev, d, nil))

	got, err := Native{}.Probe(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, id, got.UUID)
	assert.Equal(t, model.Level5, got.Level)
	assert.Equal(t, model.LayoutRAID5_NR, got.Layout)
	assert.Equal(t, int64(4096), got.StripSize)
	assert.Equal(t, int64(1000), got.DataBlocks)
	assert.Equal(t, 3, got.ExtentCount)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "sd1", got.Devname)
}

func TestNativeProbeRejectsBadMagic(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(10, 512)

	_, err := Native{}.Probe(ctx, dev)
	assert.Error(t, err)
}

func TestNativeProbeRejectsCorruptedChecksum(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemory(10, 512)

	d, err := Native{}.InitVol2Meta(ctx, VolumeParams{
		UUID: uuid.New(), Level: model.Level1, ExtentCount: 2, BlockSize: 512,
	})
	require.NoError(t, err)
	require.NoError(t, Native{}.Save(ctx, dev, d, nil))

	buf := dev.Snapshot()
	last := buf[9*512 : 10*512]
	last[20] ^= 0xff
	corrupted := blockdev.NewMemory(10, 512)
	require.NoError(t, corrupted.WriteAt(ctx, 9, last))

	_, err = Native{}.Probe(ctx, corrupted)
	assert.Error(t, err)
}

func TestInitMeta2VolPicksHighestCounterAsPrimary(t *testing.T) {
	a := &Decoded{UUID: uuid.New(), Counter: 7, ExtentCount: 3, Index: 0}
	b := &Decoded{UUID: a.UUID, Counter: 9, ExtentCount: 3, Index: 1}
	c := &Decoded{UUID: a.UUID, Counter: 7, ExtentCount: 3, Index: 2}

	as, err := Native{}.InitMeta2Vol(context.Background(), []*Decoded{a, b, c})
	require.NoError(t, err)
	assert.Same(t, b, as.Primary)
	assert.Equal(t, model.ExtentInvalid, as.States[0])
	assert.Equal(t, model.ExtentOnline, as.States[1])
	assert.Equal(t, model.ExtentInvalid, as.States[2])
}

func TestInitMeta2VolMarksAbsentExtentMissing(t *testing.T) {
	a := &Decoded{UUID: uuid.New(), Counter: 5, ExtentCount: 3, Index: 0}
	c := &Decoded{UUID: a.UUID, Counter: 5, ExtentCount: 3, Index: 2}

	as, err := Native{}.InitMeta2Vol(context.Background(), []*Decoded{a, c})
	require.NoError(t, err)
	assert.Equal(t, model.ExtentOnline, as.States[0])
	assert.Equal(t, model.ExtentMissing, as.States[1])
	assert.Equal(t, model.ExtentOnline, as.States[2])
}
