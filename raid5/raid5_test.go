package raid5

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

const (
	testBlockSize = int64(512)
	testStripSize = int64(4 * 512) // 4 blocks per strip
)

func newVol(t *testing.T, n int, dataBlocks int64) (*volume.Volume, []*blockdev.Memory) {
	t.Helper()
	variant := metadata.Noop{}
	d, err := variant.InitVol2Meta(context.Background(), metadata.VolumeParams{
		UUID: uuid.New(), Level: model.Level5, Layout: model.LayoutRAID5_NR,
		BlockSize: testBlockSize, StripSize: testStripSize,
		DataBlocks: dataBlocks, TruncatedBlocks: dataBlocks / int64(n-1),
		ExtentCount: n,
	})
	require.NoError(t, err)

	devs := make([]*blockdev.Memory, n)
	extents := make([]*volume.Extent, n)
	states := make([]model.ExtentState, n)
	perExtent := dataBlocks/int64(n-1) + 10
	for i := range extents {
		devs[i] = blockdev.NewMemory(perExtent, int(testBlockSize))
		extents[i] = &volume.Extent{ServiceID: "e", Device: devs[i]}
		states[i] = model.ExtentOnline
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := volume.New(log, variant, d, extents, states)
	v.MarkDirty()
	v.Evaluate(context.Background())
	return v, devs
}

// parityOf XORs every extent's bytes at blkno across count blocks,
// expecting the result to be all-zero when the stripe's invariant
// holds (data XOR parity == 0).
func parityOf(t *testing.T, devs []*blockdev.Memory, blkno, count int64) []byte {
	t.Helper()
	bs := int(testBlockSize)
	acc := make([]byte, count*int64(bs))
	for _, d := range devs {
		buf := make([]byte, count*int64(bs))
		require.NoError(t, d.ReadAt(context.Background(), blkno, buf))
		for i := range acc {
			acc[i] ^= buf[i]
		}
	}
	return acc
}

func TestWriteMaintainsParityInvariantSubtractMode(t *testing.T) {
	v, devs := newVol(t, 4, 300) // 4 extents, 3 data + 1 parity per stripe
	e := New(v)
	ctx := context.Background()

	data := bytes.Repeat([]byte{0x11}, int(2*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, 2, data))

	// Entire stripe 0 spans strip offsets [0,4): verify invariant over
	// the whole strip width so untouched bytes (still zero) participate.
	zero := parityOf(t, devs, 0, 4)
	assert.Equal(t, make([]byte, 4*testBlockSize), zero)
}

func TestWriteAndReadRoundTripsWholeStripe(t *testing.T) {
	v, _ := newVol(t, 4, 300)
	e := New(v)
	ctx := context.Background()

	stripBlocks := testStripSize / testBlockSize // 4
	cnt := stripBlocks * 3                        // touches all 3 data extents of one stripe
	data := bytes.Repeat([]byte{0xCD}, int(cnt*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, cnt, data))

	out := make([]byte, cnt*testBlockSize)
	require.NoError(t, e.ReadBlocks(ctx, 0, cnt, out))
	assert.Equal(t, data, out)
}

func TestReconstructReadAfterDataExtentFails(t *testing.T) {
	v, devs := newVol(t, 4, 300)
	e := New(v)
	ctx := context.Background()

	stripBlocks := testStripSize / testBlockSize
	cnt := stripBlocks * 3
	data := bytes.Repeat([]byte{0x42}, int(cnt*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, cnt, data))

	bad := badExtentIndex(v)
	require.Equal(t, -1, bad)

	failIdx := DataExtent(v.Layout, 0, ParityExtent(v.Layout, 0, 4), 4)
	v.SetExtentState(ctx, failIdx, model.ExtentFailed)
	assert.Equal(t, model.VolumeDegraded, v.State())

	out := make([]byte, cnt*testBlockSize)
	require.NoError(t, e.ReadBlocks(ctx, 0, cnt, out))
	assert.Equal(t, data, out)
	_ = devs
}

func TestDegradedWriteThenRebuildRestoresRedundancy(t *testing.T) {
	v, _ := newVol(t, 4, 300)
	e := New(v)
	ctx := context.Background()

	stripBlocks := testStripSize / testBlockSize
	cnt := stripBlocks * 3
	data := bytes.Repeat([]byte{0x99}, int(cnt*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, cnt, data))

	failIdx := DataExtent(v.Layout, 0, ParityExtent(v.Layout, 0, 4), 4)
	v.SetExtentState(ctx, failIdx, model.ExtentFailed)
	require.Equal(t, model.VolumeDegraded, v.State())

	newData := bytes.Repeat([]byte{0x07}, int(cnt*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, cnt, newData))

	spareDev := blockdev.NewMemory(400, int(testBlockSize))
	v.AddHotspare(&volume.Hotspare{ServiceID: "spare", Device: spareDev})
	v.MarkDirty()
	v.Evaluate(ctx)

	require.Eventually(t, func() bool {
		return v.State() == model.VolumeOptimal
	}, 2*time.Second, 5*time.Millisecond)

	out := make([]byte, cnt*testBlockSize)
	require.NoError(t, e.ReadBlocks(ctx, 0, cnt, out))
	assert.Equal(t, newData, out)
}

// TestWriteSurvivesMidFlightExtentFailure exercises the EAGAIN replan
// path (spec.md §4.7, scenario §8.5): a data extent starts healthy, so
// the stripe plans as OPTIMAL, but the first attempt's contribution
// read/write against it fails. The write must not surface that failure
// to the caller — it replans under the now-DEGRADED view and succeeds.
func TestWriteSurvivesMidFlightExtentFailure(t *testing.T) {
	v, devs := newVol(t, 4, 300)
	e := New(v)
	ctx := context.Background()

	stripBlocks := testStripSize / testBlockSize
	cnt := stripBlocks * 3 // touches all 3 data extents: reconstruct mode

	failIdx := DataExtent(v.Layout, 0, ParityExtent(v.Layout, 0, 4), 4)
	devs[failIdx].Failing = true

	data := bytes.Repeat([]byte{0x5a}, int(cnt*testBlockSize))
	require.NoError(t, e.WriteBlocks(ctx, 0, cnt, data))

	assert.Equal(t, model.VolumeDegraded, v.State())
	assert.Equal(t, model.ExtentFailed, v.Extent(failIdx).State)

	out := make([]byte, cnt*testBlockSize)
	require.NoError(t, e.ReadBlocks(ctx, 0, cnt, out))
	assert.Equal(t, data, out)
}

// TestWriteExceedsRetryBudgetSurfacesIO covers the unrecoverable case:
// the would-be-degraded path's own target is also unavailable, so every
// replan attempt keeps observing newly-bad state and the retry budget
// is exhausted. The caller must see a plain error, never the internal
// retry sentinel.
func TestWriteExceedsRetryBudgetSurfacesIO(t *testing.T) {
	v, devs := newVol(t, 4, 300)
	e := New(v)
	ctx := context.Background()

	stripBlocks := testStripSize / testBlockSize
	cnt := stripBlocks * 3

	parityIdx := ParityExtent(v.Layout, 0, 4)
	failIdx := DataExtent(v.Layout, 0, parityIdx, 4)
	devs[failIdx].Failing = true
	devs[parityIdx].Failing = true

	data := bytes.Repeat([]byte{0x5a}, int(cnt*testBlockSize))
	err := e.WriteBlocks(ctx, 0, cnt, data)
	require.Error(t, err)
	assert.False(t, errs.IsRetry(err))
}

func TestWriteFailsOnRangeBeyondDataBlocks(t *testing.T) {
	v, _ := newVol(t, 4, 300)
	e := New(v)
	err := e.WriteBlocks(context.Background(), 299, 5, make([]byte, 5*512))
	assert.Error(t, err)
}
