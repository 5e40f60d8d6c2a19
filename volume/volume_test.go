package volume

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/model"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVolume(t *testing.T, level model.Level, n int) *Volume {
	t.Helper()
	variant := metadata.Noop{}
	d, err := variant.InitVol2Meta(context.Background(), metadata.VolumeParams{
		UUID: uuid.New(), Level: level, ExtentCount: n, BlockSize: 512,
	})
	require.NoError(t, err)

	extents := make([]*Extent, n)
	states := make([]model.ExtentState, n)
	for i := range extents {
		extents[i] = &Extent{ServiceID: "e", Device: blockdev.NewMemory(10, 512)}
		states[i] = model.ExtentOnline
	}
	return New(testLog(), variant, d, extents, states)
}

func TestNewVolumeStartsWithGivenStates(t *testing.T) {
	v := newTestVolume(t, model.Level1, 2)
	all := v.Extents()
	assert.Len(t, all, 2)
	assert.Equal(t, model.ExtentOnline, all[0].State)
}

func TestOpenCloseRefCounts(t *testing.T) {
	v := newTestVolume(t, model.Level0, 1)
	assert.EqualValues(t, 0, v.OpenCount())
	v.Open()
	v.Open()
	assert.EqualValues(t, 2, v.OpenCount())
	v.Close()
	assert.EqualValues(t, 1, v.OpenCount())
}

func TestPromoteHotspareInstallsAndMarksRebuild(t *testing.T) {
	v := newTestVolume(t, model.Level1, 2)
	v.SetExtentState(context.Background(), 0, model.ExtentFailed)

	spare := &Hotspare{ServiceID: "spare", Device: blockdev.NewMemory(10, 512)}
	v.AddHotspare(spare)
	assert.True(t, v.HasHotspare())

	got, err := v.PromoteHotspare(0)
	require.NoError(t, err)
	assert.Same(t, spare, got)
	assert.Equal(t, model.ExtentRebuild, v.Extent(0).State)
	assert.False(t, v.HasHotspare())
}

func TestPromoteHotspareFailsWhenPoolEmpty(t *testing.T) {
	v := newTestVolume(t, model.Level1, 2)
	_, err := v.PromoteHotspare(0)
	assert.Error(t, err)
}
