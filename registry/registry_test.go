package registry

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/model"
	"helenraid.dev/hr/volume"
)

func writeNativeMember(t *testing.T, id uuid.UUID, idx, n int, dataBlocks int64) *blockdev.Memory {
	t.Helper()
	dev := blockdev.NewMemory(dataBlocks+10, 512)
	native := metadata.Native{}
	d, err := native.InitVol2Meta(context.Background(), metadata.VolumeParams{
		UUID: id, Level: model.Level1, Layout: model.LayoutNone,
		BlockSize: 512, StripSize: 512, DataBlocks: dataBlocks,
		TruncatedBlocks: dataBlocks, ExtentCount: n, Index: idx,
	})
	require.NoError(t, err)
	require.NoError(t, native.Save(context.Background(), dev, d, nil))
	return dev
}

func TestAssembleGroupsCandidatesByUUID(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	id := uuid.New()

	dev0 := writeNativeMember(t, id, 0, 2, 1000)
	dev1 := writeNativeMember(t, id, 1, 2, 1000)
	otherID := uuid.New()
	dev2 := writeNativeMember(t, otherID, 0, 1, 500)

	a := NewAssembler(log)
	candidates := []Candidate{
		{ServiceID: "a", Device: dev0},
		{ServiceID: "b", Device: dev1},
		{ServiceID: "c", Device: dev2},
	}
	vols := a.Assemble(context.Background(), candidates, 0, 0, 0)
	require.Len(t, vols, 2)

	var twoExtent, oneExtent int
	for _, v := range vols {
		switch v.ExtentCount() {
		case 2:
			twoExtent++
		case 1:
			oneExtent++
		}
	}
	assert.Equal(t, 1, twoExtent)
	assert.Equal(t, 1, oneExtent)
}

func TestAssembleSkipsUnrecognizedDevice(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	blank := blockdev.NewMemory(100, 512)

	a := NewAssembler(log)
	vols := a.Assemble(context.Background(), []Candidate{{ServiceID: "x", Device: blank}}, 0, 0, 0)
	assert.Empty(t, vols)
}

func TestAssembleCachesProbeAcrossRescans(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	id := uuid.New()
	dev := writeNativeMember(t, id, 0, 1, 500)

	a := NewAssembler(log)
	candidates := []Candidate{{ServiceID: "a", Device: dev}}
	first := a.Assemble(context.Background(), candidates, 0, 0, 0)
	require.Len(t, first, 1)

	// Corrupt the on-disk superblock directly; a cached probe should
	// still let the second Assemble call succeed from memory.
	raw := make([]byte, 512)
	require.NoError(t, dev.WriteAt(context.Background(), 509, raw))

	second := a.Assemble(context.Background(), candidates, 0, 0, 0)
	require.Len(t, second, 1)
}

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := New()
	id := uuid.New()
	v, _ := newTestVolume(t, id)
	r.Register(id, v)

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, v, got)

	assert.Len(t, r.List(), 1)

	v.Open()
	assert.False(t, r.Unregister(id))
	v.Close()
	assert.True(t, r.Unregister(id))

	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestStoreSaveLoadListDelete(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenStore(filepath.Join(dir, "snap.db"))
	require.NoError(t, err)
	defer st.Close()

	id := uuid.New()
	snap := Snapshot{UUID: id, Devname: "md0", Level: model.Level5, Layout: model.LayoutRAID5_NR, ExtentCount: 4}
	require.NoError(t, st.Save(context.Background(), snap))

	got, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)

	all, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.Delete(context.Background(), id))
	_, err = st.Load(context.Background(), id)
	assert.Error(t, err)
}

func TestStoreLoadMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenStore(filepath.Join(dir, "snap.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Load(context.Background(), uuid.New())
	assert.Error(t, err)
}

func newTestVolume(t *testing.T, id uuid.UUID) (*volume.Volume, *blockdev.Memory) {
	t.Helper()
	dev := writeNativeMember(t, id, 0, 1, 200)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	native := metadata.Native{}
	d, err := native.Probe(context.Background(), dev)
	require.NoError(t, err)
	assembled, err := native.InitMeta2Vol(context.Background(), []*metadata.Decoded{d})
	require.NoError(t, err)
	extents := []*volume.Extent{{ServiceID: "a", Device: dev}}
	v := volume.New(log, native, assembled.Primary, extents, assembled.States)
	return v, dev
}
