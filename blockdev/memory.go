package blockdev

import (
	"context"
	"sync"

	"helenraid.dev/hr/errs"
)

// Memory is an in-memory block device for tests — the stand-in for the
// out-of-scope block-layer driver, the same way the teacher lineage
// drives its segment-access tests against a fake in-process disk
// rather than real storage.
type Memory struct {
	mu        sync.Mutex
	data      []byte
	blockSize int

	// Failing, when true, makes every ReadAt/WriteAt return the
	// configured error — used to simulate a FAILED or MISSING extent
	// without tearing down the fixture.
	Failing  bool
	FailErr  error
	syncs    int
	writes   int
	reads    int
}

// NewMemory creates a fake device of numBlocks blocks of blockSize
// bytes each, zero-filled.
func NewMemory(numBlocks int64, blockSize int) *Memory {
	return &Memory{
		data:      make([]byte, numBlocks*int64(blockSize)),
		blockSize: blockSize,
		FailErr:   errs.IO("memory device", nil),
	}
}

func (m *Memory) ReadAt(ctx context.Context, ba int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.Failing {
		return m.FailErr
	}
	off := ba * int64(m.blockSize)
	if off < 0 || off+int64(len(buf)) > int64(len(m.data)) {
		return errs.Range("read past end of device")
	}
	copy(buf, m.data[off:off+int64(len(buf))])
	return nil
}

func (m *Memory) WriteAt(ctx context.Context, ba int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.Failing {
		return m.FailErr
	}
	off := ba * int64(m.blockSize)
	if off < 0 || off+int64(len(buf)) > int64(len(m.data)) {
		return errs.Range("write past end of device")
	}
	copy(m.data[off:off+int64(len(buf))], buf)
	return nil
}

func (m *Memory) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	if m.Failing {
		return m.FailErr
	}
	return nil
}

func (m *Memory) BlockSize() int { return m.blockSize }

func (m *Memory) NumBlocks() int64 { return int64(len(m.data)) / int64(m.blockSize) }

// Snapshot returns a copy of the device's raw bytes, for assertions
// comparing extent contents in tests.
func (m *Memory) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Counters reports how many times each operation has been called, for
// tests asserting on fan-out (e.g. a whole-device sync hits every
// member).
func (m *Memory) Counters() (reads, writes, syncs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes, m.syncs
}
