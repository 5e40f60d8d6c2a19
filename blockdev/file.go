package blockdev

import (
	"context"
	"os"

	"helenraid.dev/hr/errs"
)

// File is a block device backed by a regular file or raw device node,
// the stand-in this module ships for the block-layer driver
// segment_access.go leaves external: that package hands *os.File
// straight to its Volume.NewSegment rather than wrapping it, the same
// "the file is the device" shape this type gives the RAID engine.
type File struct {
	f         *os.File
	blockSize int
	numBlocks int64
}

// OpenFile opens path (created if absent) and sizes it to
// numBlocks*blockSize bytes if it is smaller, so a freshly created
// backing file is usable immediately. numBlocks <= 0 means "use
// whatever the file is already sized to", for opening an existing
// array member without knowing its capacity up front.
func OpenFile(path string, numBlocks int64, blockSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errs.IO("blockdev: open "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.IO("blockdev: stat "+path, err)
	}

	if numBlocks <= 0 {
		numBlocks = info.Size() / int64(blockSize)
	} else if want := numBlocks * int64(blockSize); info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, errs.IO("blockdev: truncate "+path, err)
		}
	}
	return &File{f: f, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func (d *File) ReadAt(ctx context.Context, ba int64, buf []byte) error {
	_, err := d.f.ReadAt(buf, ba*int64(d.blockSize))
	if err != nil {
		return errs.IO("blockdev: read", err)
	}
	return nil
}

func (d *File) WriteAt(ctx context.Context, ba int64, buf []byte) error {
	_, err := d.f.WriteAt(buf, ba*int64(d.blockSize))
	if err != nil {
		return errs.IO("blockdev: write", err)
	}
	return nil
}

func (d *File) Sync(ctx context.Context) error {
	if err := d.f.Sync(); err != nil {
		return errs.IO("blockdev: sync", err)
	}
	return nil
}

func (d *File) BlockSize() int   { return d.blockSize }
func (d *File) NumBlocks() int64 { return d.numBlocks }
func (d *File) Close() error     { return d.f.Close() }
