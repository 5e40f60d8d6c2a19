package volume

import (
	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

// CheckRange validates a client request against the volume's
// data-block bound and liveness (spec.md §6): ba+cnt must not exceed
// DataBlocks, and the volume must not be FAULTY or NONE.
func (v *Volume) CheckRange(ba, cnt int64) error {
	if ba < 0 || cnt < 0 || ba+cnt > v.DataBlocks {
		return errs.Range("block address out of range")
	}
	switch v.State() {
	case model.VolumeFaulty, model.VolumeNone:
		return errs.IO("volume", nil)
	}
	return nil
}

// CheckWritable additionally refuses a write with NotSupported if the
// READ_ONLY flag is set (spec.md §6).
func (v *Volume) CheckWritable(ba, cnt int64) error {
	if err := v.CheckRange(ba, cnt); err != nil {
		return err
	}
	if v.Flags.Has(model.FlagReadOnly) {
		return errs.NotSupported("volume is read-only")
	}
	return nil
}

// GetBlockSize and GetNumBlocks implement the remaining two methods
// of the block-device contract (spec.md §6).
func (v *Volume) GetBlockSize() int64 { return v.BlockSize }
func (v *Volume) GetNumBlocks() int64 { return v.DataBlocks }
