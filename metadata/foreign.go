package metadata

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/errs"
)

// synthesizeUUID derives a stable, deterministic UUID for formats
// whose member-grouping id is narrower than 128 bits (GEOM mirror's
// md_mid and GEOM stripe's md_all are both 32-bit), so that two
// candidates from the same array still compare equal under
// CompareUUIDs without this engine inventing a wider on-disk field
// than the format actually has.
func synthesizeUUID(namespace string, id uint32) uuid.UUID {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	return uuid.NewMD5(uuid.NameSpaceOID, append([]byte(namespace+":"), buf[:]...))
}

// foreignReadOnly is embedded by every recognized-but-not-owned format
// (MD, GEOM mirror, GEOM stripe, softraid). These variants can only be
// assembled read-only: the source's GEOM-mirror save was a silent
// no-op with hardcoded provider names (spec.md §9), which this engine
// treats as a bug rather than a feature — every foreign variant
// refuses mutation outright instead of pretending to have persisted
// it.
type foreignReadOnly struct{ variantName string }

func (f foreignReadOnly) InitVol2Meta(ctx context.Context, p VolumeParams) (*Decoded, error) {
	return nil, errs.NotSupported(f.variantName + ": cannot originate metadata, read-only format")
}

func (f foreignReadOnly) Save(ctx context.Context, dev blockdev.Device, d *Decoded, onFail ExtentFailFunc) error {
	return errs.NotSupported(f.variantName + ": read-only format, save refused")
}
