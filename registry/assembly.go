package registry

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/fge"
	"helenraid.dev/hr/metadata"
	"helenraid.dev/hr/volume"
)

// probeCacheSize bounds the assembler's per-device probe cache; a
// rescan of a host with more candidate devices than this simply
// re-probes the overflow rather than failing (spec.md §4.8 imposes no
// hard cap on candidate count).
const probeCacheSize = 256

// Candidate is one block device offered to assembly, paired with the
// service identity its owning Extent/Hotspare will carry once
// assembled.
type Candidate struct {
	ServiceID string
	Device    blockdev.Device
}

// Assembler groups probed candidates into arrays and builds a Volume
// per group (spec.md §4.8). Grounded on the disk watch controller's
// create/update reconciliation shape (disk_watch_controller.go),
// collapsed from its entity-event plumbing into a direct probe/group/
// build pipeline since this package owns no entity store of its own.
type Assembler struct {
	Log *slog.Logger

	// probeCache remembers each device's last successful decode by
	// service id, the same bounded-LRU shape
	// pkg/entity/cache.go uses to avoid re-deriving a schema document
	// on every lookup — here it avoids re-reading every candidate's
	// superblock on every rescan.
	probeCache *lru.Cache[string, probeResult]
}

type probeResult struct {
	variant metadata.Variant
	decoded *metadata.Decoded
}

func NewAssembler(log *slog.Logger) *Assembler {
	cache, _ := lru.New[string, probeResult](probeCacheSize)
	return &Assembler{
		Log:        log.With("module", "assembly"),
		probeCache: cache,
	}
}

// InvalidateProbe drops a cached probe, forcing the next Assemble call
// to re-read that device's superblock (used when a caller knows a
// device's content changed out from under the cache, e.g. after a
// reformat).
func (a *Assembler) InvalidateProbe(serviceID string) {
	a.probeCache.Remove(serviceID)
}

func (a *Assembler) probe(ctx context.Context, c Candidate) (probeResult, bool) {
	if r, ok := a.probeCache.Get(c.ServiceID); ok {
		return r, true
	}
	for _, variant := range metadata.AllVariants() {
		d, err := variant.Probe(ctx, c.Device)
		if err != nil {
			continue
		}
		r := probeResult{variant: variant, decoded: d}
		a.probeCache.Add(c.ServiceID, r)
		return r, true
	}
	return probeResult{}, false
}

type candidateGroup struct {
	variant metadata.Variant
	decoded []*metadata.Decoded
	members []Candidate
}

// Assemble probes every candidate, groups the ones that decode into a
// recognized superblock by array UUID (spec.md §4.8 steps 1-2), and
// builds one Volume per group via the owning variant's InitMeta2Vol
// (step 3). Candidates that fail every variant's Probe are skipped —
// they are either unformatted or foreign to this engine entirely.
// The state evaluator is not run here: each returned Volume is in
// state NONE, with the extent states InitMeta2Vol derived, and its
// CheckRange refuses I/O until an Evaluate has run.
func (a *Assembler) Assemble(ctx context.Context, candidates []Candidate, poolFibrils, poolWUs, poolSlotSize int) []*volume.Volume {
	var groups []*candidateGroup
	for _, c := range candidates {
		r, ok := a.probe(ctx, c)
		if !ok {
			continue
		}
		placed := false
		for _, g := range groups {
			if g.variant.Name() == r.variant.Name() && g.variant.CompareUUIDs(g.decoded[0], r.decoded) {
				g.decoded = append(g.decoded, r.decoded)
				g.members = append(g.members, c)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &candidateGroup{
				variant: r.variant,
				decoded: []*metadata.Decoded{r.decoded},
				members: []Candidate{c},
			})
		}
	}

	var out []*volume.Volume
	for _, g := range groups {
		assembled, err := g.variant.InitMeta2Vol(ctx, g.decoded)
		if err != nil {
			a.Log.Error("assembly failed", "variant", g.variant.Name(), "error", err)
			continue
		}

		primary := assembled.Primary
		extents := make([]*volume.Extent, primary.ExtentCount)
		for i := range extents {
			extents[i] = &volume.Extent{}
		}
		for i, d := range g.decoded {
			if d.Index < 0 || d.Index >= len(extents) {
				continue
			}
			extents[d.Index].Device = g.members[i].Device
			extents[d.Index].ServiceID = g.members[i].ServiceID
		}

		v := volume.New(a.Log, g.variant, primary, extents, assembled.States)
		if poolFibrils > 0 {
			v.Pool = fge.NewPool(poolFibrils, poolWUs, poolSlotSize)
		}
		out = append(out, v)
	}
	return out
}
