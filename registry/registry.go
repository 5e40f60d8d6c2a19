// Package registry implements array assembly and the volume directory
// (spec.md §4.8): probing candidate devices against every metadata
// variant, grouping probes into arrays by UUID, and handing each
// group to the matching variant's InitMeta2Vol to produce a Volume
// (left in state NONE; assembly does not run the state evaluator).
// A Registry is the process-wide rwlock-guarded list of
// assembled volumes that control operations (spec.md §6) act against.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"helenraid.dev/hr/volume"
)

// Registry is the in-memory directory of assembled volumes, keyed by
// array UUID. Grounded on the disk watch controller's create/update/
// delete entity callbacks (disk_watch_controller.go), collapsed here
// into direct Register/Unregister calls since this package has no
// entity-store layer of its own to push events through.
type Registry struct {
	mu      sync.RWMutex
	volumes map[uuid.UUID]*volume.Volume
}

func New() *Registry {
	return &Registry{volumes: map[uuid.UUID]*volume.Volume{}}
}

// Register adds or replaces an assembled volume.
func (r *Registry) Register(id uuid.UUID, v *volume.Volume) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes[id] = v
}

// Unregister removes a volume, refusing while it is still open
// (spec.md §6's Stop semantics).
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.volumes[id]
	if !ok {
		return true
	}
	if v.OpenCount() > 0 {
		return false
	}
	delete(r.volumes, id)
	return true
}

// Get looks up a volume by array UUID.
func (r *Registry) Get(id uuid.UUID) (*volume.Volume, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.volumes[id]
	return v, ok
}

// List returns every registered volume, snapshot-ordered by UUID
// string for stable output.
func (r *Registry) List() []*volume.Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*volume.Volume, 0, len(r.volumes))
	for _, v := range r.volumes {
		out = append(out, v)
	}
	return out
}
