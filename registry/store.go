package registry

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"helenraid.dev/hr/errs"
	"helenraid.dev/hr/model"
)

var volumesBucket = []byte("volumes")

// Snapshot is the small amount of per-array state worth remembering
// across a process restart so the next assembly pass can log what it
// expected to find, independent of what metadata.Native already
// persists on the member devices themselves.
type Snapshot struct {
	UUID        uuid.UUID
	Devname     string
	Level       model.Level
	Layout      model.Layout
	ExtentCount int
}

// Store is a bbolt-backed directory of array snapshots, one bucket
// holding one JSON document per array UUID — the same
// single-bucket-per-entity-kind, JSON-per-key shape as Warren's
// BoltStore (bbolt storage doc), adapted down to the one entity kind
// this engine's registry needs to remember.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) a bbolt database at path and
// ensures the volumes bucket exists.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errs.IO("registry: open snapshot store", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(volumesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.IO("registry: create volumes bucket", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save upserts one array's snapshot, keyed by its UUID.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return errs.InvalidArgument("registry: encode snapshot: " + err.Error())
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(volumesBucket).Put([]byte(snap.UUID.String()), buf)
	})
	if err != nil {
		return errs.IO("registry: save snapshot", err)
	}
	return nil
}

// Load retrieves one array's snapshot by UUID.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	var snap Snapshot
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(volumesBucket).Get([]byte(id.String()))
		if buf == nil {
			return nil
		}
		found = true
		return json.Unmarshal(buf, &snap)
	})
	if err != nil {
		return nil, errs.IO("registry: load snapshot", err)
	}
	if !found {
		return nil, errs.NotFound("registry: no snapshot for " + id.String())
	}
	return &snap, nil
}

// List returns every persisted snapshot, cursor-scanned in key order
// (the same full-bucket-scan shape the bbolt doc's ListNodes/
// ListServices operations describe).
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(volumesBucket).ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			out = append(out, snap)
			return nil
		})
	})
	if err != nil {
		return nil, errs.IO("registry: list snapshots", err)
	}
	return out, nil
}

// Delete removes one array's snapshot; idempotent, matching the bbolt
// doc's delete-is-idempotent convention.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(volumesBucket).Delete([]byte(id.String()))
	})
	if err != nil {
		return errs.IO("registry: delete snapshot", err)
	}
	return nil
}
