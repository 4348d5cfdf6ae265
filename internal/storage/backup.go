package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Backup snapshots the entire primary index into a bbolt database file
// under hsdb/backups/index, one bucket per model, JSON-marshaled
// entities — the teacher's bucket-per-kind pattern (pkg/storage/boltdb.go)
// repurposed as a point-in-time export rather than the live store.
func (e *Engine) Backup(label string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.rawfiles.base(), "backups", "index", fmt.Sprintf("%s-%d.bolt", label, time.Now().UnixNano()))
	if e.coldMode {
		return path, nil
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return "", fmt.Errorf("storage: opening backup file: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		for _, modelName := range e.models.Models() {
			bucket, err := tx.CreateBucketIfNotExists([]byte(modelName))
			if err != nil {
				return err
			}
			for _, id := range e.models.IDs(modelName) {
				entity, ok := e.primary.Get(id)
				if !ok {
					continue
				}
				data, err := json.Marshal(entity)
				if err != nil {
					return err
				}
				if err := bucket.Put([]byte(id), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storage: writing backup: %w", err)
	}
	return path, nil
}

// RestoreFromBackup reads a bbolt backup file written by Backup and
// returns the entities it contains, grouped by model name. It does not
// mutate the engine's live index set — callers decide how to merge the
// result (used by tests and by future migration tooling).
func RestoreFromBackup(path string) (map[string][]map[string]any, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("storage: opening backup file: %w", err)
	}
	defer db.Close()

	out := make(map[string][]map[string]any)
	err = db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			modelName := string(name)
			return bucket.ForEach(func(_, value []byte) error {
				var entity map[string]any
				if err := json.Unmarshal(value, &entity); err != nil {
					return err
				}
				out[modelName] = append(out[modelName], entity)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: reading backup: %w", err)
	}
	return out, nil
}
