package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fsTree is the fixed directory layout every raw-file handler creates on
// first use (spec §4.3.2, §6).
var fsTree = []string{
	"index",
	"rawfiles",
	filepath.Join("backups", "index"),
	filepath.Join("backups", "migration"),
	filepath.Join("backups", "rawfiles"),
	"exports",
	filepath.Join("logs", "migrations"),
	"meta",
	filepath.Join("models", "adapters"),
	filepath.Join("dumps", "migrations"),
	"redundancy",
	filepath.Join("rejectpile", "index"),
	filepath.Join("rejectpile", "rawfiles"),
}

// RawFileHandler mirrors every entity mutation to a JSON file under the
// fixed hsdb/ directory tree. With coldMode set, every disk operation is
// skipped but the path that would have been written is still returned
// (spec §4.3.2).
type RawFileHandler struct {
	root     string
	coldMode bool
}

// NewRawFileHandler creates the fixed directory tree rooted at
// <root>/hsdb and returns a handler over it. When coldMode is true, no
// directories are created and no file is ever written.
func NewRawFileHandler(root string, coldMode bool) (*RawFileHandler, error) {
	h := &RawFileHandler{root: root, coldMode: coldMode}
	if coldMode {
		return h, nil
	}
	base := h.base()
	for _, dir := range fsTree {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating hsdb directory tree: %w", err)
		}
	}
	return h, nil
}

func (h *RawFileHandler) base() string {
	return filepath.Join(h.root, "hsdb")
}

// IndexPath returns the path an entity of the given plural model name and
// id would be written to under hsdb/index.
func (h *RawFileHandler) IndexPath(plural, id string) string {
	return filepath.Join(h.base(), "index", plural, id+".json")
}

// CreateEntry writes serialized to hsdb/index/<plural>/<id>.json. It
// refuses to overwrite an existing file — the engine guarantees the id is
// new before calling this.
func (h *RawFileHandler) CreateEntry(plural, id string, serialized map[string]any) (string, error) {
	path := h.IndexPath(plural, id)
	if h.coldMode {
		return path, nil
	}

	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("storage: raw file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, err
	}
	return path, writeJSON(path, serialized)
}

// UpdateEntry rewrites the entity's raw file. It attempts a
// write-to-temp-then-rename for atomicity; if the rename fails (e.g. the
// filesystem doesn't support it across the target), it falls back to an
// in-place overwrite — "last write wins" per spec §4.3.2.
func (h *RawFileHandler) UpdateEntry(plural, id string, serialized map[string]any) (string, error) {
	path := h.IndexPath(plural, id)
	if h.coldMode {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, err
	}

	tmp := path + ".tmp"
	if err := writeJSON(tmp, serialized); err != nil {
		return path, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return path, writeJSON(path, serialized)
	}
	return path, nil
}

// DeleteEntry removes the entity's raw file, if any.
func (h *RawFileHandler) DeleteEntry(plural, id string) error {
	if h.coldMode {
		return nil
	}
	err := os.Remove(h.IndexPath(plural, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RejectEntry mirrors a payload that failed schema validation to
// hsdb/rejectpile/index, alongside the validation reason, for later
// inspection. Only called when the engine is constructed with
// RejectPileEnabled.
func (h *RawFileHandler) RejectEntry(plural, id string, payload map[string]any, reason string) error {
	if h.coldMode {
		return nil
	}
	path := filepath.Join(h.base(), "rejectpile", "index", plural, id+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	record := map[string]any{
		"payload": payload,
		"reason":  reason,
	}
	return writeJSON(path, record)
}

// Export dumps entities as a single JSON array into destDir/modelName.json.
// An empty destDir defaults to hsdb/exports (spec §6: "user-triggered
// dumps").
func (h *RawFileHandler) Export(modelName string, entities []map[string]any, destDir string) (string, error) {
	if destDir == "" {
		destDir = filepath.Join(h.base(), "exports")
	}
	path := filepath.Join(destDir, modelName+".json")
	if h.coldMode {
		return path, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return path, err
	}
	return path, writeJSON(path, entities)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
