package schema

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fieldManifest is the on-disk shape of one field inside a model manifest
// file, independent of FieldDescriptor's Go field names so the emitted
// JSON stays snake_case like every other file under hsdb/.
type fieldManifest struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Type         string `json:"type,omitempty"`
	Computed     bool   `json:"computed,omitempty"`
	Searchable   bool   `json:"searchable,omitempty"`
	Unique       bool   `json:"unique,omitempty"`
	MaxSize      int    `json:"max_size,omitempty"`
	RelationKind string `json:"relation_kind,omitempty"`
	TargetModel  string `json:"target_model,omitempty"`
	Required     bool   `json:"required,omitempty"`
	Editable     bool   `json:"editable,omitempty"`
	Indexed      bool   `json:"indexed,omitempty"`
}

type modelManifest struct {
	ModelName string          `json:"model_name"`
	Plural    string          `json:"plural"`
	Fields    []fieldManifest `json:"fields"`
}

func toManifest(m *ModelSchema) modelManifest {
	fields := make([]fieldManifest, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = fieldManifest{
			Name:         f.Name,
			Kind:         f.Kind,
			Type:         string(f.Type),
			Computed:     f.Computed,
			Searchable:   f.Searchable,
			Unique:       f.Unique,
			MaxSize:      f.MaxSize,
			RelationKind: string(f.RelationKind),
			TargetModel:  f.TargetModel,
			Required:     f.Required,
			Editable:     f.Editable,
			Indexed:      f.Indexed,
		}
	}
	return modelManifest{ModelName: m.Name, Plural: m.Plural, Fields: fields}
}

// Snapshot renders every registered model's field table as a JSON manifest
// under dir (the caller passes hsdb/models/adapters, per spec §6's fixed
// directory list, which names the bucket but — per original_source's
// RawFileStructure.py — never wires an operation to populate it).
func (r *Registry) Snapshot(dir string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, model := range r.models {
		data, err := json.MarshalIndent(toManifest(model), "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Watch starts an fsnotify watch on dir and re-registers any model whose
// manifest file is written or changed by another process sharing the same
// hsdb tree. It is additive: a single-process unit never needs to call it,
// since Register already covers in-process schema declaration. The
// returned stop function closes the watcher; Watch itself runs its loop in
// a background goroutine and reports each reload's outcome, failures
// included, through onReload rather than returning them, since a malformed
// manifest from a peer process must not take down the watching unit.
// Errors from the watcher itself are discarded.
func (r *Registry) Watch(dir string, onReload func(modelName string, err error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				modelName, reloadErr := r.reloadManifest(event.Name)
				if onReload != nil {
					onReload(modelName, reloadErr)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}

func (r *Registry) reloadManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var manifest modelManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", err
	}

	fields := make([]FieldDescriptor, len(manifest.Fields))
	for i, f := range manifest.Fields {
		fields[i] = FieldDescriptor{
			Name:         f.Name,
			Kind:         f.Kind,
			Type:         AttributeType(f.Type),
			Computed:     f.Computed,
			Searchable:   f.Searchable,
			Unique:       f.Unique,
			MaxSize:      f.MaxSize,
			RelationKind: RelationKind(f.RelationKind),
			TargetModel:  f.TargetModel,
			Required:     f.Required,
			Editable:     f.Editable,
			Indexed:      f.Indexed,
		}
	}

	if _, err := r.Register(manifest.ModelName, fields); err != nil {
		return manifest.ModelName, err
	}
	return manifest.ModelName, nil
}
