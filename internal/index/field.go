package index

import (
	"fmt"
	"sync"
)

// Field is the composite (model_name, field_name) → value → set<id>
// mapping used for indexed-field lookups and uniqueness checks. Entries
// are created lazily on Add and pruned on Remove (spec §4.2.3).
type Field struct {
	mu   sync.RWMutex
	keys map[string]map[any]map[string]struct{}
}

// NewField constructs an empty field index.
func NewField() *Field {
	return &Field{keys: make(map[string]map[any]map[string]struct{})}
}

func compositeKey(modelName, fieldName string) string {
	return modelName + "." + fieldName
}

// Add records that (modelName, fieldName) == value for id.
func (f *Field) Add(modelName, fieldName string, value any, id string) error {
	key, err := normalizeValue(value)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	composite := compositeKey(modelName, fieldName)
	byValue, ok := f.keys[composite]
	if !ok {
		byValue = make(map[any]map[string]struct{})
		f.keys[composite] = byValue
	}
	ids, ok := byValue[key]
	if !ok {
		ids = make(map[string]struct{})
		byValue[key] = ids
	}
	ids[id] = struct{}{}
	return nil
}

// Remove drops id from (modelName, fieldName) == value, pruning empty
// value entries and empty composite entries as it goes.
func (f *Field) Remove(modelName, fieldName string, value any, id string) {
	key, err := normalizeValue(value)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	composite := compositeKey(modelName, fieldName)
	byValue, ok := f.keys[composite]
	if !ok {
		return
	}
	ids, ok := byValue[key]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(byValue, key)
	}
	if len(byValue) == 0 {
		delete(f.keys, composite)
	}
}

// Update moves id from oldValue to newValue in a single call, pruning the
// old entry and lazily creating the new one.
func (f *Field) Update(modelName, fieldName string, oldValue, newValue any, id string) error {
	f.Remove(modelName, fieldName, oldValue, id)
	return f.Add(modelName, fieldName, newValue, id)
}

// Lookup returns the snapshot of ids where (modelName, fieldName) == value.
func (f *Field) Lookup(modelName, fieldName string, value any) ([]string, error) {
	key, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := f.keys[compositeKey(modelName, fieldName)][key]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

// normalizeValue rejects values that cannot serve as a Go map key
// (spec §4.2.3: "unhashable values are rejected at validation time").
// Slices (to-many relation values) are the only field values that reach
// here un-hashable; everything else the schema package produces — bool,
// int64, float64, string, time.Time — is already comparable.
func normalizeValue(value any) (any, error) {
	switch value.(type) {
	case []string, []any:
		return nil, fmt.Errorf("index: value of type %T is not hashable", value)
	default:
		return value, nil
	}
}
