package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// ModelSchema is the frozen field table produced by Registry.Register: the
// model's canonical name, its plural kebab-case form (used for the
// raw-file path, spec §3.2), and its ordered field list.
type ModelSchema struct {
	Name   string
	Plural string
	Fields []FieldDescriptor

	byName map[string]FieldDescriptor
}

// Field looks up a field descriptor by name.
func (m *ModelSchema) Field(name string) (FieldDescriptor, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Registry is the process-wide, populate-once schema registry (spec §4.1).
type Registry struct {
	mu     sync.RWMutex
	models map[string]*ModelSchema
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*ModelSchema)}
}

// Register produces and stores the frozen field table for modelName.
// Re-registration with an identical field set is a no-op (idempotent);
// re-registration with a different shape returns SchemaConflictError.
func (r *Registry) Register(modelName string, fields []FieldDescriptor) (*ModelSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[modelName]; ok {
		if sameShape(existing.Fields, fields) {
			return existing, nil
		}
		return nil, &SchemaConflictError{Model: modelName}
	}

	byName := make(map[string]FieldDescriptor, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	schema := &ModelSchema{
		Name:   modelName,
		Plural: pluralize(strings.TrimSuffix(kebabCase(modelName, modelName), "-model")),
		Fields: append([]FieldDescriptor(nil), fields...),
		byName: byName,
	}
	r.models[modelName] = schema
	return schema, nil
}

// Describe returns the frozen field table for modelName.
func (r *Registry) Describe(modelName string) (*ModelSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[modelName]
	if !ok {
		return nil, &UnknownModelError{Model: modelName}
	}
	return m, nil
}

// Models returns the canonical names of every registered model.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameShape(a, b []FieldDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	byName := make(map[string]FieldDescriptor, len(a))
	for _, f := range a {
		byName[f.Name] = f
	}
	for _, f := range b {
		if other, ok := byName[f.Name]; !ok || other != f {
			return false
		}
	}
	return true
}

// Validate checks data against the model's field table: unknown fields are
// rejected (strict), required fields must be present (computed fields are
// exempt from this check, a caller-supplied value for one is rejected, and
// Validate never fills them in), types must match, and string length
// bounds are enforced. Numeric input is coerced to float64 only when the
// target field type is TypeFloat (spec §4.1: "Type coercion is forbidden
// except numeric → float").
func (r *Registry) Validate(modelName string, data map[string]any) (map[string]any, error) {
	model, err := r.Describe(modelName)
	if err != nil {
		return nil, err
	}

	for key := range data {
		if key == "id" {
			continue
		}
		if _, ok := model.byName[key]; !ok {
			return nil, &ValidationError{Model: modelName, Field: key, Reason: "unknown field"}
		}
	}

	normalized := make(map[string]any, len(data))
	for _, f := range model.Fields {
		raw, present := data[f.Name]

		if f.Kind == KindAttribute && f.Computed {
			if present {
				return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "computed field cannot be set manually"}
			}
			continue
		}

		if !present {
			if f.Required {
				return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "required field is missing"}
			}
			continue
		}

		value, verr := validateFieldValue(modelName, f, raw)
		if verr != nil {
			return nil, verr
		}
		normalized[f.Name] = value
	}
	return normalized, nil
}

func validateFieldValue(modelName string, f FieldDescriptor, raw any) (any, error) {
	if f.Kind == KindRelation {
		if f.RelationKind.ToMany() {
			ids, ok := toStringSlice(raw)
			if !ok {
				return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "relation must be a set of ids"}
			}
			return ids, nil
		}
		id, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "relation must be a single id"}
		}
		return id, nil
	}

	switch f.Type {
	case TypeBool:
		v, ok := raw.(bool)
		if !ok {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be a bool"}
		}
		return v, nil
	case TypeInt:
		v, ok := toInt64(raw)
		if !ok {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be an int"}
		}
		return v, nil
	case TypeFloat:
		v, ok := toFloat64(raw)
		if !ok {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be a float"}
		}
		return v, nil
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be a string"}
		}
		if len(v) > f.MaxSize {
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: fmt.Sprintf("exceeds maximum size (%d)", f.MaxSize)}
		}
		return v, nil
	case TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be an RFC3339 timestamp"}
			}
			return parsed, nil
		default:
			return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "must be a timestamp"}
		}
	}
	return nil, &ValidationError{Model: modelName, Field: f.Name, Reason: "unsupported field type"}
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toStringSlice(raw any) ([]string, bool) {
	if ids, ok := raw.([]string); ok {
		return ids, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// Resolver looks up an already-serialized entity by model and id, used by
// Serialize to expand a relation one level deep.
type Resolver func(targetModel, id string) (map[string]any, bool)

// Serialize renders record (a committed entity's field values, plus "id")
// to a plain map in the model's canonical field order. Relations render as
// bare ids/id-sets unless expandRelations is true, in which case exactly
// one level of expansion is performed (spec §9 open question: deeper
// expansion under cycles is intentionally not attempted).
func (r *Registry) Serialize(modelName string, id string, record map[string]any, includeRelations, expandRelations bool, resolve Resolver) (map[string]any, error) {
	model, err := r.Describe(modelName)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(model.Fields)+2)
	out["id"] = id
	out["model_name"] = modelName

	for _, f := range model.Fields {
		if f.Kind == KindRelation {
			if !includeRelations {
				continue
			}
			value, present := record[f.Name]
			if !present {
				continue
			}
			out[f.Name] = serializeRelationValue(f, value, expandRelations, resolve)
			continue
		}
		if value, present := record[f.Name]; present {
			out[f.Name] = value
		}
	}
	return out, nil
}

func serializeRelationValue(f FieldDescriptor, value any, expand bool, resolve Resolver) any {
	if !f.RelationKind.ToMany() {
		id, _ := value.(string)
		if expand && resolve != nil && id != "" {
			if expanded, ok := resolve(f.TargetModel, id); ok {
				return expanded
			}
		}
		return id
	}

	ids, _ := value.([]string)
	if !expand || resolve == nil {
		return append([]string(nil), ids...)
	}
	expanded := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if rec, ok := resolve(f.TargetModel, id); ok {
			expanded = append(expanded, rec)
		}
	}
	return expanded
}

// kebabCase converts a CamelCase model name to kebab-case, e.g.
// "SurgeryType" → "surgery-type". original is used in place of name when
// name is empty.
func kebabCase(name, original string) string {
	if name == "" {
		name = original
	}
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// pluralize applies simple English pluralization rules to a kebab-case
// singular noun.
func pluralize(s string) string {
	if s == "" {
		return s
	}
	switch {
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "z"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	default:
		return s + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
