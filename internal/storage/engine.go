// Package storage implements the hybrid storage engine: an in-memory
// multi-index store (internal/index) fronted by create/update/delete/find
// operations, mirrored to a JSON-file-per-entity raw-file tree unless
// running in cold mode. Grounded on the teacher's pkg/storage bucket-per-
// kind persistence discipline and on original_source's IndexDatabase /
// RawFileHandler.
package storage

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/enamentis/modulo/internal/index"
	"github.com/enamentis/modulo/internal/logging"
	"github.com/enamentis/modulo/internal/metrics"
	"github.com/enamentis/modulo/internal/schema"
	"github.com/google/uuid"
)

// Config configures a new Engine.
type Config struct {
	// Root is the filesystem root under which the hsdb/ tree is created.
	Root string
	// ColdMode suppresses all file I/O while keeping indices live.
	ColdMode bool
	// MaxPrimarySize bounds the primary index to an LRU of this size;
	// 0 means unbounded.
	MaxPrimarySize int
	// RejectPileEnabled mirrors schema-rejected payloads to
	// hsdb/rejectpile/index for later inspection.
	RejectPileEnabled bool
}

// Engine is the storage engine: the single entry point for mutating and
// querying model entities. All index mutations are taken under mu; reads
// acquire only the sub-index's own lock.
type Engine struct {
	mu sync.Mutex

	registry   *schema.Registry
	primary    *index.Primary
	models     *index.Model
	fields     *index.Field
	relational *index.Relational
	rawfiles   *RawFileHandler

	coldMode          bool
	rejectPileEnabled bool

	quarantined bool
	quarantineErr error

	// rollbackHook lets tests force a rollback failure to exercise the
	// quarantine path; nil in production.
	rollbackHook func() error
}

// NewEngine constructs an engine over registry, pre-registering the model
// index for every name in modelNames (spec §4.2.2).
func NewEngine(registry *schema.Registry, modelNames []string, cfg Config) (*Engine, error) {
	e := &Engine{
		registry:          registry,
		models:            index.NewModel(modelNames...),
		fields:            index.NewField(),
		relational:        index.NewRelational(),
		coldMode:          cfg.ColdMode,
		rejectPileEnabled: cfg.RejectPileEnabled,
	}

	rawfiles, err := NewRawFileHandler(cfg.Root, cfg.ColdMode)
	if err != nil {
		return nil, err
	}
	e.rawfiles = rawfiles
	e.primary = index.NewPrimary(cfg.MaxPrimarySize, e.evictToRawFile)

	return e, nil
}

// evictToRawFile flushes an entity evicted from a bounded primary index
// to disk before it is dropped from memory (spec §4.2.1).
func (e *Engine) evictToRawFile(id string, entity index.Entity) {
	if e.coldMode {
		return
	}
	modelName, _ := entity["model_name"].(string)
	model, err := e.registry.Describe(modelName)
	if err != nil {
		return
	}
	if _, err := e.rawfiles.UpdateEntry(model.Plural, id, entity); err != nil {
		logging.WithComponent("storage").Warn().Err(err).Str("id", id).Msg("failed to flush evicted entity to disk")
	}
}

func (e *Engine) checkQuarantine() error {
	if e.quarantined {
		return &EngineQuarantined{Cause: e.quarantineErr}
	}
	return nil
}

// Create validates data against modelName's schema, assigns an id if
// absent, and inserts the entity into every applicable index, then
// persists it to disk unless the engine is cold (spec §4.3 create).
func (e *Engine) Create(modelName string, data map[string]any) (map[string]any, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EngineOperationDuration, "create")

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkQuarantine(); err != nil {
		metrics.EngineOperationsTotal.WithLabelValues("create", "quarantined").Inc()
		return nil, err
	}

	model, err := e.registry.Describe(modelName)
	if err != nil {
		metrics.EngineOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	normalized, err := e.registry.Validate(modelName, data)
	if err != nil {
		metrics.EngineOperationsTotal.WithLabelValues("create", "error").Inc()
		if e.rejectPileEnabled {
			_ = e.rawfiles.RejectEntry(model.Plural, rejectID(data), data, err.Error())
		}
		return nil, err
	}

	id, _ := data["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	if e.primary.Has(id) {
		metrics.EngineOperationsTotal.WithLabelValues("create", "conflict").Inc()
		return nil, &ConflictError{Model: modelName, ID: id}
	}

	for _, f := range model.Fields {
		if f.Kind != schema.KindAttribute || !f.Unique {
			continue
		}
		value, present := normalized[f.Name]
		if !present {
			continue
		}
		existing, lookupErr := e.fields.Lookup(modelName, f.Name, value)
		if lookupErr == nil && len(existing) > 0 {
			metrics.EngineOperationsTotal.WithLabelValues("create", "conflict").Inc()
			return nil, &ConflictError{Model: modelName, Field: f.Name, Reason: "unique constraint"}
		}
	}

	entity := make(map[string]any, len(normalized)+2)
	for k, v := range normalized {
		entity[k] = v
	}
	entity["id"] = id
	entity["model_name"] = modelName

	e.insertIndices(model, id, entity)

	if _, err := e.rawfiles.CreateEntry(model.Plural, id, entity); err != nil {
		if rbErr := e.rollback(func() error {
			e.removeIndices(model, id, entity)
			return nil
		}); rbErr != nil {
			e.quarantine(rbErr)
			metrics.EngineOperationsTotal.WithLabelValues("create", "quarantined").Inc()
			return nil, &EngineQuarantined{Cause: rbErr}
		}
		metrics.EngineOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, &PersistenceError{Path: model.Plural + "/" + id, Err: err}
	}

	metrics.EntitiesTotal.WithLabelValues(modelName).Set(float64(e.models.Count(modelName)))
	metrics.EngineOperationsTotal.WithLabelValues("create", "ok").Inc()
	return entity, nil
}

// Update applies patch to the entity with the given id, diff-driving
// index maintenance for changed indexed/unique fields and relations
// (spec §4.3 update).
func (e *Engine) Update(id string, patch map[string]any) (map[string]any, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EngineOperationDuration, "update")

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkQuarantine(); err != nil {
		metrics.EngineOperationsTotal.WithLabelValues("update", "quarantined").Inc()
		return nil, err
	}

	existing, ok := e.primary.Get(id)
	if !ok {
		metrics.EngineOperationsTotal.WithLabelValues("update", "not_found").Inc()
		return nil, &NotFoundError{ID: id}
	}
	modelName := existing["model_name"].(string)
	model, err := e.registry.Describe(modelName)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(existing))
	for k, v := range existing {
		if k == "id" || k == "model_name" {
			continue
		}
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	normalized, err := e.registry.Validate(modelName, merged)
	if err != nil {
		metrics.EngineOperationsTotal.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	updated := make(map[string]any, len(normalized)+2)
	for k, v := range normalized {
		updated[k] = v
	}
	updated["id"] = id
	updated["model_name"] = modelName

	for _, f := range model.Fields {
		if f.Kind != schema.KindAttribute || !f.Unique {
			continue
		}
		oldValue, oldOK := existing[f.Name]
		newValue, newOK := updated[f.Name]
		if !newOK || (oldOK && matchEquals(oldValue, newValue)) {
			continue
		}
		owners, lookupErr := e.fields.Lookup(modelName, f.Name, newValue)
		if lookupErr == nil {
			for _, owner := range owners {
				if owner != id {
					metrics.EngineOperationsTotal.WithLabelValues("update", "conflict").Inc()
					return nil, &ConflictError{Model: modelName, Field: f.Name, Reason: "unique constraint"}
				}
			}
		}
	}

	e.applyDiff(model, id, existing, updated)

	if _, err := e.rawfiles.UpdateEntry(model.Plural, id, updated); err != nil {
		if rbErr := e.rollback(func() error {
			e.applyDiff(model, id, updated, existing)
			return nil
		}); rbErr != nil {
			e.quarantine(rbErr)
			metrics.EngineOperationsTotal.WithLabelValues("update", "quarantined").Inc()
			return nil, &EngineQuarantined{Cause: rbErr}
		}
		metrics.EngineOperationsTotal.WithLabelValues("update", "error").Inc()
		return nil, &PersistenceError{Path: model.Plural + "/" + id, Err: err}
	}

	e.primary.Put(id, updated)
	metrics.EngineOperationsTotal.WithLabelValues("update", "ok").Inc()
	return updated, nil
}

// Delete removes the entity from every secondary index, then the primary
// index, then its raw file (spec §4.3 delete — primary removed last).
func (e *Engine) Delete(id string) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EngineOperationDuration, "delete")

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkQuarantine(); err != nil {
		return false, err
	}

	entity, ok := e.primary.Get(id)
	if !ok {
		return false, nil
	}
	modelName := entity["model_name"].(string)
	model, err := e.registry.Describe(modelName)
	if err != nil {
		return false, err
	}

	e.removeSecondaryIndices(model, id, entity)
	e.models.Remove(modelName, id)
	e.primary.Remove(id)

	if err := e.rawfiles.DeleteEntry(model.Plural, id); err != nil {
		if rbErr := e.rollback(func() error {
			e.insertIndices(model, id, entity)
			return nil
		}); rbErr != nil {
			e.quarantine(rbErr)
			metrics.EngineOperationsTotal.WithLabelValues("delete", "quarantined").Inc()
			return false, &EngineQuarantined{Cause: rbErr}
		}
		metrics.EngineOperationsTotal.WithLabelValues("delete", "error").Inc()
		return false, &PersistenceError{Path: model.Plural + "/" + id, Err: err}
	}

	metrics.EntitiesTotal.WithLabelValues(modelName).Set(float64(e.models.Count(modelName)))
	metrics.EngineOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return true, nil
}

// Get returns the entity with the given id, a local read with no write
// lock (spec §4.3: "read paths, local lock only").
func (e *Engine) Get(id string) (map[string]any, bool) {
	return e.primary.Get(id)
}

// GetAll returns every entity registered under modelName.
func (e *Engine) GetAll(modelName string) []map[string]any {
	ids := e.models.IDs(modelName)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if entity, ok := e.primary.Get(id); ok {
			out = append(out, entity)
		}
	}
	return out
}

// FindBy returns every entity of modelName where field == value, using
// the field index when available and falling back to a model-set scan
// otherwise.
func (e *Engine) FindBy(modelName, field string, value any) ([]map[string]any, error) {
	model, err := e.registry.Describe(modelName)
	if err != nil {
		return nil, err
	}
	if fd, ok := model.Field(field); ok && fd.Kind == schema.KindAttribute && (fd.Indexed || fd.Unique) {
		ids, err := e.fields.Lookup(modelName, field, value)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			if entity, ok := e.primary.Get(id); ok {
				out = append(out, entity)
			}
		}
		return out, nil
	}

	var out []map[string]any
	for _, entity := range e.GetAll(modelName) {
		if matchEquals(entity[field], value) {
			out = append(out, entity)
		}
	}
	return out, nil
}

// Count returns the number of entities registered under modelName.
func (e *Engine) Count(modelName string) int {
	return e.models.Count(modelName)
}

// Query returns a lazy, chainable query builder over modelName
// (spec §4.3.1).
func (e *Engine) Query(modelName string) *Query {
	return newQuery(e, modelName)
}

// Export dumps every registered model's entities as one JSON array per
// model into dir, or hsdb/exports when dir is empty (spec §6: "user-
// triggered dumps"). It returns the directory the files were written
// under.
func (e *Engine) Export(dir string) (string, error) {
	if err := e.checkQuarantine(); err != nil {
		return "", err
	}

	var written string
	for _, modelName := range e.models.Models() {
		path, err := e.rawfiles.Export(modelName, e.GetAll(modelName), dir)
		if err != nil {
			return "", &PersistenceError{Path: path, Err: err}
		}
		written = filepath.Dir(path)
	}
	if written == "" {
		written = dir
	}
	return written, nil
}

func rejectID(data map[string]any) string {
	if id, ok := data["id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func (e *Engine) insertIndices(model *schema.ModelSchema, id string, entity map[string]any) {
	e.models.Add(model.Name, id)
	e.primary.Put(id, entity)

	for _, f := range model.Fields {
		switch f.Kind {
		case schema.KindAttribute:
			if !f.Indexed && !f.Unique {
				continue
			}
			if value, ok := entity[f.Name]; ok {
				_ = e.fields.Add(model.Name, f.Name, value, id)
			}
		case schema.KindRelation:
			relationName := schema.RelationName(model.Name, f)
			linkRelation(e.relational, relationName, f, id, entity[f.Name])
		}
	}
}

func (e *Engine) removeIndices(model *schema.ModelSchema, id string, entity map[string]any) {
	e.removeSecondaryIndices(model, id, entity)
	e.models.Remove(model.Name, id)
	e.primary.Remove(id)
}

func (e *Engine) removeSecondaryIndices(model *schema.ModelSchema, id string, entity map[string]any) {
	for _, f := range model.Fields {
		switch f.Kind {
		case schema.KindAttribute:
			if !f.Indexed && !f.Unique {
				continue
			}
			if value, ok := entity[f.Name]; ok {
				e.fields.Remove(model.Name, f.Name, value, id)
			}
		case schema.KindRelation:
			relationName := schema.RelationName(model.Name, f)
			e.relational.RemoveEntity(relationName, f.RelationKind, id)
		}
	}
}

// applyDiff moves id's index entries from the "from" entity shape to the
// "to" shape, touching only fields that actually changed.
func (e *Engine) applyDiff(model *schema.ModelSchema, id string, from, to map[string]any) {
	for _, f := range model.Fields {
		switch f.Kind {
		case schema.KindAttribute:
			if !f.Indexed && !f.Unique {
				continue
			}
			oldValue, oldOK := from[f.Name]
			newValue, newOK := to[f.Name]
			if oldOK && newOK && matchEquals(oldValue, newValue) {
				continue
			}
			if oldOK {
				e.fields.Remove(model.Name, f.Name, oldValue, id)
			}
			if newOK {
				_ = e.fields.Add(model.Name, f.Name, newValue, id)
			}
		case schema.KindRelation:
			oldValue, oldOK := from[f.Name]
			newValue, newOK := to[f.Name]
			if oldOK && newOK && matchEquals(oldValue, newValue) {
				continue
			}
			relationName := schema.RelationName(model.Name, f)
			if oldOK {
				unlinkRelation(e.relational, relationName, f, id, oldValue)
			}
			if newOK {
				linkRelation(e.relational, relationName, f, id, newValue)
			}
		}
	}
}

func linkRelation(rel *index.Relational, relationName string, f schema.FieldDescriptor, id string, value any) {
	if f.RelationKind.ToMany() {
		ids, _ := value.([]string)
		for _, tgt := range ids {
			rel.Link(relationName, f.RelationKind, id, tgt)
		}
		return
	}
	if tgt, ok := value.(string); ok && tgt != "" {
		rel.Link(relationName, f.RelationKind, id, tgt)
	}
}

func unlinkRelation(rel *index.Relational, relationName string, f schema.FieldDescriptor, id string, value any) {
	if f.RelationKind.ToMany() {
		ids, _ := value.([]string)
		for _, tgt := range ids {
			rel.Unlink(relationName, f.RelationKind, id, tgt)
		}
		return
	}
	if tgt, ok := value.(string); ok && tgt != "" {
		rel.Unlink(relationName, f.RelationKind, id, tgt)
	}
}

func (e *Engine) rollback(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage: panic during rollback: %v", r)
		}
	}()
	if e.rollbackHook != nil {
		if hookErr := e.rollbackHook(); hookErr != nil {
			return hookErr
		}
	}
	return fn()
}

func (e *Engine) quarantine(cause error) {
	e.quarantined = true
	e.quarantineErr = cause
	logging.WithComponent("storage").Error().Err(cause).Msg("engine quarantined after failed rollback")
}

func matchEquals(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
