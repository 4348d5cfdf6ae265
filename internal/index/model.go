package index

import "sync"

// Model is the model_name → set<id> mapping. Every declared model must be
// pre-registered at startup so Count is O(1) and defined even when a model
// has zero entities (spec §4.2.2).
type Model struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// NewModel constructs a model index with sets for each of the given model
// names pre-created.
func NewModel(modelNames ...string) *Model {
	m := &Model{sets: make(map[string]map[string]struct{})}
	for _, name := range modelNames {
		m.sets[name] = make(map[string]struct{})
	}
	return m
}

// Register pre-creates an empty id set for modelName if it doesn't exist.
func (m *Model) Register(modelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[modelName]; !ok {
		m.sets[modelName] = make(map[string]struct{})
	}
}

// Add records id as belonging to modelName.
func (m *Model) Add(modelName, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[modelName]
	if !ok {
		set = make(map[string]struct{})
		m.sets[modelName] = set
	}
	set[id] = struct{}{}
}

// Remove drops id from modelName's set.
func (m *Model) Remove(modelName, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[modelName]; ok {
		delete(set, id)
	}
}

// Count returns the number of ids registered under modelName. Returns 0
// for a model that was pre-registered but has no entities, and 0 for a
// model that was never registered.
func (m *Model) Count(modelName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sets[modelName])
}

// IDs returns a snapshot of every id registered under modelName.
func (m *Model) IDs(modelName string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.sets[modelName]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Models returns the names of every registered model.
func (m *Model) Models() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sets))
	for name := range m.sets {
		names = append(names, name)
	}
	return names
}
