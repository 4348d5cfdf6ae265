package index

import (
	"sync"

	"github.com/enamentis/modulo/internal/schema"
)

// Relational is the relation_name → forward/inverse id-map mapping
// (spec §4.2.4). The shape of the forward/inverse maps depends on the
// relation's multiplicity:
//
//   - one-to-one:   forward single src→tgt,  inverse single tgt→src
//   - many-to-one:  forward single src→tgt,  inverse set    tgt→set<src>
//   - one-to-many:  forward set    src→set<tgt>, inverse single tgt→src
//   - many-to-many: forward set only, stored symmetrically for both ids;
//     there is no separate inverse map.
type Relational struct {
	mu      sync.RWMutex
	entries map[string]*relationEntry
}

type relationEntry struct {
	kind          schema.RelationKind
	forwardSingle map[string]string
	forwardSet    map[string]map[string]struct{}
	inverseSingle map[string]string
	inverseSet    map[string]map[string]struct{}
}

func newRelationEntry(kind schema.RelationKind) *relationEntry {
	return &relationEntry{
		kind:          kind,
		forwardSingle: make(map[string]string),
		forwardSet:    make(map[string]map[string]struct{}),
		inverseSingle: make(map[string]string),
		inverseSet:    make(map[string]map[string]struct{}),
	}
}

// NewRelational constructs an empty relational index.
func NewRelational() *Relational {
	return &Relational{entries: make(map[string]*relationEntry)}
}

func (r *Relational) entry(name string, kind schema.RelationKind) *relationEntry {
	e, ok := r.entries[name]
	if !ok {
		e = newRelationEntry(kind)
		r.entries[name] = e
	}
	return e
}

func addToSet(set map[string]map[string]struct{}, key, value string) {
	members, ok := set[key]
	if !ok {
		members = make(map[string]struct{})
		set[key] = members
	}
	members[value] = struct{}{}
}

func removeFromSet(set map[string]map[string]struct{}, key, value string) {
	members, ok := set[key]
	if !ok {
		return
	}
	delete(members, value)
	if len(members) == 0 {
		delete(set, key)
	}
}

// Link records that srcID relates to tgtID under relationName, updating
// forward and inverse together in a single critical section.
func (r *Relational) Link(relationName string, kind schema.RelationKind, srcID, tgtID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(relationName, kind)
	switch kind {
	case schema.OneToOne:
		e.forwardSingle[srcID] = tgtID
		e.inverseSingle[tgtID] = srcID
	case schema.ManyToOne:
		e.forwardSingle[srcID] = tgtID
		addToSet(e.inverseSet, tgtID, srcID)
	case schema.OneToMany:
		addToSet(e.forwardSet, srcID, tgtID)
		e.inverseSingle[tgtID] = srcID
	case schema.ManyToMany:
		addToSet(e.forwardSet, srcID, tgtID)
		addToSet(e.forwardSet, tgtID, srcID)
	}
}

// Unlink removes the srcID/tgtID association under relationName.
func (r *Relational) Unlink(relationName string, kind schema.RelationKind, srcID, tgtID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(relationName, kind)
	switch kind {
	case schema.OneToOne:
		if e.forwardSingle[srcID] == tgtID {
			delete(e.forwardSingle, srcID)
		}
		if e.inverseSingle[tgtID] == srcID {
			delete(e.inverseSingle, tgtID)
		}
	case schema.ManyToOne:
		if e.forwardSingle[srcID] == tgtID {
			delete(e.forwardSingle, srcID)
		}
		removeFromSet(e.inverseSet, tgtID, srcID)
	case schema.OneToMany:
		removeFromSet(e.forwardSet, srcID, tgtID)
		if e.inverseSingle[tgtID] == srcID {
			delete(e.inverseSingle, tgtID)
		}
	case schema.ManyToMany:
		removeFromSet(e.forwardSet, srcID, tgtID)
		removeFromSet(e.forwardSet, tgtID, srcID)
	}
}

// RemoveEntity drops id from every side of relationName, cleaning up its
// partners' entries so no dangling reference remains (spec §4.2.4:
// "removing an entity triggers removal from every relation it
// participates in").
func (r *Relational) RemoveEntity(relationName string, kind schema.RelationKind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[relationName]
	if !ok {
		return
	}

	switch kind {
	case schema.OneToOne:
		if tgt, ok := e.forwardSingle[id]; ok {
			delete(e.forwardSingle, id)
			delete(e.inverseSingle, tgt)
		}
		if src, ok := e.inverseSingle[id]; ok {
			delete(e.inverseSingle, id)
			delete(e.forwardSingle, src)
		}
	case schema.ManyToOne:
		if tgt, ok := e.forwardSingle[id]; ok {
			delete(e.forwardSingle, id)
			removeFromSet(e.inverseSet, tgt, id)
		}
		if set, ok := e.inverseSet[id]; ok {
			for src := range set {
				delete(e.forwardSingle, src)
			}
			delete(e.inverseSet, id)
		}
	case schema.OneToMany:
		if set, ok := e.forwardSet[id]; ok {
			for tgt := range set {
				delete(e.inverseSingle, tgt)
			}
			delete(e.forwardSet, id)
		}
		if src, ok := e.inverseSingle[id]; ok {
			delete(e.inverseSingle, id)
			removeFromSet(e.forwardSet, src, id)
		}
	case schema.ManyToMany:
		if set, ok := e.forwardSet[id]; ok {
			for other := range set {
				removeFromSet(e.forwardSet, other, id)
			}
			delete(e.forwardSet, id)
		}
	}
}

// ForwardOne returns the single target id that srcID points to, for
// one-to-one and many-to-one relations.
func (r *Relational) ForwardOne(relationName, srcID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[relationName]
	if !ok {
		return "", false
	}
	tgt, ok := e.forwardSingle[srcID]
	return tgt, ok
}

// ForwardMany returns the set of target ids that srcID points to, for
// one-to-many and many-to-many relations.
func (r *Relational) ForwardMany(relationName, srcID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[relationName]
	if !ok {
		return nil
	}
	return setToSlice(e.forwardSet[srcID])
}

// InverseOne returns the single source id that points to tgtID, for
// one-to-one and one-to-many relations.
func (r *Relational) InverseOne(relationName, tgtID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[relationName]
	if !ok {
		return "", false
	}
	src, ok := e.inverseSingle[tgtID]
	return src, ok
}

// InverseMany returns the set of source ids that point to tgtID, for
// many-to-one relations.
func (r *Relational) InverseMany(relationName, tgtID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[relationName]
	if !ok {
		return nil
	}
	return setToSlice(e.inverseSet[tgtID])
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
