package storage

import (
	"reflect"
	"sort"
	"strings"

	"github.com/enamentis/modulo/internal/metrics"
	"github.com/enamentis/modulo/internal/schema"
)

type predicateKind int

const (
	predEquals predicateKind = iota
	predIn
	predGT
	predGTE
	predLT
	predLTE
	predContains
)

type predicate struct {
	field string
	kind  predicateKind
	value any
	values []any
}

type orderRule struct {
	field     string
	ascending bool
}

// Query is a fluent, chainable, lazy query over one model. No index is
// touched until a terminal method (First/All/Count) is called
// (spec §4.3.1).
type Query struct {
	engine     *Engine
	modelName  string
	predicates []predicate
	pendingField string
	order      *orderRule
	limit      int
	offset     int
	hasLimit   bool
	anyMode    bool
}

func newQuery(e *Engine, modelName string) *Query {
	return &Query{engine: e, modelName: modelName}
}

// Where selects a field reference; the next comparison method
// (Equals/In/GT/...) attaches its predicate to this field.
func (q *Query) Where(field string) *Query {
	q.pendingField = field
	return q
}

func (q *Query) push(kind predicateKind, value any, values []any) *Query {
	q.predicates = append(q.predicates, predicate{field: q.pendingField, kind: kind, value: value, values: values})
	return q
}

// Equals accumulates an equality predicate on the field selected by Where.
func (q *Query) Equals(v any) *Query { return q.push(predEquals, v, nil) }

// In accumulates a set-membership predicate on the field selected by Where.
func (q *Query) In(vs []any) *Query { return q.push(predIn, nil, vs) }

// GT accumulates a greater-than predicate.
func (q *Query) GT(v any) *Query { return q.push(predGT, v, nil) }

// GTE accumulates a greater-than-or-equal predicate.
func (q *Query) GTE(v any) *Query { return q.push(predGTE, v, nil) }

// LT accumulates a less-than predicate.
func (q *Query) LT(v any) *Query { return q.push(predLT, v, nil) }

// LTE accumulates a less-than-or-equal predicate.
func (q *Query) LTE(v any) *Query { return q.push(predLTE, v, nil) }

// Contains accumulates a substring predicate, only meaningful for string
// fields.
func (q *Query) Contains(substr string) *Query { return q.push(predContains, substr, nil) }

// And is a no-op connective: predicates accumulated so far are already
// implicitly ANDed together. It exists for call-site readability,
// mirroring the fluent chain described in spec §4.3.1.
func (q *Query) And() *Query { return q }

// Or marks the query as matching if ANY accumulated predicate holds,
// rather than all of them.
func (q *Query) Or() *Query {
	q.anyMode = true
	return q
}

// OrderBy sorts results by field, ascending unless direction is "desc".
func (q *Query) OrderBy(field, direction string) *Query {
	q.order = &orderRule{field: field, ascending: !strings.EqualFold(direction, "desc")}
	return q
}

// Limit caps the number of results returned.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	q.hasLimit = true
	return q
}

// Offset skips the first n results before applying Limit.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// All executes the query and returns every matching entity in order.
func (q *Query) All() []map[string]any {
	candidates := q.candidateIDs()
	matched := make([]map[string]any, 0, len(candidates))
	for _, id := range candidates {
		entity, ok := q.engine.Get(id)
		if !ok {
			continue
		}
		if q.matches(entity) {
			matched = append(matched, entity)
		}
	}

	if q.order != nil {
		sortEntities(matched, q.order)
	}

	if q.offset > 0 {
		if q.offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.offset:]
		}
	}
	if q.hasLimit && q.limit < len(matched) {
		matched = matched[:q.limit]
	}

	metrics.QueryResultSize.Observe(float64(len(matched)))
	return matched
}

// First executes the query and returns the first matching entity, if any.
func (q *Query) First() (map[string]any, bool) {
	saved := q.hasLimit
	savedLimit := q.limit
	q.hasLimit = true
	q.limit = 1
	results := q.All()
	q.hasLimit = saved
	q.limit = savedLimit
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// Count executes the query and returns the number of matching entities.
func (q *Query) Count() int {
	return len(q.All())
}

// candidateIDs computes the execution plan: indexed equality predicates
// intersect their id sets first, everything else scans the model set
// (spec §4.3.1). An Or query always scans the model set.
func (q *Query) candidateIDs() []string {
	model, err := q.engine.registry.Describe(q.modelName)
	if err != nil {
		return nil
	}
	if q.anyMode {
		return q.engine.models.IDs(q.modelName)
	}

	var indexed []string
	haveIndexed := false
	for _, p := range q.predicates {
		if p.kind != predEquals {
			continue
		}
		fd, ok := model.Field(p.field)
		if !ok || fd.Kind != schema.KindAttribute || !fd.Indexed {
			continue
		}
		ids, err := q.engine.fields.Lookup(q.modelName, p.field, p.value)
		if err != nil {
			continue
		}
		if !haveIndexed {
			indexed = ids
			haveIndexed = true
			continue
		}
		indexed = intersect(indexed, ids)
	}

	if haveIndexed {
		return indexed
	}
	return q.engine.models.IDs(q.modelName)
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range b {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (q *Query) matches(entity map[string]any) bool {
	if len(q.predicates) == 0 {
		return true
	}
	if q.anyMode {
		for _, p := range q.predicates {
			if evalPredicate(entity[p.field], p) {
				return true
			}
		}
		return false
	}
	for _, p := range q.predicates {
		if !evalPredicate(entity[p.field], p) {
			return false
		}
	}
	return true
}

func evalPredicate(fieldValue any, p predicate) bool {
	switch p.kind {
	case predEquals:
		return reflect.DeepEqual(fieldValue, p.value)
	case predIn:
		for _, v := range p.values {
			if reflect.DeepEqual(fieldValue, v) {
				return true
			}
		}
		return false
	case predGT:
		return compare(fieldValue, p.value) > 0
	case predGTE:
		return compare(fieldValue, p.value) >= 0
	case predLT:
		return compare(fieldValue, p.value) < 0
	case predLTE:
		return compare(fieldValue, p.value) <= 0
	case predContains:
		s, _ := fieldValue.(string)
		substr, _ := p.value.(string)
		return strings.Contains(s, substr)
	}
	return false
}

// compare orders two field values of matching dynamic type: string,
// int64, float64, or time.Time (via its Unix nanoseconds); a float64 also
// orders against an int64. Mismatched or unorderable types compare equal,
// so they never satisfy a strict inequality.
func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		return strings.Compare(av, bv)
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv, ok := toFloatForCompare(b)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}

	if tv, ok := a.(interface{ UnixNano() int64 }); ok {
		if ov, ok := b.(interface{ UnixNano() int64 }); ok {
			switch {
			case tv.UnixNano() < ov.UnixNano():
				return -1
			case tv.UnixNano() > ov.UnixNano():
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func toFloatForCompare(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func sortEntities(entities []map[string]any, rule *orderRule) {
	sort.SliceStable(entities, func(i, j int) bool {
		cmp := compare(entities[i][rule.field], entities[j][rule.field])
		if rule.ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}
