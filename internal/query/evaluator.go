// evaluator.go defines the GraphIndex boundary (SPEC_FULL.md §4.3.1): the
// incremental graph-pattern evaluator spec.md §1 assumes is available as an
// external library. No Cypher/GQL engine exists anywhere in the retrieved
// corpus, so this package exports the narrow interface a real one would
// implement, plus one concrete reference evaluator capable of running the
// seed test suite's single-label MATCH/RETURN pattern (spec.md §8 scenario
// a) and QueryJoin correlation. It is deliberately not a general Cypher
// engine.
package query

import (
	"strings"
	"sync"

	"github.com/drasi-project/drasi-server/internal/component"
)

// GraphIndex is the incremental evaluator boundary. Implementations apply
// one element at a time (insert/update/delete) and return the resulting
// delta to the query's declared output columns. A production deployment
// that needs full Cypher/GQL pattern matching implements this interface
// against a real evaluator library; the rest of the engine is agnostic to
// which implementation is plugged in.
type GraphIndex interface {
	// Apply incorporates one change and returns the resulting ResultDelta
	// against this index's declared output.
	Apply(ev component.ChangeEvent) component.ResultDelta
	// Snapshot returns the full current result set.
	Snapshot() []component.ResultRow
	// Rows returns the result set keyed by element id, the form the
	// persisted index stores so deletes and updates still resolve after a
	// restart. Restore seeds the index from such a snapshot, replacing any
	// current contents.
	Rows() map[string]component.ResultRow
	Restore(rows map[string]component.ResultRow)
}

// labelProjection is the reference GraphIndex: it matches nodes carrying a
// single declared label and projects a fixed set of properties, optionally
// aliased, e.g. `MATCH (i:Item) RETURN i.name AS name`. It ignores
// relations and multi-hop patterns entirely — those require a real
// Cypher/GQL engine per the package doc comment above.
type labelProjection struct {
	mu      sync.Mutex
	label   string
	columns []projectedColumn
	rows    map[string]component.ResultRow // keyed by element id
}

type projectedColumn struct {
	property string
	alias    string
}

// NewLabelProjectionIndex builds a GraphIndex that matches nodes labeled
// label and projects the given columns. columns maps source property name
// to output alias (e.g. {"name": "name"}).
func NewLabelProjectionIndex(label string, columns map[string]string) GraphIndex {
	cols := make([]projectedColumn, 0, len(columns))
	for prop, alias := range columns {
		cols = append(cols, projectedColumn{property: prop, alias: alias})
	}
	return &labelProjection{label: label, columns: cols, rows: make(map[string]component.ResultRow)}
}

func (idx *labelProjection) matches(el component.Element) bool {
	if el == nil {
		return false
	}
	for _, l := range el.ElementLabels() {
		if strings.EqualFold(l, idx.label) {
			return true
		}
	}
	return false
}

func (idx *labelProjection) project(el component.Element) component.ResultRow {
	node, ok := el.(*component.Node)
	row := component.ResultRow{}
	if !ok {
		return row
	}
	for _, c := range idx.columns {
		if v, found := node.Props.Get(c.property); found {
			row[c.alias] = v
		}
	}
	return row
}

func (idx *labelProjection) Apply(ev component.ChangeEvent) component.ResultDelta {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delta := component.ResultDelta{}
	switch ev.Kind {
	case component.Insert:
		if idx.matches(ev.After) {
			row := idx.project(ev.After)
			idx.rows[ev.After.ElementID()] = row
			delta.Added = append(delta.Added, row)
		}
	case component.Update:
		wasMatch := idx.matches(ev.Before)
		isMatch := idx.matches(ev.After)
		switch {
		case wasMatch && isMatch:
			row := idx.project(ev.After)
			idx.rows[ev.After.ElementID()] = row
			delta.Updated = append(delta.Updated, row)
		case !wasMatch && isMatch:
			row := idx.project(ev.After)
			idx.rows[ev.After.ElementID()] = row
			delta.Added = append(delta.Added, row)
		case wasMatch && !isMatch:
			id := ev.Before.ElementID()
			row := idx.rows[id]
			delete(idx.rows, id)
			delta.Deleted = append(delta.Deleted, row)
		}
	case component.Delete:
		if idx.matches(ev.Before) {
			id := ev.Before.ElementID()
			row := idx.rows[id]
			delete(idx.rows, id)
			delta.Deleted = append(delta.Deleted, row)
		}
	}
	return delta
}

func (idx *labelProjection) Snapshot() []component.ResultRow {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]component.ResultRow, 0, len(idx.rows))
	for _, row := range idx.rows {
		out = append(out, row)
	}
	return out
}

func (idx *labelProjection) Rows() map[string]component.ResultRow {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make(map[string]component.ResultRow, len(idx.rows))
	for id, row := range idx.rows {
		out[id] = row
	}
	return out
}

func (idx *labelProjection) Restore(rows map[string]component.ResultRow) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.rows = make(map[string]component.ResultRow, len(rows))
	for id, row := range rows {
		idx.rows[id] = row
	}
}
