// join.go materializes QueryJoin declarations (spec.md §3, §4.3 point 4):
// synthetic relations correlating events from multiple sources by hashing
// (label, property) -> keyed sets, without a physical relation existing in
// the data.
package query

import (
	"fmt"
	"sync"

	"github.com/drasi-project/drasi-server/internal/component"
)

// JoinKey names one side of a QueryJoin correlation: match elements
// carrying label with property prop.
type JoinKey struct {
	Label    string
	Property string
}

// Join is a QueryJoin declaration: two or more keyed sides that are
// correlated by equal property values.
type Join struct {
	ID   string
	Keys []JoinKey
}

// JoinIndex materializes one Join's synthetic relation. Each key side
// tracks the set of element ids currently holding each observed property
// value; when a value becomes present on every side, a synthetic relation
// insert is emitted for that value, and deleted again once any side's
// membership for that value is lost. The synthetic relation carries only
// an id built from the join id and the value plus a JOIN_<id> label; its
// FromID/ToID are empty and it does not list the matched element ids.
type JoinIndex struct {
	mu    sync.Mutex
	join  Join
	sides []map[interface{}]map[string]struct{} // per key: value -> set of element ids
	// emitted tracks, per matched value, whether a synthetic relation for
	// it is currently emitted (to avoid duplicate inserts/deletes).
	emitted map[interface{}]bool
}

// NewJoinIndex constructs a materializer for j.
func NewJoinIndex(j Join) *JoinIndex {
	sides := make([]map[interface{}]map[string]struct{}, len(j.Keys))
	for i := range sides {
		sides[i] = make(map[interface{}]map[string]struct{})
	}
	return &JoinIndex{join: j, sides: sides, emitted: make(map[interface{}]bool)}
}

// synthID formats the synthetic relation id for a matched value.
func (ji *JoinIndex) synthID(value interface{}) string {
	return fmt.Sprintf("join:%s:%v", ji.join.ID, value)
}

// Apply incorporates one change event and returns synthetic relation
// change events for any join values whose match-state flipped.
func (ji *JoinIndex) Apply(ev component.ChangeEvent) []component.ChangeEvent {
	ji.mu.Lock()
	defer ji.mu.Unlock()

	var out []component.ChangeEvent
	for sideIdx, key := range ji.join.Keys {
		switch ev.Kind {
		case component.Insert:
			ji.index(sideIdx, key, ev.After)
		case component.Delete:
			ji.unindex(sideIdx, key, ev.Before)
		case component.Update:
			ji.unindex(sideIdx, key, ev.Before)
			ji.index(sideIdx, key, ev.After)
		}
	}

	for value := range ji.allCandidateValues() {
		allMatch := true
		for _, side := range ji.sides {
			if len(side[value]) == 0 {
				allMatch = false
				break
			}
		}
		wasEmitted := ji.emitted[value]
		if allMatch && !wasEmitted {
			ji.emitted[value] = true
			out = append(out, ji.syntheticEvent(component.Insert, value))
		} else if !allMatch && wasEmitted {
			delete(ji.emitted, value)
			out = append(out, ji.syntheticEvent(component.Delete, value))
		}
	}
	return out
}

func (ji *JoinIndex) index(sideIdx int, key JoinKey, el component.Element) {
	if !hasLabel(el, key.Label) {
		return
	}
	node, ok := el.(*component.Node)
	if !ok {
		return
	}
	value, found := node.Props.Get(key.Property)
	if !found {
		return
	}
	set, ok := ji.sides[sideIdx][value]
	if !ok {
		set = make(map[string]struct{})
		ji.sides[sideIdx][value] = set
	}
	set[node.ID] = struct{}{}
}

func (ji *JoinIndex) unindex(sideIdx int, key JoinKey, el component.Element) {
	if el == nil || !hasLabel(el, key.Label) {
		return
	}
	node, ok := el.(*component.Node)
	if !ok {
		return
	}
	value, found := node.Props.Get(key.Property)
	if !found {
		return
	}
	if set, ok := ji.sides[sideIdx][value]; ok {
		delete(set, node.ID)
		if len(set) == 0 {
			delete(ji.sides[sideIdx], value)
		}
	}
}

func (ji *JoinIndex) allCandidateValues() map[interface{}]struct{} {
	values := make(map[interface{}]struct{})
	for _, side := range ji.sides {
		for v := range side {
			values[v] = struct{}{}
		}
	}
	for v := range ji.emitted {
		values[v] = struct{}{}
	}
	return values
}

func (ji *JoinIndex) syntheticEvent(kind component.ChangeEventKind, value interface{}) component.ChangeEvent {
	rel := &component.Relation{
		ID:     ji.synthID(value),
		Labels: []string{"JOIN_" + ji.join.ID},
	}
	ev := component.ChangeEvent{Kind: kind}
	if kind == component.Insert {
		ev.After = rel
	} else {
		ev.Before = rel
	}
	return ev
}

func hasLabel(el component.Element, label string) bool {
	if el == nil {
		return false
	}
	for _, l := range el.ElementLabels() {
		if l == label {
			return true
		}
	}
	return false
}
