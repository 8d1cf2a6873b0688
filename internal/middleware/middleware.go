// Package middleware implements the per-subscription change-event pipeline
// named by SourceSubscriptionSettings (spec.md §3): an ordered sequence of
// middleware ids, each resolving to a transform applied to every change
// event between the source's dispatcher and the query's evaluator.
//
// The registry follows the same shape as internal/registry: an RWMutex-
// guarded map, last registration wins, and a lookup miss enumerates the
// registered ids alphabetically.
package middleware

import (
	"sort"
	"strings"
	"sync"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
)

// Middleware transforms one change event. Returning false drops the event
// from the pipeline entirely; later stages never see it.
type Middleware interface {
	ID() string
	Apply(ev component.ChangeEvent) (component.ChangeEvent, bool)
}

// Registry maps middleware id to its implementation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Middleware
}

// NewRegistry constructs a registry pre-populated with the built-in
// middlewares, so pipeline declarations in a config file resolve without
// any explicit registration step.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Middleware)}
	r.Register(nodesOnly{})
	r.Register(relationsOnly{})
	r.Register(skipDeletes{})
	return r
}

// Register inserts m keyed by m.ID(), last registration wins.
func (r *Registry) Register(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m.ID()] = m
}

// Resolve maps each id of pipeline to its registered Middleware, in order.
// An unknown id fails with an InvalidConfig error naming the id and
// enumerating the registered ids alphabetically.
func (r *Registry) Resolve(pipeline []string) ([]Middleware, error) {
	if len(pipeline) == 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Middleware, 0, len(pipeline))
	for _, id := range pipeline {
		m, ok := r.entries[id]
		if !ok {
			ids := make([]string, 0, len(r.entries))
			for k := range r.entries {
				ids = append(ids, k)
			}
			sort.Strings(ids)
			return nil, apierrors.InvalidConfig("unknown middleware " + id + " in pipeline, available: " + strings.Join(ids, ", "))
		}
		out = append(out, m)
	}
	return out, nil
}

// List returns the registered middleware ids, alphabetically sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for k := range r.entries {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Run pushes ev through the pipeline in order. The boolean is false when
// any stage dropped the event.
func Run(pipeline []Middleware, ev component.ChangeEvent) (component.ChangeEvent, bool) {
	for _, m := range pipeline {
		var keep bool
		ev, keep = m.Apply(ev)
		if !keep {
			return component.ChangeEvent{}, false
		}
	}
	return ev, true
}

func eventElement(ev component.ChangeEvent) component.Element {
	if ev.After != nil {
		return ev.After
	}
	return ev.Before
}

// nodesOnly drops every event whose element is not a Node.
type nodesOnly struct{}

func (nodesOnly) ID() string { return "nodes-only" }
func (nodesOnly) Apply(ev component.ChangeEvent) (component.ChangeEvent, bool) {
	_, ok := eventElement(ev).(*component.Node)
	return ev, ok
}

// relationsOnly drops every event whose element is not a Relation.
type relationsOnly struct{}

func (relationsOnly) ID() string { return "relations-only" }
func (relationsOnly) Apply(ev component.ChangeEvent) (component.ChangeEvent, bool) {
	_, ok := eventElement(ev).(*component.Relation)
	return ev, ok
}

// skipDeletes drops Delete events, for queries that only accumulate.
type skipDeletes struct{}

func (skipDeletes) ID() string { return "skip-deletes" }
func (skipDeletes) Apply(ev component.ChangeEvent) (component.ChangeEvent, bool) {
	return ev, ev.Kind != component.Delete
}
