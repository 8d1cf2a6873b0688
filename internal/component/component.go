// Package component defines the capability-set interfaces shared by
// Source, ContinuousQuery and Reaction (spec.md §4.3) and the lifecycle
// state machine they all obey (spec.md §4.4).
//
// Polymorphism here follows spec.md §9's explicit guidance: a capability
// set (interface), not an inheritance hierarchy. The teacher's
// PluginHandler interface (internal/plugins/runtime.go) took the same
// shape — one interface, many concrete implementations behind dynamic
// dispatch, selected through the registry rather than a type switch.
package component

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
)

// Status is a component's lifecycle state (spec.md §4.4).
type Status int

const (
	Created Status = iota
	Starting
	Running
	Stopping
	Stopped
	Error
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// transitions enumerates the legal edges of spec.md §4.4's state graph.
// Any pair not listed here is rejected by StatusGuard.Transition.
var transitions = map[Status]map[Status]bool{
	Created:  {Starting: true},
	Starting: {Running: true, Error: true},
	Running:  {Stopping: true, Error: true},
	Stopping: {Stopped: true, Error: true},
	Stopped:  {Starting: true},
	// Error is terminal for the epoch; recovery is stop() then start()
	// (spec.md §4.4). The direct Starting edge additionally lets a caller
	// that already knows the component is quiescent skip the stop.
	Error: {Starting: true, Stopping: true},
}

// EventSink receives a ComponentEvent on every transition (spec.md §4.4:
// "must emit a ComponentEvent{status, message} before entering Error").
// internal/instance wires this to its ComponentEventHistory ring buffer.
type EventSink interface {
	EmitComponentEvent(componentID string, status Status, message string)
}

// LogHookAttacher is implemented by components that keep a scoped logger.
// The owning Instance attaches its ComponentLogRegistry hook through it
// right after registration, before the component starts, so every log
// line the component emits also lands in the per-component ring buffer
// (spec.md §4.7).
type LogHookAttacher interface {
	AttachLogHook(hook zerolog.Hook)
}

// StatusGuard serializes lifecycle transitions for one component behind a
// lock, per spec.md §5 ("component status is guarded by a per-component
// lock"). status() reads are eventually consistent, not guaranteed
// instantaneous across threads, matching spec.md §4.4.
type StatusGuard struct {
	mu          sync.Mutex
	componentID string
	current     Status
	sink        EventSink
}

// NewStatusGuard constructs a guard starting in Created.
func NewStatusGuard(componentID string, sink EventSink) *StatusGuard {
	return &StatusGuard{componentID: componentID, current: Created, sink: sink}
}

// Status returns the current status.
func (g *StatusGuard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Transition attempts to move to next, rejecting any edge not present in
// the state graph. message is attached to the emitted ComponentEvent; it
// is typically empty except for Error transitions.
func (g *StatusGuard) Transition(next Status, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if next == Error {
		// "* → Error" is legal from any state (spec.md §4.4 diagram).
		g.current = Error
		if g.sink != nil {
			g.sink.EmitComponentEvent(g.componentID, Error, message)
		}
		return nil
	}

	allowed, ok := transitions[g.current]
	if !ok || !allowed[next] {
		return apierrors.InvalidState("illegal transition " + g.current.String() + " -> " + next.String() + " for component " + g.componentID)
	}
	g.current = next
	if g.sink != nil {
		g.sink.EmitComponentEvent(g.componentID, next, message)
	}
	return nil
}

// ChangeEventKind tags a Change event variant (spec.md §3).
type ChangeEventKind int

const (
	Insert ChangeEventKind = iota
	Update
	Delete
)

// Element is implemented by Node and Relation.
type Element interface {
	ElementID() string
	ElementLabels() []string
}

// PropertyEntry is one ordered-map entry; Properties preserves declaration
// order across JSON/YAML round-trips per spec.md §3.
type PropertyEntry struct {
	Name  string
	Value interface{}
}

// Properties is an ordered map from property name to value.
type Properties []PropertyEntry

// Get returns the value for name and whether it was present.
func (p Properties) Get(name string) (interface{}, bool) {
	for _, e := range p {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Node is a graph node element.
type Node struct {
	ID            string
	Labels        []string
	Props         Properties
	EffectiveFrom int64
}

func (n *Node) ElementID() string       { return n.ID }
func (n *Node) ElementLabels() []string { return n.Labels }

// Relation is a graph relation (edge) element.
type Relation struct {
	ID            string
	Labels        []string
	FromID        string
	ToID          string
	Props         Properties
	EffectiveFrom int64
}

func (r *Relation) ElementID() string       { return r.ID }
func (r *Relation) ElementLabels() []string { return r.Labels }

// ChangeEvent is the tagged variant spec.md §3 describes: Insert(Element) |
// Update{before, after} | Delete(Element).
type ChangeEvent struct {
	Kind          ChangeEventKind
	Before        Element
	After         Element
	SourceID      string
	EffectiveFrom int64
}

// BootstrapEvent is always insert-only and strictly sequenced (spec.md §3).
type BootstrapEvent struct {
	SourceID string
	Change   ChangeEvent // Kind is always Insert
	Sequence uint64
}

// SubscriptionResponse is returned by Source.Subscribe (spec.md §4.3).
type SubscriptionResponse struct {
	LiveRx      <-chan ChangeEvent
	BootstrapRx <-chan BootstrapEvent // nil when bootstrap is unavailable/disabled
}

// SubscriptionSettings is SourceSubscriptionSettings from spec.md §3.
type SubscriptionSettings struct {
	QueryID             string
	SourceID            string
	NodeLabels          map[string]struct{}
	RelationLabels      map[string]struct{}
	Pipeline            []string
	BootstrapEnabled    bool
	BootstrapBufferSize int
}

// Source is the input side of the engine (spec.md §4.3).
type Source interface {
	ID() string
	Kind() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	Subscribe(settings SubscriptionSettings) (SubscriptionResponse, error)
	SetBootstrapProvider(provider BootstrapProvider)
}

// BootstrapProvider supplies a source's bootstrap stream, attached by the
// factory layer (spec.md §4.2) when a SourceConfig names bootstrapProvider.
type BootstrapProvider interface {
	ID() string
	Kind() string
	Bootstrap(settings SubscriptionSettings) (<-chan BootstrapEvent, error)
}

// ResultRow is one row of a QueryResultDelta (spec.md §3): a mapping from
// the query's declared output columns to values.
type ResultRow map[string]interface{}

// ResultDelta is {added, updated, deleted} rows, in order; applying them
// left-to-right to an empty set yields the current result set.
type ResultDelta struct {
	Added   []ResultRow
	Updated []ResultRow
	Deleted []ResultRow
}

// ContinuousQuery is the graph-pattern evaluator capability set (spec.md §4.3).
type ContinuousQuery interface {
	ID() string
	Status() Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AddSubscription(sourceID string, bootstrapRx <-chan BootstrapEvent, liveRx <-chan ChangeEvent) error
	CurrentResults() []ResultRow
	SubscribeResultDeltas() <-chan ResultDelta

	// FailSubscription marks the subscription to sourceID as failed — the
	// owning instance calls it when a subscribed source is removed or its
	// bootstrap stream closes prematurely. Only that subscription
	// transitions to Error; the query keeps running on its remaining
	// subscriptions (spec.md §8 boundary behavior).
	FailSubscription(sourceID, reason string)
}

// Reaction is the output side: consumes query result deltas, produces an
// external side effect (spec.md §4.3). Reactions never feed events back
// into the graph.
type Reaction interface {
	ID() string
	Kind() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	QueryIDs() []string

	// AttachQueryDeltas wires one subscribed query's result-delta stream
	// into the reaction. The owning Instance calls this once per id
	// returned by QueryIDs(), before Start, so the reaction's fan-in
	// loop (spawned by Start) has every source ready when it begins.
	AttachQueryDeltas(queryID string, deltas <-chan ResultDelta)
}
