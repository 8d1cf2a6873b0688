// Package grpcstub provides source and reaction kinds for transports the
// example corpus has no real client library for: "grpc", "grpc-adaptive",
// "mssql", "storedproc-mysql" and "storedproc-mssql". Each is an
// in-memory-queue-backed stand-in that records delivered deltas (or
// replays injected change events) for inspection rather than dialing a
// real endpoint or driver, so the registry can still enumerate and
// exercise these kinds end-to-end.
//
// No suitable library exists anywhere in the example pack for any of
// these five transports (no gRPC stubs, no MSSQL driver); per the
// grounding ledger these are deliberately built on a queue rather than
// fabricating a dependency that was never observed in the corpus.
package grpcstub

import (
	"context"
	"sync"

	"github.com/drasi-project/drasi-server/internal/component"
)

// Descriptor constructs a Reaction for one of the stub kinds named above.
type Descriptor struct {
	StubKind string
}

func (d Descriptor) Kind() string            { return d.StubKind }
func (Descriptor) ConfigVersion() int       { return 1 }
func (d Descriptor) ConfigSchemaName() string { return d.StubKind + "ReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (d Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	return NewReaction(id, d.StubKind, queryIDs), nil
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Delivery is one delta recorded by a Reaction's in-memory queue.
type Delivery struct {
	QueryID string
	Delta   component.ResultDelta
}

// Reaction queues every delta from its attached queries instead of
// dispatching it over a real connection.
type Reaction struct {
	id       string
	kind     string
	queryIDs []string
	guard    *component.StatusGuard

	mu        sync.Mutex
	attached  []attachedQuery
	delivered []Delivery
	cancel    context.CancelFunc
}

func NewReaction(id, kind string, queryIDs []string) *Reaction {
	return &Reaction{id: id, kind: kind, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil)}
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return r.kind }
func (r *Reaction) Status() component.Status { return r.guard.Status() }
func (r *Reaction) QueryIDs() []string       { return r.queryIDs }

func (r *Reaction) AttachQueryDeltas(queryID string, deltas <-chan component.ResultDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, attachedQuery{queryID: queryID, deltas: deltas})
}

func (r *Reaction) Start(ctx context.Context) error {
	if err := r.guard.Transition(component.Starting, ""); err != nil {
		return err
	}
	r.mu.Lock()
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	attached := append([]attachedQuery(nil), r.attached...)
	r.mu.Unlock()

	for _, a := range attached {
		go func(a attachedQuery) {
			for {
				select {
				case delta, ok := <-a.deltas:
					if !ok {
						return
					}
					r.mu.Lock()
					r.delivered = append(r.delivered, Delivery{QueryID: a.queryID, Delta: delta})
					r.mu.Unlock()
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

// Delivered returns every delta queued so far, for control-plane
// inspection or tests.
func (r *Reaction) Delivered() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.delivered...)
}

func (r *Reaction) Stop(ctx context.Context) error {
	if err := r.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	return r.guard.Transition(component.Stopped, "")
}

// SourceDescriptor constructs a Source for one of the stub kinds ("grpc",
// "mssql"): the full Source contract over an in-memory queue an embedder
// or test injects into, standing in for the separately-specified network
// adapter.
type SourceDescriptor struct {
	StubKind string
}

func (d SourceDescriptor) Kind() string             { return d.StubKind }
func (SourceDescriptor) ConfigVersion() int         { return 1 }
func (d SourceDescriptor) ConfigSchemaName() string { return d.StubKind + "SourceConfig" }
func (SourceDescriptor) ConfigSchemaJSON() string   { return `{"type":"object"}` }

func (d SourceDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	return NewSource(id, d.StubKind), nil
}

// Source replays injected change events to its subscribers.
type Source struct {
	id    string
	kind  string
	guard *component.StatusGuard

	mu          sync.Mutex
	subscribers []chan component.ChangeEvent
	provider    component.BootstrapProvider
}

func NewSource(id, kind string) *Source {
	return &Source{id: id, kind: kind, guard: component.NewStatusGuard(id, nil)}
}

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return s.kind }
func (s *Source) Status() component.Status { return s.guard.Status() }

func (s *Source) SetBootstrapProvider(provider component.BootstrapProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = provider
}

func (s *Source) Start(ctx context.Context) error {
	if err := s.guard.Transition(component.Starting, ""); err != nil {
		return err
	}
	return s.guard.Transition(component.Running, "")
}

func (s *Source) Stop(ctx context.Context) error {
	if err := s.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	s.mu.Lock()
	subscribers := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()
	for _, ch := range subscribers {
		close(ch)
	}
	return s.guard.Transition(component.Stopped, "")
}

// Subscribe hands out a live stream; an attached bootstrap provider is
// consulted when bootstrap is enabled, since the stub has no initial
// state of its own.
func (s *Source) Subscribe(settings component.SubscriptionSettings) (component.SubscriptionResponse, error) {
	ch := make(chan component.ChangeEvent, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	provider := s.provider
	s.mu.Unlock()

	resp := component.SubscriptionResponse{LiveRx: ch}
	if settings.BootstrapEnabled && provider != nil {
		bootstrapRx, err := provider.Bootstrap(settings)
		if err != nil {
			return component.SubscriptionResponse{}, err
		}
		resp.BootstrapRx = bootstrapRx
	}
	return resp, nil
}

// Inject delivers one change event to every current subscriber, blocking
// until each accepts it or ctx is done.
func (s *Source) Inject(ctx context.Context, ev component.ChangeEvent) error {
	ev.SourceID = s.id
	s.mu.Lock()
	subscribers := append([]chan component.ChangeEvent(nil), s.subscribers...)
	s.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
