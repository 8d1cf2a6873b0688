// Package noop implements the "noop" source and reaction kinds: a
// registry smoke-test fixture that accepts a subscription or a result
// delta and discards it. Used to validate the registry/factory wiring
// without any side effect.
package noop

import (
	"context"

	"github.com/drasi-project/drasi-server/internal/component"
)

// SourceDescriptor is the registry.SourceDescriptor for kind "noop".
type SourceDescriptor struct{}

func (SourceDescriptor) Kind() string            { return "noop" }
func (SourceDescriptor) ConfigVersion() int       { return 1 }
func (SourceDescriptor) ConfigSchemaName() string { return "NoopSourceConfig" }
func (SourceDescriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (SourceDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	return NewSource(id), nil
}

// Source never emits anything; Subscribe returns immediately-closed channels.
type Source struct {
	id    string
	guard *component.StatusGuard
}

func NewSource(id string) *Source { return &Source{id: id, guard: component.NewStatusGuard(id, nil)} }

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return "noop" }
func (s *Source) Status() component.Status { return s.guard.Status() }
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
	return s.guard.Transition(component.Stopped, "")
}
func (s *Source) SetBootstrapProvider(component.BootstrapProvider) {}

func (s *Source) Subscribe(settings component.SubscriptionSettings) (component.SubscriptionResponse, error) {
	liveCh := make(chan component.ChangeEvent)
	close(liveCh)
	resp := component.SubscriptionResponse{LiveRx: liveCh}
	if settings.BootstrapEnabled {
		bootCh := make(chan component.BootstrapEvent)
		close(bootCh)
		resp.BootstrapRx = bootCh
	}
	return resp, nil
}

// ReactionDescriptor is the registry.ReactionDescriptor for kind "noop".
type ReactionDescriptor struct{}

func (ReactionDescriptor) Kind() string            { return "noop" }
func (ReactionDescriptor) ConfigVersion() int       { return 1 }
func (ReactionDescriptor) ConfigSchemaName() string { return "NoopReactionConfig" }
func (ReactionDescriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (ReactionDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	return NewReaction(id, queryIDs), nil
}

// Reaction discards every result delta it receives.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard
}

func NewReaction(id string, queryIDs []string) *Reaction {
	return &Reaction{id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil)}
}

func (r *Reaction) ID() string              { return r.id }
func (r *Reaction) Kind() string            { return "noop" }
func (r *Reaction) Status() component.Status { return r.guard.Status() }
func (r *Reaction) QueryIDs() []string      { return r.queryIDs }
func (r *Reaction) AttachQueryDeltas(queryID string, deltas <-chan component.ResultDelta) {
	go func() {
		for range deltas {
			// discarded by design
		}
	}()
}
func (r *Reaction) Start(ctx context.Context) error {
	if err := r.guard.Transition(component.Starting, ""); err != nil {
		return err
	}
	return r.guard.Transition(component.Running, "")
}
func (r *Reaction) Stop(ctx context.Context) error {
	if err := r.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	return r.guard.Transition(component.Stopped, "")
}
