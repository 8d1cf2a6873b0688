// Package mock implements the "mock" source kind: an in-memory, scripted
// source that replays its own bootstrap events, used by the seed test suite
// (spec.md §8 scenario a) and as the zero-dependency reference kind for
// exercising the registry/factory/dispatch substrate without any real
// external system.
//
// Grounded on the teacher's internal/plugins/runtime.go doc-comment usage
// example (NewRuntime / EmitEvent), adapted here into a scripted,
// channel-fed source rather than a generic runtime.
package mock

import (
	"context"
	"sync"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
)

// Descriptor is the registry.SourceDescriptor for kind "mock".
type Descriptor struct{}

func (Descriptor) Kind() string             { return "mock" }
func (Descriptor) ConfigVersion() int        { return 1 }
func (Descriptor) ConfigSchemaName() string  { return "MockSourceConfig" }
func (Descriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"bootstrapEvents":{"type":"array"},"liveEvents":{"type":"array"}}}`
}

// Create builds a new, empty Source; cfg is ignored, including the
// "bootstrapEvents" and "liveEvents" keys the schema above lists. Tests
// script events programmatically via ScriptBootstrap/ScriptLive.
func (Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	return NewSource(id), nil
}

// Source is the mock source implementation.
type Source struct {
	id    string
	guard *component.StatusGuard

	mu                sync.Mutex
	bootstrapEvents   []component.BootstrapEvent
	liveEvents        []component.ChangeEvent
	bootstrapProvider component.BootstrapProvider
}

// NewSource constructs an empty mock source. Use ScriptBootstrap/ScriptLive
// to seed it before Subscribe is called.
func NewSource(id string) *Source {
	return &Source{id: id, guard: component.NewStatusGuard(id, nil)}
}

// ScriptBootstrap sets the ordered bootstrap events this source will emit
// on the next Subscribe call with bootstrap_enabled=true.
func (s *Source) ScriptBootstrap(events []component.BootstrapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstrapEvents = events
}

// ScriptLive sets the live events this source will emit after bootstrap
// completes (or immediately, if bootstrap is disabled).
func (s *Source) ScriptLive(events []component.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveEvents = events
}

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return "mock" }
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

func (s *Source) SetBootstrapProvider(provider component.BootstrapProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstrapProvider = provider
}

// Subscribe replays the scripted bootstrap events (in order, then closes),
// followed by the scripted live events, satisfying spec.md §4.3's
// SubscriptionResponse contract.
func (s *Source) Subscribe(settings component.SubscriptionSettings) (component.SubscriptionResponse, error) {
	s.mu.Lock()
	bootstrapEvents := append([]component.BootstrapEvent(nil), s.bootstrapEvents...)
	liveEvents := append([]component.ChangeEvent(nil), s.liveEvents...)
	s.mu.Unlock()

	liveCh := make(chan component.ChangeEvent, len(liveEvents)+1)
	for _, ev := range liveEvents {
		liveCh <- ev
	}
	close(liveCh)

	resp := component.SubscriptionResponse{LiveRx: liveCh}

	if settings.BootstrapEnabled {
		bootCh := make(chan component.BootstrapEvent, len(bootstrapEvents)+1)
		for _, ev := range bootstrapEvents {
			if len(bootCh) >= settings.BootstrapBufferSize {
				close(bootCh)
				return component.SubscriptionResponse{}, apierrors.OperationFailed("mock", s.id, "bootstrap", nil)
			}
			bootCh <- ev
		}
		close(bootCh)
		resp.BootstrapRx = bootCh
	}

	return resp, nil
}
