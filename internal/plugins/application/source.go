// source.go implements the "application" source kind: the input-side
// counterpart of the application reaction. An embedding Go program pushes
// change events directly via Push/SeedBootstrap, making it the source of
// choice when the process hosting the engine is itself the system of
// record. Mirrors the teacher's event_bus.go Publish shape, inverted into
// the Source contract.
package application

import (
	"context"
	"sync"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
)

// SourceDescriptor is the registry.SourceDescriptor for kind "application".
type SourceDescriptor struct{}

func (SourceDescriptor) Kind() string             { return "application" }
func (SourceDescriptor) ConfigVersion() int       { return 1 }
func (SourceDescriptor) ConfigSchemaName() string { return "ApplicationSourceConfig" }
func (SourceDescriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (SourceDescriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	return NewSource(id), nil
}

// Source is the application source. Events pushed before any subscriber
// attaches are dropped — an embedder starts the instance (wiring the
// subscriptions) before it begins pushing.
type Source struct {
	id    string
	guard *component.StatusGuard

	mu          sync.Mutex
	subscribers []chan component.ChangeEvent
	bootstrap   []component.BootstrapEvent
	clock       int64
}

// NewSource constructs an application source.
func NewSource(id string) *Source {
	return &Source{id: id, guard: component.NewStatusGuard(id, nil)}
}

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return "application" }
func (s *Source) Status() component.Status { return s.guard.Status() }

// SetBootstrapProvider is accepted for contract uniformity; the
// application source's bootstrap is seeded in-process via SeedBootstrap.
func (s *Source) SetBootstrapProvider(component.BootstrapProvider) {}

// SeedBootstrap sets the ordered bootstrap events handed to the next
// bootstrap-enabled subscriber.
func (s *Source) SeedBootstrap(events []component.BootstrapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstrap = events
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

// Subscribe hands out a live stream; when bootstrap is enabled, the seeded
// bootstrap events are replayed in order on a finite channel.
func (s *Source) Subscribe(settings component.SubscriptionSettings) (component.SubscriptionResponse, error) {
	ch := make(chan component.ChangeEvent, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	bootstrap := append([]component.BootstrapEvent(nil), s.bootstrap...)
	s.mu.Unlock()

	resp := component.SubscriptionResponse{LiveRx: ch}
	if settings.BootstrapEnabled {
		bootCh := make(chan component.BootstrapEvent, len(bootstrap)+1)
		for _, ev := range bootstrap {
			if len(bootCh) >= settings.BootstrapBufferSize {
				close(bootCh)
				return component.SubscriptionResponse{}, apierrors.OperationFailed("application", s.id, "bootstrap", nil)
			}
			bootCh <- ev
		}
		close(bootCh)
		resp.BootstrapRx = bootCh
	}
	return resp, nil
}

// Push delivers one change event to every current subscriber, blocking
// while any subscriber's buffer is full (the embedder experiences the
// engine's backpressure directly) until ctx is done. An unset
// EffectiveFrom is stamped from the source's monotone clock.
func (s *Source) Push(ctx context.Context, ev component.ChangeEvent) error {
	if s.guard.Status() != component.Running {
		return apierrors.InvalidState("application source " + s.id + " is not running")
	}

	s.mu.Lock()
	ev.SourceID = s.id
	if ev.EffectiveFrom > s.clock {
		s.clock = ev.EffectiveFrom
	} else {
		s.clock++
		ev.EffectiveFrom = s.clock
	}
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
