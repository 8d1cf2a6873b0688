// Package httpsource implements the "http" source kind: a webhook listener
// that turns POSTed JSON change payloads into ordered change events for
// subscribed queries.
//
// Grounded on the teacher's internal/handlers webhook-ingest shape (parse
// body, validate, dispatch) re-expressed over the Source contract. The
// source cannot supply an atomic bootstrap cutoff — an external system
// POSTs at will — so it exposes no bootstrap stream and relies on the
// engine's (source_id, element_id) dedup across the seam (DESIGN.md Open
// Question resolution 1).
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Descriptor is the registry.SourceDescriptor for kind "http".
type Descriptor struct{}

func (Descriptor) Kind() string             { return "http" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "HTTPSourceConfig" }
func (Descriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"port":{"type":"integer"},"path":{"type":"string"}},"required":["port"]}`
}

func (Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool) (interface{}, error) {
	port := 0
	switch v := cfg["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}
	if port <= 0 || port > 65535 {
		return nil, apierrors.InvalidConfig("http source " + id + " requires a \"port\" between 1 and 65535")
	}
	path, _ := cfg["path"].(string)
	if path == "" {
		path = "/events"
	}
	return NewSource(id, port, path), nil
}

// changePayload is the wire shape of one POSTed change.
type changePayload struct {
	Op            string          `json:"op"` // insert | update | delete
	Element       json.RawMessage `json:"element,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	EffectiveFrom int64           `json:"effectiveFrom,omitempty"`
}

// elementPayload is the wire shape of one node or relation. A payload
// carrying from/to decodes as a Relation, otherwise as a Node.
type elementPayload struct {
	ID         string          `json:"id"`
	Labels     []string        `json:"labels"`
	FromID     string          `json:"from,omitempty"`
	ToID       string          `json:"to,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Source is the webhook-listener source. It implements http.Handler so the
// listener (or a test) can drive it directly.
type Source struct {
	id    string
	port  int
	path  string
	guard *component.StatusGuard
	log   zerolog.Logger

	mu          sync.Mutex
	subscribers []chan component.ChangeEvent
	provider    component.BootstrapProvider
	server      *http.Server
	cancel      context.CancelFunc
	clock       int64
}

// NewSource constructs an http source listening on port at path once
// started.
func NewSource(id string, port int, path string) *Source {
	return &Source{
		id:    id,
		port:  port,
		path:  path,
		guard: component.NewStatusGuard(id, nil),
		log:   logger.ForComponent("source", id),
	}
}

func (s *Source) ID() string               { return s.id }
func (s *Source) Kind() string             { return "http" }
func (s *Source) Status() component.Status { return s.guard.Status() }

// AttachLogHook rebuilds the source's logger with the owning instance's
// log-registry hook.
func (s *Source) AttachLogHook(hook zerolog.Hook) {
	s.log = logger.ForComponent("source", s.id, hook)
}

// SetBootstrapProvider is accepted for contract uniformity; the http
// source has no bootstrap stream of its own, so an attached provider is
// what Subscribe consults when bootstrap is enabled.
func (s *Source) SetBootstrapProvider(provider component.BootstrapProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = provider
}

func (s *Source) Start(ctx context.Context) error {
	if err := s.guard.Transition(component.Starting, ""); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.server = srv
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("http source listener failed")
			_ = s.guard.Transition(component.Error, "listener failed: "+err.Error())
		}
	}()
	go func() {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return s.guard.Transition(component.Running, "")
}

func (s *Source) Stop(ctx context.Context) error {
	if err := s.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	subscribers := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	for _, ch := range subscribers {
		close(ch)
	}
	return s.guard.Transition(component.Stopped, "")
}

// Subscribe returns a live stream fed by incoming webhook posts. When
// bootstrap is enabled and a provider is attached, its stream is returned
// alongside.
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
			return component.SubscriptionResponse{}, apierrors.OperationFailed("http", s.id, "bootstrap", err)
		}
		resp.BootstrapRx = bootstrapRx
	}
	return resp, nil
}

// ServeHTTP accepts one change payload per POST. Delivery to subscribers
// blocks when their buffers are full — the webhook caller experiences the
// backpressure as response latency, never as a dropped event.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload changePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid change payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := s.toChangeEvent(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	subscribers := append([]chan component.ChangeEvent(nil), s.subscribers...)
	s.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- ev:
		case <-r.Context().Done():
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Source) toChangeEvent(payload changePayload) (component.ChangeEvent, error) {
	ev := component.ChangeEvent{SourceID: s.id}

	switch payload.Op {
	case "insert":
		ev.Kind = component.Insert
	case "update":
		ev.Kind = component.Update
	case "delete":
		ev.Kind = component.Delete
	default:
		return ev, apierrors.Validation("unknown op " + payload.Op + ", expected insert, update or delete")
	}

	s.mu.Lock()
	if payload.EffectiveFrom > s.clock {
		s.clock = payload.EffectiveFrom
	} else {
		s.clock++
	}
	ev.EffectiveFrom = s.clock
	s.mu.Unlock()

	switch ev.Kind {
	case component.Insert:
		el, err := decodeElement(firstOf(payload.Element, payload.After), ev.EffectiveFrom)
		if err != nil {
			return ev, err
		}
		ev.After = el
	case component.Delete:
		el, err := decodeElement(firstOf(payload.Element, payload.Before), ev.EffectiveFrom)
		if err != nil {
			return ev, err
		}
		ev.Before = el
	case component.Update:
		before, err := decodeElement(payload.Before, ev.EffectiveFrom)
		if err != nil {
			return ev, err
		}
		after, err := decodeElement(payload.After, ev.EffectiveFrom)
		if err != nil {
			return ev, err
		}
		ev.Before, ev.After = before, after
	}
	return ev, nil
}

func firstOf(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if len(r) > 0 {
			return r
		}
	}
	return nil
}

func decodeElement(raw json.RawMessage, effectiveFrom int64) (component.Element, error) {
	if len(raw) == 0 {
		return nil, apierrors.Validation("change payload is missing its element")
	}
	var ep elementPayload
	if err := json.Unmarshal(raw, &ep); err != nil {
		return nil, apierrors.Validation("invalid element payload: " + err.Error())
	}
	if ep.ID == "" {
		return nil, apierrors.Validation("element payload is missing \"id\"")
	}
	props, err := decodeOrderedProps(ep.Properties)
	if err != nil {
		return nil, err
	}

	if ep.FromID != "" || ep.ToID != "" {
		return &component.Relation{
			ID: ep.ID, Labels: ep.Labels, FromID: ep.FromID, ToID: ep.ToID,
			Props: props, EffectiveFrom: effectiveFrom,
		}, nil
	}
	return &component.Node{ID: ep.ID, Labels: ep.Labels, Props: props, EffectiveFrom: effectiveFrom}, nil
}

// decodeOrderedProps walks the properties object token by token so the
// resulting Properties preserve the payload's declaration order, matching
// spec.md §3's ordered-map requirement.
func decodeOrderedProps(raw json.RawMessage) (component.Properties, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, apierrors.Validation("invalid properties payload: " + err.Error())
	}
	if tok != json.Delim('{') {
		return nil, apierrors.Validation("properties payload must be an object")
	}

	var props component.Properties
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, apierrors.Validation("invalid properties payload: " + err.Error())
		}
		key := keyTok.(string)
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, apierrors.Validation("invalid property value for " + key + ": " + err.Error())
		}
		props = append(props, component.PropertyEntry{Name: key, Value: value})
	}
	return props, nil
}
