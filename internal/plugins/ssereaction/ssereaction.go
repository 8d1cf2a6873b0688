// Package ssereaction implements the "sse" reaction kind: subscribed
// query result deltas are pushed to connected HTTP clients as
// text/event-stream frames.
//
// Grounded on the teacher's internal/websocket/agent_hub.go hub-of-
// connections pattern (register/unregister channel, broadcast fan-out),
// adapted from a websocket hub to an SSE connection registry since the
// transport here is one-way.
package ssereaction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Descriptor is the registry.ReactionDescriptor for kind "sse".
type Descriptor struct{}

func (Descriptor) Kind() string            { return "sse" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "SSEReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	return NewReaction(id, queryIDs), nil
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

type clientStream struct {
	id string
	ch chan sseFrame
}

type sseFrame struct {
	event string
	data  []byte
}

// Reaction fans every delta it receives out to every currently-connected
// SSE client.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard
	log      zerolog.Logger

	mu       sync.Mutex
	attached []attachedQuery
	clients  map[string]*clientStream
	cancel   context.CancelFunc
}

func NewReaction(id string, queryIDs []string) *Reaction {
	return &Reaction{
		id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil),
		log:     logger.ForComponent("reaction", id),
		clients: make(map[string]*clientStream),
	}
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return "sse" }

// AttachLogHook rebuilds the reaction's logger with the owning instance's
// log-registry hook.
func (r *Reaction) AttachLogHook(hook zerolog.Hook) {
	r.log = logger.ForComponent("reaction", r.id, hook)
}
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
					payload, err := json.Marshal(struct {
						QueryID string                `json:"queryId"`
						Delta   component.ResultDelta `json:"delta"`
					}{QueryID: a.queryID, Delta: delta})
					if err != nil {
						r.log.Warn().Err(err).Msg("failed to marshal sse delta")
						continue
					}
					r.broadcast(payload)
				case <-runCtx.Done():
					return
				}
			}
		}(a)
	}
	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		select {
		case c.ch <- sseFrame{event: "delta", data: payload}:
		default:
			// a slow client drops a frame rather than blocking the
			// whole fan-out.
		}
	}
}

// ServeHTTP registers the requesting connection as an SSE client for the
// lifetime of the request and streams every subsequent delta to it.
func (r *Reaction) ServeHTTP(w http.ResponseWriter, req *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return apierrors.Internal(fmt.Errorf("response writer does not support flushing"))
	}

	stream := &clientStream{id: req.RemoteAddr, ch: make(chan sseFrame, 32)}
	r.mu.Lock()
	r.clients[stream.id] = stream
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.clients, stream.id)
		r.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case frame := <-stream.ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, frame.data)
			flusher.Flush()
		case <-req.Context().Done():
			return nil
		}
	}
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
