// Package application implements the "application" reaction kind
// (spec.md §6.1): delivers query result deltas to an out-of-process
// consumer over NATS, and optionally to an in-process Go callback for
// tests and embedders.
//
// Grounded on the teacher's internal/plugins/event_bus.go EventHandler
// callback shape for the in-process path, and internal/events/subscriber.go's
// NATS connection/reconnect-option idiom for the publish path.
package application

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// Descriptor is the registry.ReactionDescriptor for kind "application".
type Descriptor struct {
	// Conn is the shared NATS connection used by every reaction this
	// descriptor creates. nil disables the NATS publish path; Callback
	// hooks remain usable regardless.
	Conn *nats.Conn
}

func (Descriptor) Kind() string            { return "application" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "ApplicationReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string {
	return `{"type":"object","properties":{"subject":{"type":"string"}},"required":["subject"]}`
}

func (d Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	subject, _ := cfg["subject"].(string)
	if subject == "" {
		return nil, apierrors.InvalidConfig("application reaction " + id + " requires a \"subject\" field")
	}
	return NewReaction(id, queryIDs, d.Conn, subject), nil
}

// Callback is the in-process delivery path (teacher's EventHandler shape).
type Callback func(queryID string, delta component.ResultDelta) error

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Reaction publishes every subscribed query's result deltas onto a NATS
// subject, and additionally invokes any registered in-process callbacks.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard
	conn     *nats.Conn
	subject  string
	log      zerolog.Logger

	mu        sync.Mutex
	callbacks []Callback
	attached  []attachedQuery
	cancel    context.CancelFunc
}

// NewReaction constructs a Reaction publishing to subject over conn (which
// may be nil to disable the NATS path entirely, e.g. in unit tests that
// only exercise the in-process Callback path).
func NewReaction(id string, queryIDs []string, conn *nats.Conn, subject string) *Reaction {
	return &Reaction{
		id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil),
		conn: conn, subject: subject,
		log: logger.ForComponent("reaction", id),
	}
}

// AttachLogHook rebuilds the reaction's logger with the owning instance's
// log-registry hook.
func (r *Reaction) AttachLogHook(hook zerolog.Hook) {
	r.log = logger.ForComponent("reaction", r.id, hook)
}

// OnDelta registers an in-process callback invoked for every delta
// alongside the NATS publish.
func (r *Reaction) OnDelta(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// AttachQueryDeltas records queryID's delta channel; the consuming
// goroutine is spawned once Start runs.
func (r *Reaction) AttachQueryDeltas(queryID string, deltas <-chan component.ResultDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, attachedQuery{queryID: queryID, deltas: deltas})
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return "application" }
func (r *Reaction) Status() component.Status { return r.guard.Status() }
func (r *Reaction) QueryIDs() []string       { return r.queryIDs }

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
		go r.consume(runCtx, a.queryID, a.deltas)
	}

	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) consume(ctx context.Context, queryID string, deltas <-chan component.ResultDelta) {
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			if err := r.deliver(queryID, delta); err != nil {
				r.log.Warn().Err(err).Str("query_id", queryID).Msg("failed to deliver result delta")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaction) deliver(queryID string, delta component.ResultDelta) error {
	var firstErr error
	if r.conn != nil {
		payload, err := json.Marshal(struct {
			QueryID string                `json:"queryId"`
			Delta   component.ResultDelta `json:"delta"`
		}{QueryID: queryID, Delta: delta})
		if err != nil {
			firstErr = err
		} else if err := r.conn.Publish(r.subject, payload); err != nil {
			firstErr = err
		}
	}

	r.mu.Lock()
	callbacks := append([]Callback(nil), r.callbacks...)
	r.mu.Unlock()
	for _, cb := range callbacks {
		if err := cb(queryID, delta); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
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
