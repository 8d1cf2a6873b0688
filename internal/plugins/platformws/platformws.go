// Package platformws implements the "platform" reaction kind: pushes
// result deltas to a connected dashboard over a persistent WebSocket
// connection, with stale-connection detection via heartbeats.
//
// Grounded on the teacher's internal/websocket/agent_hub.go AgentHub:
// a registry of connections keyed by id, a Send channel per connection,
// and LastPing-based staleness detection. Register/unregister are direct
// writes to a mutex-guarded map, not channel messages.
package platformws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
)

const (
	pingInterval = 10 * time.Second
	staleAfter   = 30 * time.Second
)

// Descriptor is the registry.ReactionDescriptor for kind "platform".
type Descriptor struct{}

func (Descriptor) Kind() string            { return "platform" }
func (Descriptor) ConfigVersion() int       { return 1 }
func (Descriptor) ConfigSchemaName() string { return "PlatformReactionConfig" }
func (Descriptor) ConfigSchemaJSON() string { return `{"type":"object"}` }

func (Descriptor) Create(id string, cfg map[string]interface{}, autoStart bool, queryIDs []string) (interface{}, error) {
	return NewReaction(id, queryIDs), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type dashboardConn struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	lastPing time.Time
	mu       sync.RWMutex
}

type attachedQuery struct {
	queryID string
	deltas  <-chan component.ResultDelta
}

// Reaction maintains a registry of connected dashboards and fans every
// subscribed query's deltas out to all of them.
type Reaction struct {
	id       string
	queryIDs []string
	guard    *component.StatusGuard

	mu       sync.RWMutex
	conns    map[string]*dashboardConn
	attached []attachedQuery
	cancel   context.CancelFunc
}

func NewReaction(id string, queryIDs []string) *Reaction {
	return &Reaction{id: id, queryIDs: queryIDs, guard: component.NewStatusGuard(id, nil), conns: make(map[string]*dashboardConn)}
}

func (r *Reaction) ID() string               { return r.id }
func (r *Reaction) Kind() string             { return "platform" }
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
		go r.consume(runCtx, a)
	}
	go r.monitorStale(runCtx)

	return r.guard.Transition(component.Running, "")
}

func (r *Reaction) consume(ctx context.Context, a attachedQuery) {
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
				continue
			}
			r.broadcast(payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaction) broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// monitorStale drops any dashboard connection that hasn't pinged within
// staleAfter, mirroring the teacher's hub health-check loop.
func (r *Reaction) monitorStale(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			for id, c := range r.conns {
				c.mu.RLock()
				stale := time.Since(c.lastPing) > staleAfter
				c.mu.RUnlock()
				if stale {
					close(c.send)
					delete(r.conns, id)
				}
			}
			r.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers it as a
// dashboard connection under connID until the client disconnects.
func (r *Reaction) ServeHTTP(w http.ResponseWriter, req *http.Request, connID string) error {
	wsConn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return apierrors.OperationFailed("platform", r.id, "upgrade", err)
	}

	dc := &dashboardConn{id: connID, conn: wsConn, send: make(chan []byte, 64), lastPing: time.Now()}
	r.mu.Lock()
	r.conns[connID] = dc
	r.mu.Unlock()

	go r.writePump(dc)
	r.readPump(dc)
	return nil
}

func (r *Reaction) writePump(dc *dashboardConn) {
	for payload := range dc.send {
		if err := dc.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = dc.conn.Close()
}

func (r *Reaction) readPump(dc *dashboardConn) {
	defer func() {
		r.mu.Lock()
		delete(r.conns, dc.id)
		r.mu.Unlock()
		_ = dc.conn.Close()
	}()
	for {
		if _, _, err := dc.conn.ReadMessage(); err != nil {
			return
		}
		dc.mu.Lock()
		dc.lastPing = time.Now()
		dc.mu.Unlock()
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
	for id, c := range r.conns {
		close(c.send)
		delete(r.conns, id)
	}
	r.mu.Unlock()
	return r.guard.Transition(component.Stopped, "")
}
