// Package observability implements ComponentEventHistory and
// ComponentLogRegistry (SPEC_FULL.md §4.10): fixed-size ring buffers per
// instance recording lifecycle events and recent log lines per component,
// with an optional Redis Pub/Sub mirror for tailing across restarts.
//
// Grounded on the teacher's internal/logger per-concern logger factories
// and internal/cache's Redis wrapper, generalized to the engine's
// component model.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/component"
)

// ComponentEvent is one entry in ComponentEventHistory.
type ComponentEvent struct {
	ID          string
	ComponentID string
	Status      component.Status
	Message     string
	Timestamp   time.Time
}

// ComponentEventHistory is a fixed-size ring buffer of ComponentEvents,
// owned by an Instance (spec.md §4.7).
type ComponentEventHistory struct {
	mu       sync.Mutex
	buf      []ComponentEvent
	capacity int
	next     int
	filled   bool
	mirror   *redisMirror
}

// NewComponentEventHistory constructs a ring buffer with the given capacity.
func NewComponentEventHistory(capacity int) *ComponentEventHistory {
	return &ComponentEventHistory{buf: make([]ComponentEvent, capacity), capacity: capacity}
}

// Record appends ev, evicting the oldest entry once the buffer is full.
func (h *ComponentEventHistory) Record(ev ComponentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = ev
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.filled = true
	}
	if h.mirror != nil {
		h.mirror.publishEvent(ev)
	}
}

// Recent returns the buffered events, oldest first.
func (h *ComponentEventHistory) Recent() []ComponentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.filled {
		out := make([]ComponentEvent, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]ComponentEvent, h.capacity)
	copy(out, h.buf[h.next:])
	copy(out[h.capacity-h.next:], h.buf[:h.next])
	return out
}

// AttachRedisMirror wires an optional Redis Pub/Sub fan-out sink
// (SPEC_FULL.md §4.10: purely additive, never the system of record).
func (h *ComponentEventHistory) AttachRedisMirror(client *redis.Client, instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirror = &redisMirror{client: client, channel: "drasi:" + instanceID + ":events"}
}

// LogLine is one entry in ComponentLogRegistry.
type LogLine struct {
	ComponentID string
	Level       string
	Message     string
	Timestamp   time.Time
}

// ComponentLogRegistry is one fixed-size ring buffer of recent log lines
// shared by all components of an instance, each line tagged with its
// ComponentID; there is no per-component buffer or capacity. It is fed by
// zerolog.Hooks scoped to each component's logger (logger.ForComponent).
type ComponentLogRegistry struct {
	mu       sync.Mutex
	buf      []LogLine
	capacity int
	next     int
	filled   bool
	mirror   *redisMirror
}

// NewComponentLogRegistry constructs a ring buffer with the given capacity.
func NewComponentLogRegistry(capacity int) *ComponentLogRegistry {
	return &ComponentLogRegistry{buf: make([]LogLine, capacity), capacity: capacity}
}

// AttachRedisMirror wires an optional Redis Pub/Sub fan-out sink for logs.
func (r *ComponentLogRegistry) AttachRedisMirror(client *redis.Client, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = &redisMirror{client: client, channel: "drasi:" + instanceID + ":logs"}
}

func (r *ComponentLogRegistry) record(line LogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
	if r.mirror != nil {
		r.mirror.publishLog(line)
	}
}

// Recent returns buffered log lines, oldest first.
func (r *ComponentLogRegistry) Recent() []LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]LogLine, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]LogLine, r.capacity)
	copy(out, r.buf[r.next:])
	copy(out[r.capacity-r.next:], r.buf[:r.next])
	return out
}

// Hook returns a zerolog.Hook that feeds every log event for componentID
// into this registry, to be attached via logger.ForComponent(kind, id,
// registry.Hook(componentID)).
func (r *ComponentLogRegistry) Hook(componentID string) zerolog.Hook {
	return zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
		r.record(LogLine{ComponentID: componentID, Level: level.String(), Message: msg, Timestamp: time.Now()})
	})
}

// redisMirror fans events/logs out over Redis Pub/Sub. Failures are
// swallowed: this is a best-effort tailing aid, never the system of
// record (SPEC_FULL.md §4.10).
type redisMirror struct {
	client  *redis.Client
	channel string
}

func (m *redisMirror) publishEvent(ev ComponentEvent) {
	_ = m.client.Publish(context.Background(), m.channel, ev.ComponentID+" "+ev.Status.String()+" "+ev.Message)
}

func (m *redisMirror) publishLog(line LogLine) {
	_ = m.client.Publish(context.Background(), m.channel, line.ComponentID+" "+line.Level+" "+line.Message)
}
