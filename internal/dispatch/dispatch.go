// Package dispatch implements the engine's channel substrate: the bounded
// ChangeDispatcher (spec.md §4.5), the one-shot BootstrapChannel (spec.md
// §4.6), and the small-window PriorityQueue reorder buffer used inside a
// query's evaluation task.
//
// This is new code (spec.md §4.5/4.6 have no exact teacher analog), but it
// follows the shape of the teacher's event_bus.go: plain Go channels plus
// goroutines, no external queue/broker library for in-process fan-out
// (spec.md §5's "channels, not callbacks" guidance rules out anything
// heavier).
package dispatch

import (
	"container/heap"
	"context"
	"sync"

	"github.com/drasi-project/drasi-server/internal/component"
)

// ChangeDispatcher is a bounded MPMC channel carrying ChangeEvents from a
// source's producers to one query's ingestion task. Capacity is
// dispatch_buffer_capacity (spec.md §4.5); when full, Send blocks
// (backpressure — producers suspend, never drop). Closing the dispatcher
// causes blocked/future Sends to return ErrClosed, which callers must treat
// as a routine shutdown signal, not an error (spec.md §4.5, §7).
type ChangeDispatcher struct {
	ch        chan component.ChangeEvent
	closed    chan struct{}
	once      sync.Once
	sendClose sync.Once
}

// NewChangeDispatcher constructs a dispatcher with the given buffer capacity.
func NewChangeDispatcher(capacity int) *ChangeDispatcher {
	return &ChangeDispatcher{
		ch:     make(chan component.ChangeEvent, capacity),
		closed: make(chan struct{}),
	}
}

// ErrClosed is returned by Send when the dispatcher has been closed.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "dispatch: channel closed" }

// Send enqueues ev, blocking while the buffer is full, until ctx is done or
// the dispatcher is closed.
func (d *ChangeDispatcher) Send(ctx context.Context, ev component.ChangeEvent) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}
	select {
	case d.ch <- ev:
		return nil
	case <-d.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the receive-only channel side for a consumer's ingestion task.
func (d *ChangeDispatcher) Recv() <-chan component.ChangeEvent {
	return d.ch
}

// Close signals shutdown; it is safe to call multiple times.
func (d *ChangeDispatcher) Close() {
	d.once.Do(func() { close(d.closed) })
}

// CloseSend closes the event channel itself, letting the consumer's range
// loop terminate once the buffer drains. Only the (single) producer task
// feeding this dispatcher may call it, after its last Send.
func (d *ChangeDispatcher) CloseSend() {
	d.sendClose.Do(func() { close(d.ch) })
}

// BootstrapChannel is the one-shot, strictly-sequenced stream from a
// bootstrap provider to a query (spec.md §4.6). The provider calls Send in
// increasing Sequence order, then Complete; the consumer observes channel
// closure as "bootstrap complete." If the provider calls Fail instead, the
// channel closes without a completion marker and the caller must transition
// the affected subscription to Error (spec.md §4.6, §7).
type BootstrapChannel struct {
	ch       chan component.BootstrapEvent
	once     sync.Once
	failedMu sync.Mutex
	failed   bool
}

// NewBootstrapChannel constructs a channel with the given buffer capacity
// (bootstrap_buffer_size). Overflow is fatal to the subscription per
// spec.md §5 — callers must use a non-blocking Send or enforce the bound
// upstream; this type does not silently drop events.
func NewBootstrapChannel(capacity int) *BootstrapChannel {
	return &BootstrapChannel{ch: make(chan component.BootstrapEvent, capacity)}
}

// Send enqueues ev. It returns false if the buffer is full (overflow, fatal
// per spec.md §5) so the caller can fail the subscription instead of
// blocking forever on a provider that promises a finite bootstrap.
func (b *BootstrapChannel) Send(ev component.BootstrapEvent) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Complete signals normal end-of-bootstrap.
func (b *BootstrapChannel) Complete() {
	b.once.Do(func() { close(b.ch) })
}

// Fail signals an abnormal end-of-bootstrap (spec.md §4.6: "if the provider
// errors, it closes without completion marker").
func (b *BootstrapChannel) Fail() {
	b.failedMu.Lock()
	b.failed = true
	b.failedMu.Unlock()
	b.once.Do(func() { close(b.ch) })
}

// Failed reports whether the channel closed via Fail rather than Complete.
func (b *BootstrapChannel) Failed() bool {
	b.failedMu.Lock()
	defer b.failedMu.Unlock()
	return b.failed
}

// Recv returns the receive-only channel side.
func (b *BootstrapChannel) Recv() <-chan component.BootstrapEvent {
	return b.ch
}

// pqItem is one entry in the PriorityQueue's internal min-heap, ordered by
// (EffectiveFrom, insertion sequence). The sequence tiebreaker keeps the
// heap stable: two events from the same source with equal EffectiveFrom
// must still pop in arrival order, or the per-source ordering guarantee of
// spec.md §5 would break.
type pqItem struct {
	ev    component.ChangeEvent
	seq   uint64
	index int
}

type pqHeap []*pqItem

func (h pqHeap) Len() int { return len(h) }
func (h pqHeap) Less(i, j int) bool {
	if h[i].ev.EffectiveFrom != h[j].ev.EffectiveFrom {
		return h[i].ev.EffectiveFrom < h[j].ev.EffectiveFrom
	}
	return h[i].seq < h[j].seq
}
func (h pqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *pqHeap) Push(x interface{}) { item := x.(*pqItem); item.index = len(*h); *h = append(*h, item) }
func (h *pqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue reorders ChangeEvents by EffectiveFrom within a small
// window (spec.md §4.5), bounding worst-case out-of-order delivery from
// multiple concurrently-ingesting sources. Capacity is
// priority_queue_capacity; once full, Push blocks until the consumer pops —
// bounded capacity is the engine's sole backpressure mechanism and nothing
// is shed (spec.md §5).
type PriorityQueue struct {
	mu       sync.Mutex
	h        pqHeap
	capacity int
	seq      uint64
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewPriorityQueue constructs a reorder queue with the given window
// capacity. Capacities below 1 are clamped to 1 — a zero-size window would
// deadlock the first Push.
func NewPriorityQueue(capacity int) *PriorityQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &PriorityQueue{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
	heap.Init(&q.h)
	return q
}

// Push inserts ev into the reorder window, blocking while the window is at
// capacity until the consumer pops or ctx is done.
func (q *PriorityQueue) Push(ctx context.Context, ev component.ChangeEvent) error {
	for {
		q.mu.Lock()
		if len(q.h) < q.capacity {
			q.seq++
			heap.Push(&q.h, &pqItem{ev: ev, seq: q.seq})
			q.mu.Unlock()
			select {
			case q.notEmpty <- struct{}{}:
			default:
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes and returns the event with the smallest EffectiveFrom,
// blocking until one is available or ctx is done.
func (q *PriorityQueue) Pop(ctx context.Context) (component.ChangeEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.h) > 0 {
			item := heap.Pop(&q.h).(*pqItem)
			q.mu.Unlock()
			select {
			case q.notFull <- struct{}{}:
			default:
			}
			return item.ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
			continue
		case <-ctx.Done():
			return component.ChangeEvent{}, false
		}
	}
}

// Len reports the number of buffered events.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
