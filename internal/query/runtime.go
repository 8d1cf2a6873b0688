// runtime.go implements the ContinuousQuery runtime (spec.md §4.3, §5): one
// ingestion task per subscribed source reading from its ChangeDispatcher,
// one bootstrap task per subscribed source while it is bootstrapping, one
// evaluation task pulling ordered events from the PriorityQueue and feeding
// the GraphIndex and any declared Joins, fanning results out to subscribed
// reactions. Live events route through the PriorityQueue so delivery from
// concurrently-ingesting sources is reordered by effective_from within a
// bounded window before evaluation; bootstrap events bypass it, since they
// are already strictly sequenced per source and no live event of the same
// source can reach the evaluator before that source's bootstrap completes.
//
// Open Question resolution (spec.md §9, DESIGN.md): the engine dedups by
// (source_id, element_id) across the bootstrap/live seam rather than
// requiring every plugin to supply an atomic cutoff, since the reference
// plugins (mock, postgres poll, platform k8s watch) cannot all guarantee
// one. Each subscription tracks the set of element ids seen during
// bootstrap; while buffered live events are flushed after bootstrap
// completes, any event whose element id was already delivered via
// bootstrap is skipped once, then the dedup set is discarded.
package query

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/dispatch"
	"github.com/drasi-project/drasi-server/internal/logger"
)

// DefaultPriorityQueueCapacity is used when neither the query nor the
// owning instance configures priority_queue_capacity.
const DefaultPriorityQueueCapacity = 1024

// subscription tracks one source's ingestion/bootstrap task pair.
type subscription struct {
	sourceID    string
	liveRx      <-chan component.ChangeEvent
	bootstrapRx <-chan component.BootstrapEvent

	mu            sync.Mutex
	bootstrapping bool
	buffer        []component.ChangeEvent
	dedupSeen     map[string]struct{}
	status        component.Status
}

// Query is the ContinuousQuery implementation.
type Query struct {
	id         string
	guard      *component.StatusGuard
	sink       component.EventSink
	index      GraphIndex
	joins      []*JoinIndex
	bufferSize int
	pq         *dispatch.PriorityQueue

	mu     sync.Mutex
	subs   map[string]*subscription
	subsWg sync.WaitGroup
	evalWg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	deltaMu     sync.Mutex
	subscribers []chan component.ResultDelta

	log zerolog.Logger
}

// New constructs a Query. bufferSize bounds the per-subscription buffer
// used while that source is still bootstrapping (bootstrap_buffer_size,
// spec.md §4.3 point 1); overflow is fatal to the query per spec.md §5.
// pqCapacity sizes the reorder window live events pass through before
// evaluation (priority_queue_capacity); values below 1 fall back to
// DefaultPriorityQueueCapacity.
func New(id string, index GraphIndex, joins []Join, bufferSize, pqCapacity int, sink component.EventSink) *Query {
	ctx, cancel := context.WithCancel(context.Background())
	joinIndexes := make([]*JoinIndex, 0, len(joins))
	for _, j := range joins {
		joinIndexes = append(joinIndexes, NewJoinIndex(j))
	}
	if pqCapacity < 1 {
		pqCapacity = DefaultPriorityQueueCapacity
	}
	q := &Query{
		id:         id,
		guard:      component.NewStatusGuard(id, sink),
		sink:       sink,
		index:      index,
		joins:      joinIndexes,
		bufferSize: bufferSize,
		pq:         dispatch.NewPriorityQueue(pqCapacity),
		subs:       make(map[string]*subscription),
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.ForComponent("query", id),
	}
	q.evalWg.Add(1)
	go q.runEval()
	return q
}

func (q *Query) ID() string               { return q.id }
func (q *Query) Status() component.Status { return q.guard.Status() }

// AttachLogHook rebuilds the query's logger with the owning instance's
// log-registry hook. Called once at registration, before any subscription
// task is spawned.
func (q *Query) AttachLogHook(hook zerolog.Hook) {
	q.log = logger.ForComponent("query", q.id, hook)
}

// Start transitions Created->Starting->Running. Subscriptions already
// added via AddSubscription begin ingesting as soon as their tasks were
// spawned; Start only flips the externally-visible state.
func (q *Query) Start(ctx context.Context) error {
	if err := q.guard.Transition(component.Starting, ""); err != nil {
		return err
	}
	return q.guard.Transition(component.Running, "")
}

// Stop cancels all ingestion/bootstrap tasks and waits for them to drain,
// then closes every result-delta subscriber channel.
func (q *Query) Stop(ctx context.Context) error {
	if err := q.guard.Transition(component.Stopping, ""); err != nil {
		return err
	}
	q.cancel()
	q.subsWg.Wait()
	q.evalWg.Wait()

	q.deltaMu.Lock()
	for _, ch := range q.subscribers {
		close(ch)
	}
	q.subscribers = nil
	q.deltaMu.Unlock()

	return q.guard.Transition(component.Stopped, "")
}

// AddSubscription wires one source into the query (spec.md §4.3): a
// bootstrap task (if bootstrapRx is non-nil) and a live ingestion task.
func (q *Query) AddSubscription(sourceID string, bootstrapRx <-chan component.BootstrapEvent, liveRx <-chan component.ChangeEvent) error {
	q.mu.Lock()
	if _, exists := q.subs[sourceID]; exists {
		q.mu.Unlock()
		return apierrors.AlreadyExists("subscription", sourceID)
	}
	sub := &subscription{
		sourceID:      sourceID,
		liveRx:        liveRx,
		bootstrapRx:   bootstrapRx,
		bootstrapping: bootstrapRx != nil,
		dedupSeen:     make(map[string]struct{}),
		status:        component.Running,
	}
	q.subs[sourceID] = sub
	q.mu.Unlock()

	q.subsWg.Add(1)
	go q.runLive(sub)

	if bootstrapRx != nil {
		q.subsWg.Add(1)
		go q.runBootstrap(sub)
	}
	return nil
}

func (q *Query) runBootstrap(sub *subscription) {
	defer q.subsWg.Done()
	for {
		select {
		case ev, ok := <-sub.bootstrapRx:
			if !ok {
				q.completeBootstrap(sub)
				return
			}
			if ev.Change.After == nil {
				continue // bootstrap is insert-only; skip malformed events
			}
			sub.mu.Lock()
			sub.dedupSeen[ev.Change.After.ElementID()] = struct{}{}
			sub.mu.Unlock()
			q.evaluate(ev.Change)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Query) completeBootstrap(sub *subscription) {
	sub.mu.Lock()
	buffered := sub.buffer
	sub.buffer = nil
	sub.bootstrapping = false
	dedup := sub.dedupSeen
	sub.mu.Unlock()

	for _, ev := range buffered {
		id := elementID(ev)
		if id != "" {
			if _, seen := dedup[id]; seen {
				continue // already applied via bootstrap; dedup per Open Question resolution 1
			}
		}
		if err := q.pq.Push(q.ctx, ev); err != nil {
			return
		}
	}

	sub.mu.Lock()
	sub.dedupSeen = nil
	sub.mu.Unlock()
}

func elementID(ev component.ChangeEvent) string {
	switch ev.Kind {
	case component.Insert:
		if ev.After != nil {
			return ev.After.ElementID()
		}
	case component.Delete:
		if ev.Before != nil {
			return ev.Before.ElementID()
		}
	case component.Update:
		if ev.After != nil {
			return ev.After.ElementID()
		}
	}
	return ""
}

func (q *Query) runLive(sub *subscription) {
	defer q.subsWg.Done()
	for {
		select {
		case ev, ok := <-sub.liveRx:
			if !ok {
				return
			}
			sub.mu.Lock()
			bootstrapping := sub.bootstrapping
			if bootstrapping {
				if len(sub.buffer) >= q.bufferSize {
					sub.mu.Unlock()
					msg := "bootstrap buffer overflow for source " + sub.sourceID
					q.log.Error().Str("source_id", sub.sourceID).Msg(msg)
					_ = q.guard.Transition(component.Error, msg)
					return
				}
				sub.buffer = append(sub.buffer, ev)
			}
			sub.mu.Unlock()
			if !bootstrapping {
				if err := q.pq.Push(q.ctx, ev); err != nil {
					return
				}
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// runEval is the single evaluation task (spec.md §5): it pops events from
// the reorder window in effective_from order and feeds them through the
// evaluator until the query is stopped.
func (q *Query) runEval() {
	defer q.evalWg.Done()
	for {
		ev, ok := q.pq.Pop(q.ctx)
		if !ok {
			return
		}
		q.evaluate(ev)
	}
}

// FailSubscription marks the subscription to sourceID as failed, emitting a
// ComponentEvent recording the reason. The query itself keeps running on
// its other subscriptions (spec.md §8 boundary behavior; Open Question
// resolution 2).
func (q *Query) FailSubscription(sourceID, reason string) {
	q.mu.Lock()
	sub, ok := q.subs[sourceID]
	q.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	sub.status = component.Error
	sub.mu.Unlock()

	q.log.Error().Str("source_id", sourceID).Str("reason", reason).Msg("subscription failed")
	if q.sink != nil {
		q.sink.EmitComponentEvent(q.id, component.Error, "subscription to source "+sourceID+" failed: "+reason)
	}
}

// SubscriptionStatus reports the per-subscription status for sourceID.
func (q *Query) SubscriptionStatus(sourceID string) (component.Status, bool) {
	q.mu.Lock()
	sub, ok := q.subs[sourceID]
	q.mu.Unlock()
	if !ok {
		return component.Created, false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.status, true
}

// evaluate feeds ev through the GraphIndex and every declared Join, then
// publishes the combined delta to subscribers.
func (q *Query) evaluate(ev component.ChangeEvent) {
	delta := q.index.Apply(ev)
	for _, j := range q.joins {
		for _, synth := range j.Apply(ev) {
			synthDelta := q.index.Apply(synth)
			delta.Added = append(delta.Added, synthDelta.Added...)
			delta.Updated = append(delta.Updated, synthDelta.Updated...)
			delta.Deleted = append(delta.Deleted, synthDelta.Deleted...)
		}
	}
	if len(delta.Added) == 0 && len(delta.Updated) == 0 && len(delta.Deleted) == 0 {
		return
	}
	q.publish(delta)
}

func (q *Query) publish(delta component.ResultDelta) {
	q.deltaMu.Lock()
	defer q.deltaMu.Unlock()
	for _, ch := range q.subscribers {
		select {
		case ch <- delta:
		default:
			// A slow reaction subscriber does not block query evaluation;
			// spec.md's backpressure contract applies to the dispatcher,
			// not to fan-out toward reactions.
		}
	}
}

// CurrentResults returns a snapshot of the query's current result set.
func (q *Query) CurrentResults() []component.ResultRow {
	return q.index.Snapshot()
}

// KeyedResults returns the result set keyed by element id, the form the
// persisted index stores.
func (q *Query) KeyedResults() map[string]component.ResultRow {
	return q.index.Rows()
}

// RestoreResults seeds the evaluator from a persisted snapshot. The owning
// instance calls it before any subscription is wired, so restored rows and
// subsequently bootstrapped ones resolve against the same keys.
func (q *Query) RestoreResults(rows map[string]component.ResultRow) {
	q.index.Restore(rows)
}

// SubscribeResultDeltas registers a new result-delta subscriber channel.
func (q *Query) SubscribeResultDeltas() <-chan component.ResultDelta {
	ch := make(chan component.ResultDelta, 64)
	q.deltaMu.Lock()
	q.subscribers = append(q.subscribers, ch)
	q.deltaMu.Unlock()
	return ch
}
