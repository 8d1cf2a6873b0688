// Package instance implements DrasiLib (spec.md §4.7): one coherent set of
// sources, queries and reactions sharing a configuration and, optionally,
// one state store.
//
// Grounded on the teacher's internal/plugins/runtime.go Runtime struct (a
// map + RWMutex + Start/Stop lifecycle), generalized from "one runtime
// owns all plugins" to "one Instance owns its own sources/queries/
// reactions," since spec.md's InstanceRegistry (internal/instanceregistry)
// hosts many such instances side by side.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/dispatch"
	"github.com/drasi-project/drasi-server/internal/indexstore"
	"github.com/drasi-project/drasi-server/internal/middleware"
	"github.com/drasi-project/drasi-server/internal/observability"
	"github.com/drasi-project/drasi-server/internal/statestore"
)

// DrainTimeout bounds how long Stop waits for components to drain before
// forceful cancellation (spec.md §5 default: 30s).
const DrainTimeout = 30 * time.Second

// SubscriptionWiring is what Instance.AddQuery uses to wire a query's
// source subscriptions (spec.md §4.3's SourceSubscriptionSettings).
// Middlewares is the resolved form of Settings.Pipeline; every change
// event flowing across this subscription passes through it in order.
type SubscriptionWiring struct {
	SourceID    string
	Settings    component.SubscriptionSettings
	Middlewares []middleware.Middleware

	wired bool
}

// queryEntry pairs a query with the subscriptions it still needs wired
// once its sources are Running (spec.md §4.7: "queries that require a
// source not yet started will have their subscription deferred").
type queryEntry struct {
	query         component.ContinuousQuery
	autoStart     bool
	dispatchCap   int
	subscriptions []SubscriptionWiring
	restored      bool
}

// resultRestorer is implemented by queries whose evaluator can persist and
// reload its result set keyed by element id (persistIndex, spec.md §6.3).
type resultRestorer interface {
	KeyedResults() map[string]component.ResultRow
	RestoreResults(rows map[string]component.ResultRow)
}

// Instance is DrasiLib.
type Instance struct {
	ID                       string
	PersistIndex             bool
	DefaultPriorityQueueCap  int
	DefaultDispatchBufferCap int
	StateStore               statestore.Provider

	// IndexStore holds persisted query snapshots when PersistIndex is set;
	// the builder opens it under ./data/<sanitized-id>/index before Start.
	IndexStore indexstore.Store

	mu        sync.RWMutex
	sources   map[string]component.Source
	queries   map[string]*queryEntry
	reactions map[string]component.Reaction

	// dispatchers maps sourceID -> the ChangeDispatcher links pumping that
	// source's live stream to each subscribed query. Closing a source's
	// links is how RemoveSource propagates end-of-stream (spec.md §4.5's
	// "closing the receiver causes senders to observe send-failure").
	dispatchers map[string][]*dispatch.ChangeDispatcher

	events *observability.ComponentEventHistory
	logs   *observability.ComponentLogRegistry
}

// New constructs an empty Instance.
func New(id string, store statestore.Provider, persistIndex bool, defaultPQCap, defaultDispatchCap int) *Instance {
	return &Instance{
		ID:                       id,
		StateStore:               store,
		PersistIndex:             persistIndex,
		DefaultPriorityQueueCap:  defaultPQCap,
		DefaultDispatchBufferCap: defaultDispatchCap,
		sources:                  make(map[string]component.Source),
		queries:                  make(map[string]*queryEntry),
		reactions:                make(map[string]component.Reaction),
		dispatchers:              make(map[string][]*dispatch.ChangeDispatcher),
		events:                   observability.NewComponentEventHistory(256),
		logs:                     observability.NewComponentLogRegistry(256),
	}
}

// EmitComponentEvent implements component.EventSink, recording every
// lifecycle transition into this instance's ring buffer (spec.md §4.4).
func (in *Instance) EmitComponentEvent(componentID string, status component.Status, message string) {
	in.events.Record(observability.ComponentEvent{
		ID:          uuid.NewString(),
		ComponentID: componentID,
		Status:      status,
		Message:     message,
		Timestamp:   time.Now(),
	})
}

// Events exposes the component event ring buffer for the control plane.
func (in *Instance) Events() *observability.ComponentEventHistory { return in.events }

// Logs exposes the component log ring buffer for the control plane.
func (in *Instance) Logs() *observability.ComponentLogRegistry { return in.logs }

// AddSource registers src. Duplicate ids are rejected as "already exists"
// (spec.md §4.7, surfaced as 409-equivalent).
func (in *Instance) AddSource(src component.Source) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.sources[src.ID()]; exists {
		return apierrors.AlreadyExists("source", src.ID())
	}
	in.sources[src.ID()] = src
	in.attachLogHook(src.ID(), src)
	return nil
}

// attachLogHook routes a component's log lines into this instance's
// ComponentLogRegistry when the component supports it, before it starts.
func (in *Instance) attachLogHook(id string, c interface{}) {
	if a, ok := c.(component.LogHookAttacher); ok {
		a.AttachLogHook(in.logs.Hook(id))
	}
}

// RemoveSource stops src, closes every dispatcher link pumping its live
// stream, fails the affected query subscriptions, and unregisters it
// (spec.md §8 boundary behavior: "removing a source with an attached query
// ⇒ the query's subscription to that source transitions to Error; the
// query remains Running for its other subscriptions").
func (in *Instance) RemoveSource(ctx context.Context, id string) error {
	in.mu.Lock()
	src, exists := in.sources[id]
	if !exists {
		in.mu.Unlock()
		return apierrors.ComponentNotFound("source", id)
	}
	links := in.dispatchers[id]
	delete(in.sources, id)
	delete(in.dispatchers, id)

	subscribed := make([]component.ContinuousQuery, 0)
	for _, qe := range in.queries {
		for _, wiring := range qe.subscriptions {
			if wiring.SourceID == id && wiring.wired {
				subscribed = append(subscribed, qe.query)
				break
			}
		}
	}
	in.mu.Unlock()

	for _, d := range links {
		d.Close()
	}
	for _, q := range subscribed {
		q.FailSubscription(id, "source "+id+" removed")
	}
	if err := src.Stop(ctx); err != nil {
		return apierrors.OperationFailed("source", id, "stop", err)
	}
	return nil
}

// AddQuery registers q along with the source subscriptions it needs.
// Subscriptions are not wired here: Start wires each one whose source is
// registered by then, and a later Start wires any whose source was
// registered afterwards.
func (in *Instance) AddQuery(q component.ContinuousQuery, autoStart bool, dispatchCap int, subs []SubscriptionWiring) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.queries[q.ID()]; exists {
		return apierrors.AlreadyExists("query", q.ID())
	}
	in.queries[q.ID()] = &queryEntry{query: q, autoStart: autoStart, dispatchCap: dispatchCap, subscriptions: subs}
	in.attachLogHook(q.ID(), q)
	return nil
}

// RemoveQuery stops q and unregisters it.
func (in *Instance) RemoveQuery(ctx context.Context, id string) error {
	in.mu.Lock()
	entry, exists := in.queries[id]
	if !exists {
		in.mu.Unlock()
		return apierrors.ComponentNotFound("query", id)
	}
	delete(in.queries, id)
	in.mu.Unlock()

	if err := entry.query.Stop(ctx); err != nil {
		return apierrors.OperationFailed("query", id, "stop", err)
	}
	return nil
}

// AddReaction registers r.
func (in *Instance) AddReaction(r component.Reaction) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.reactions[r.ID()]; exists {
		return apierrors.AlreadyExists("reaction", r.ID())
	}
	in.reactions[r.ID()] = r
	in.attachLogHook(r.ID(), r)
	return nil
}

// RemoveReaction stops r and unregisters it.
func (in *Instance) RemoveReaction(ctx context.Context, id string) error {
	in.mu.Lock()
	r, exists := in.reactions[id]
	if !exists {
		in.mu.Unlock()
		return apierrors.ComponentNotFound("reaction", id)
	}
	delete(in.reactions, id)
	in.mu.Unlock()

	if err := r.Stop(ctx); err != nil {
		return apierrors.OperationFailed("reaction", id, "stop", err)
	}
	return nil
}

// Start brings the instance up in spec.md §4.7's order: state store (already
// open by construction), then sources, then queries (wiring their deferred
// subscriptions), then reactions. Only queries honour their autoStart flag;
// every source and reaction still in Created is started, since neither
// interface exposes an autoStart setting.
func (in *Instance) Start(ctx context.Context) error {
	in.mu.RLock()
	sources := make([]component.Source, 0, len(in.sources))
	for _, s := range in.sources {
		sources = append(sources, s)
	}
	queries := make([]*queryEntry, 0, len(in.queries))
	for _, q := range in.queries {
		queries = append(queries, q)
	}
	reactions := make([]component.Reaction, 0, len(in.reactions))
	for _, r := range in.reactions {
		reactions = append(reactions, r)
	}
	in.mu.RUnlock()

	for _, s := range sources {
		if s.Status() == component.Created {
			if err := s.Start(ctx); err != nil {
				return apierrors.OperationFailed("source", s.ID(), "start", err)
			}
		}
	}

	for _, qe := range queries {
		in.restoreIndex(qe)
		for i := range qe.subscriptions {
			in.mu.Lock()
			wiring := &qe.subscriptions[i]
			if wiring.wired {
				in.mu.Unlock()
				continue
			}
			src, ok := in.sources[wiring.SourceID]
			in.mu.Unlock()
			if !ok {
				// Deferred: the source is not registered yet; a later Start
				// wires it once it is (spec.md §4.7).
				continue
			}
			resp, err := src.Subscribe(wiring.Settings)
			if err != nil {
				return apierrors.OperationFailed("source", wiring.SourceID, "subscribe", err)
			}

			liveRx := in.pumpLive(wiring.SourceID, qe.dispatchCap, wiring.Middlewares, resp.LiveRx)
			bootstrapRx := resp.BootstrapRx
			if bootstrapRx != nil && len(wiring.Middlewares) > 0 {
				bootstrapRx = pumpBootstrap(wiring.Middlewares, bootstrapRx)
			}
			if err := qe.query.AddSubscription(wiring.SourceID, bootstrapRx, liveRx); err != nil {
				return apierrors.OperationFailed("query", qe.query.ID(), "add_subscription", err)
			}
			in.mu.Lock()
			wiring.wired = true
			in.mu.Unlock()
		}
		if qe.autoStart && qe.query.Status() == component.Created {
			if err := qe.query.Start(ctx); err != nil {
				return apierrors.OperationFailed("query", qe.query.ID(), "start", err)
			}
		}
	}

	for _, r := range reactions {
		if r.Status() != component.Created {
			continue
		}
		for _, queryID := range r.QueryIDs() {
			in.mu.RLock()
			qe, ok := in.queries[queryID]
			in.mu.RUnlock()
			if !ok {
				continue
			}
			r.AttachQueryDeltas(queryID, qe.query.SubscribeResultDeltas())
		}
		if err := r.Start(ctx); err != nil {
			return apierrors.OperationFailed("reaction", r.ID(), "start", err)
		}
	}

	return nil
}

// restoreIndex seeds a query's evaluator from its persisted snapshot, once,
// before any subscription starts feeding it — restored and subsequently
// bootstrapped rows then resolve against the same element-id keys.
func (in *Instance) restoreIndex(qe *queryEntry) {
	if !in.PersistIndex || in.IndexStore == nil || qe.restored {
		return
	}
	qe.restored = true
	rr, ok := qe.query.(resultRestorer)
	if !ok {
		return
	}
	rows, found, err := in.IndexStore.LoadSnapshot(qe.query.ID())
	if err != nil {
		in.EmitComponentEvent(qe.query.ID(), component.Starting, "index snapshot load failed: "+err.Error())
		return
	}
	if found {
		rr.RestoreResults(rows)
	}
}

// pumpLive interposes a bounded ChangeDispatcher between a source's live
// stream and one query's ingestion task (spec.md §4.5), applying the
// subscription's middleware pipeline to each event. The pump is the
// dispatcher's sole producer; it closes the consumer side when the source
// stream ends or the dispatcher is closed by RemoveSource.
func (in *Instance) pumpLive(sourceID string, capacity int, mws []middleware.Middleware, src <-chan component.ChangeEvent) <-chan component.ChangeEvent {
	if capacity < 1 {
		capacity = in.DefaultDispatchBufferCap
	}
	d := dispatch.NewChangeDispatcher(capacity)
	in.mu.Lock()
	in.dispatchers[sourceID] = append(in.dispatchers[sourceID], d)
	in.mu.Unlock()

	go func() {
		defer d.CloseSend()
		for ev := range src {
			out, keep := middleware.Run(mws, ev)
			if !keep {
				continue
			}
			if err := d.Send(context.Background(), out); err != nil {
				// ErrClosed: routine shutdown signal, not an error (spec.md §7).
				return
			}
		}
	}()
	return d.Recv()
}

// pumpBootstrap applies the middleware pipeline to a bootstrap stream,
// preserving sequence order and the close-as-completion contract.
func pumpBootstrap(mws []middleware.Middleware, src <-chan component.BootstrapEvent) <-chan component.BootstrapEvent {
	out := make(chan component.BootstrapEvent)
	go func() {
		defer close(out)
		for ev := range src {
			change, keep := middleware.Run(mws, ev.Change)
			if !keep {
				continue
			}
			ev.Change = change
			out <- ev
		}
	}()
	return out
}

// Stop tears the instance down in reverse order with a bounded drain
// deadline (spec.md §4.7, §5).
func (in *Instance) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DrainTimeout)
	defer cancel()

	in.mu.RLock()
	reactions := make([]component.Reaction, 0, len(in.reactions))
	for _, r := range in.reactions {
		reactions = append(reactions, r)
	}
	queries := make([]*queryEntry, 0, len(in.queries))
	for _, q := range in.queries {
		queries = append(queries, q)
	}
	sources := make([]component.Source, 0, len(in.sources))
	for _, s := range in.sources {
		sources = append(sources, s)
	}
	in.mu.RUnlock()

	for _, r := range reactions {
		_ = r.Stop(ctx)
	}
	for _, qe := range queries {
		if in.PersistIndex && in.IndexStore != nil {
			if rr, ok := qe.query.(resultRestorer); ok {
				if err := in.IndexStore.SaveSnapshot(qe.query.ID(), rr.KeyedResults()); err != nil {
					// Best-effort, like config persistence (spec.md §7): the
					// stop proceeds; the snapshot is rebuilt from bootstrap on
					// the next start.
					in.EmitComponentEvent(qe.query.ID(), component.Stopping, "index snapshot save failed: "+err.Error())
				}
			}
		}
		_ = qe.query.Stop(ctx)
	}
	for _, s := range sources {
		_ = s.Stop(ctx)
	}

	// Unblock any pump still suspended on a full dispatcher so its
	// goroutine observes shutdown (send-failure as routine signal, §4.5).
	in.mu.Lock()
	for _, links := range in.dispatchers {
		for _, d := range links {
			d.Close()
		}
	}
	in.dispatchers = make(map[string][]*dispatch.ChangeDispatcher)
	in.mu.Unlock()

	if in.IndexStore != nil {
		_ = in.IndexStore.Close()
	}
	if in.StateStore != nil {
		_ = in.StateStore.Close()
	}
	return nil
}

// GetQueryResults returns a snapshot of query id's current result set.
func (in *Instance) GetQueryResults(id string) ([]component.ResultRow, error) {
	in.mu.RLock()
	entry, exists := in.queries[id]
	in.mu.RUnlock()
	if !exists {
		return nil, apierrors.ComponentNotFound("query", id)
	}
	return entry.query.CurrentResults(), nil
}
