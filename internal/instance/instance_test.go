package instance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
	"github.com/drasi-project/drasi-server/internal/indexstore"
	"github.com/drasi-project/drasi-server/internal/middleware"
	"github.com/drasi-project/drasi-server/internal/plugins/mock"
	"github.com/drasi-project/drasi-server/internal/plugins/noop"
	"github.com/drasi-project/drasi-server/internal/query"
)

func itemNode(id, name string) *component.Node {
	return &component.Node{ID: id, Labels: []string{"Item"}, Props: component.Properties{{Name: "name", Value: name}}}
}

// TestInstance_StartWiresDeferredSubscriptionAndAutoStartsQuery exercises
// spec.md §8 scenario (a) end to end through Instance: a mock source
// scripted with bootstrap events, a query subscribed to it, and a noop
// reaction — all wired via AddSource/AddQuery/AddReaction before Start.
func TestInstance_StartWiresDeferredSubscriptionAndAutoStartsQuery(t *testing.T) {
	in := New("default", nil, false, 64, 64)

	src := mock.NewSource("items")
	src.ScriptBootstrap([]component.BootstrapEvent{
		{SourceID: "items", Sequence: 1, Change: component.ChangeEvent{Kind: component.Insert, After: itemNode("a", "Alpha"), SourceID: "items"}},
		{SourceID: "items", Sequence: 2, Change: component.ChangeEvent{Kind: component.Insert, After: itemNode("b", "Beta"), SourceID: "items"}},
	})
	require.NoError(t, in.AddSource(src))

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)

	subs := []SubscriptionWiring{{
		SourceID: "items",
		Settings: component.SubscriptionSettings{
			QueryID: "item-names", SourceID: "items",
			NodeLabels:       map[string]struct{}{"Item": {}},
			BootstrapEnabled: true, BootstrapBufferSize: 64,
		},
	}}
	require.NoError(t, in.AddQuery(q, true, 64, subs))

	r := noop.NewReaction("profiler", []string{"item-names"})
	require.NoError(t, in.AddReaction(r))

	require.NoError(t, in.Start(context.Background()))

	assert.Eventually(t, func() bool {
		rows, err := in.GetQueryResults("item-names")
		return err == nil && len(rows) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, component.Running, src.Status())
	assert.Equal(t, component.Running, q.Status())
	assert.Equal(t, component.Running, r.Status())

	require.NoError(t, in.Stop(context.Background()))
	assert.Equal(t, component.Stopped, q.Status())
}

func TestInstance_AddSource_DuplicateRejected(t *testing.T) {
	in := New("default", nil, false, 64, 64)
	require.NoError(t, in.AddSource(mock.NewSource("items")))

	err := in.AddSource(mock.NewSource("items"))
	require.Error(t, err)
}

func TestInstance_RemoveSource_UnknownNotFound(t *testing.T) {
	in := New("default", nil, false, 64, 64)
	err := in.RemoveSource(context.Background(), "missing")
	require.Error(t, err)
}

func TestInstance_GetQueryResults_UnknownNotFound(t *testing.T) {
	in := New("default", nil, false, 64, 64)
	_, err := in.GetQueryResults("missing")
	require.Error(t, err)
}

// TestInstance_RemoveSource_FailsAttachedSubscription covers spec.md §8's
// boundary behavior: removing a source with an attached query transitions
// the query's subscription to that source to Error while the query keeps
// running.
func TestInstance_RemoveSource_FailsAttachedSubscription(t *testing.T) {
	in := New("default", nil, false, 64, 64)

	require.NoError(t, in.AddSource(mock.NewSource("items")))

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)
	subs := []SubscriptionWiring{{
		SourceID: "items",
		Settings: component.SubscriptionSettings{QueryID: "item-names", SourceID: "items"},
	}}
	require.NoError(t, in.AddQuery(q, true, 64, subs))
	require.NoError(t, in.Start(context.Background()))

	require.NoError(t, in.RemoveSource(context.Background(), "items"))

	st, ok := q.SubscriptionStatus("items")
	require.True(t, ok)
	assert.Equal(t, component.Error, st)
	assert.Equal(t, component.Running, q.Status())

	// The query's failure log line was routed through the instance's
	// ComponentLogRegistry hook attached at AddQuery.
	var logged bool
	for _, line := range in.Logs().Recent() {
		if line.ComponentID == "item-names" {
			logged = true
		}
	}
	assert.True(t, logged, "expected the subscription failure to reach the component log registry")

	require.NoError(t, in.Stop(context.Background()))
}

// TestInstance_MiddlewarePipelineFiltersLiveEvents wires a nodes-only
// pipeline between a scripted source and a query: the relation event must
// never reach the evaluator.
func TestInstance_MiddlewarePipelineFiltersLiveEvents(t *testing.T) {
	in := New("default", nil, false, 64, 64)

	src := mock.NewSource("items")
	src.ScriptLive([]component.ChangeEvent{
		{Kind: component.Insert, After: itemNode("a", "Alpha"), SourceID: "items"},
		{Kind: component.Insert, After: &component.Relation{ID: "r1", Labels: []string{"Item"}, FromID: "a", ToID: "b"}, SourceID: "items"},
		{Kind: component.Insert, After: itemNode("b", "Beta"), SourceID: "items"},
	})
	require.NoError(t, in.AddSource(src))

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)

	mws, err := middleware.NewRegistry().Resolve([]string{"nodes-only"})
	require.NoError(t, err)
	subs := []SubscriptionWiring{{
		SourceID:    "items",
		Settings:    component.SubscriptionSettings{QueryID: "item-names", SourceID: "items", Pipeline: []string{"nodes-only"}},
		Middlewares: mws,
	}}
	require.NoError(t, in.AddQuery(q, true, 64, subs))
	require.NoError(t, in.Start(context.Background()))

	assert.Eventually(t, func() bool {
		rows, err := in.GetQueryResults("item-names")
		return err == nil && len(rows) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Stop(context.Background()))
}

// TestInstance_PersistIndexSavesSnapshotOnStop confirms a query's result
// set is written to the index store during Stop when persistIndex is set.
func TestInstance_PersistIndexSavesSnapshotOnStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	store, err := indexstore.Open(dir)
	require.NoError(t, err)

	in := New("default", nil, true, 64, 64)
	in.IndexStore = store

	src := mock.NewSource("items")
	src.ScriptLive([]component.ChangeEvent{
		{Kind: component.Insert, After: itemNode("a", "Alpha"), SourceID: "items"},
	})
	require.NoError(t, in.AddSource(src))

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)
	subs := []SubscriptionWiring{{
		SourceID: "items",
		Settings: component.SubscriptionSettings{QueryID: "item-names", SourceID: "items"},
	}}
	require.NoError(t, in.AddQuery(q, true, 64, subs))
	require.NoError(t, in.Start(context.Background()))

	require.Eventually(t, func() bool {
		rows, err := in.GetQueryResults("item-names")
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Stop(context.Background()))

	// Stop closed the store; reopen the same directory to confirm the
	// snapshot is durable, keyed by element id.
	reopened, err := indexstore.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	rows, found, err := reopened.LoadSnapshot("item-names")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alpha", rows["a"]["name"])
}

// TestInstance_PersistIndexRestoresSnapshotOnStart confirms a persisted
// snapshot is loaded back into the query's evaluator on the next Start, so
// results survive a restart without waiting for bootstrap.
func TestInstance_PersistIndexRestoresSnapshotOnStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	store, err := indexstore.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot("item-names", map[string]component.ResultRow{
		"a": {"name": "Alpha"},
		"b": {"name": "Beta"},
	}))

	in := New("default", nil, true, 64, 64)
	in.IndexStore = store

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)
	require.NoError(t, in.AddQuery(q, true, 64, nil))
	require.NoError(t, in.Start(context.Background()))

	rows, err := in.GetQueryResults("item-names")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// A later delete against a restored element id still resolves.
	liveRx := make(chan component.ChangeEvent, 1)
	require.NoError(t, q.AddSubscription("items", nil, liveRx))
	liveRx <- component.ChangeEvent{Kind: component.Delete, Before: itemNode("a", "Alpha"), SourceID: "items"}

	require.Eventually(t, func() bool {
		rows, err := in.GetQueryResults("item-names")
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Stop(context.Background()))
}

func TestInstance_RemoveQuery_StopsAndUnregisters(t *testing.T) {
	in := New("default", nil, false, 64, 64)

	index, err := query.BuildGraphIndex("MATCH (i:Item) RETURN i.name AS name")
	require.NoError(t, err)
	q := query.New("item-names", index, nil, 64, 0, in)
	require.NoError(t, in.AddQuery(q, true, 64, nil))
	require.NoError(t, in.Start(context.Background()))

	require.NoError(t, in.RemoveQuery(context.Background(), "item-names"))

	_, err = in.GetQueryResults("item-names")
	require.Error(t, err)
}
