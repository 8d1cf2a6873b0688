package grpcstub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func TestReactionStub_RecordsDeliveries(t *testing.T) {
	raw, err := Descriptor{StubKind: "grpc"}.Create("grpc-1", nil, true, []string{"q1"})
	require.NoError(t, err)
	r, ok := raw.(component.Reaction)
	require.True(t, ok)
	assert.Equal(t, "grpc", r.Kind())

	deltas := make(chan component.ResultDelta, 1)
	r.AttachQueryDeltas("q1", deltas)
	require.NoError(t, r.Start(context.Background()))

	deltas <- component.ResultDelta{Added: []component.ResultRow{{"name": "Alpha"}}}

	stub := raw.(*Reaction)
	require.Eventually(t, func() bool {
		return len(stub.Delivered()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "q1", stub.Delivered()[0].QueryID)

	require.NoError(t, r.Stop(context.Background()))
}

func TestSourceStub_InjectReachesSubscriber(t *testing.T) {
	raw, err := SourceDescriptor{StubKind: "mssql"}.Create("mssql-1", nil, true)
	require.NoError(t, err)
	src, ok := raw.(component.Source)
	require.True(t, ok)
	assert.Equal(t, "mssql", src.Kind())

	require.NoError(t, src.Start(context.Background()))
	resp, err := src.Subscribe(component.SubscriptionSettings{QueryID: "q1", SourceID: "mssql-1"})
	require.NoError(t, err)

	stub := raw.(*Source)
	require.NoError(t, stub.Inject(context.Background(), component.ChangeEvent{
		Kind: component.Insert, After: &component.Node{ID: "a", Labels: []string{"Item"}},
	}))

	ev := <-resp.LiveRx
	assert.Equal(t, "mssql-1", ev.SourceID)

	require.NoError(t, src.Stop(context.Background()))
	_, open := <-resp.LiveRx
	assert.False(t, open)
}
