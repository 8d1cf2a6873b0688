package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func ev(effectiveFrom int64) component.ChangeEvent {
	return component.ChangeEvent{Kind: component.Insert, EffectiveFrom: effectiveFrom}
}

func TestChangeDispatcher_SendRecv(t *testing.T) {
	d := NewChangeDispatcher(1)
	require.NoError(t, d.Send(context.Background(), ev(1)))

	got := <-d.Recv()
	assert.Equal(t, int64(1), got.EffectiveFrom)
}

func TestChangeDispatcher_SendBlocksWhenFull(t *testing.T) {
	d := NewChangeDispatcher(1)
	require.NoError(t, d.Send(context.Background(), ev(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Send(ctx, ev(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChangeDispatcher_CloseUnblocksSend(t *testing.T) {
	d := NewChangeDispatcher(0)
	d.Close()

	err := d.Send(context.Background(), ev(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBootstrapChannel_CompleteClosesWithoutFailure(t *testing.T) {
	b := NewBootstrapChannel(2)
	assert.True(t, b.Send(component.BootstrapEvent{Sequence: 1}))
	b.Complete()

	_, ok := <-b.Recv()
	assert.True(t, ok)
	_, ok = <-b.Recv()
	assert.False(t, ok)
	assert.False(t, b.Failed())
}

func TestBootstrapChannel_FailMarksFailed(t *testing.T) {
	b := NewBootstrapChannel(1)
	b.Fail()

	_, ok := <-b.Recv()
	assert.False(t, ok)
	assert.True(t, b.Failed())
}

func TestBootstrapChannel_SendFailsOnOverflow(t *testing.T) {
	b := NewBootstrapChannel(1)
	assert.True(t, b.Send(component.BootstrapEvent{Sequence: 1}))
	assert.False(t, b.Send(component.BootstrapEvent{Sequence: 2}))
}

func TestPriorityQueue_PopsInEffectiveFromOrder(t *testing.T) {
	ctx := context.Background()
	q := NewPriorityQueue(10)
	require.NoError(t, q.Push(ctx, ev(30)))
	require.NoError(t, q.Push(ctx, ev(10)))
	require.NoError(t, q.Push(ctx, ev(20)))

	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(10), first.EffectiveFrom)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(20), second.EffectiveFrom)

	third, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(30), third.EffectiveFrom)
}

func TestPriorityQueue_EqualTimestampsPopInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	q := NewPriorityQueue(10)
	for i := 0; i < 4; i++ {
		e := ev(7)
		e.SourceID = string(rune('a' + i))
		require.NoError(t, q.Push(ctx, e))
	}

	for i := 0; i < 4; i++ {
		got, ok := q.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), got.SourceID)
	}
}

func TestPriorityQueue_PushBlocksWhenFull(t *testing.T) {
	q := NewPriorityQueue(2)
	require.NoError(t, q.Push(context.Background(), ev(10)))
	require.NoError(t, q.Push(context.Background(), ev(20)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, ev(30))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, q.Len())
}

func TestPriorityQueue_PushUnblocksAfterPop(t *testing.T) {
	q := NewPriorityQueue(1)
	require.NoError(t, q.Push(context.Background(), ev(10)))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- q.Push(ctx, ev(20))
	}()

	first, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(10), first.EffectiveFrom)
	require.NoError(t, <-done)
}

func TestChangeDispatcher_CloseSendDrainsThenTerminates(t *testing.T) {
	d := NewChangeDispatcher(2)
	require.NoError(t, d.Send(context.Background(), ev(1)))
	d.CloseSend()

	got, ok := <-d.Recv()
	require.True(t, ok)
	assert.Equal(t, int64(1), got.EffectiveFrom)
	_, ok = <-d.Recv()
	assert.False(t, ok)
}

func TestPriorityQueue_PopBlocksUntilContextDone(t *testing.T) {
	q := NewPriorityQueue(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}
