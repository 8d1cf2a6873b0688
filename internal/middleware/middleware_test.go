package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func nodeEvent(kind component.ChangeEventKind) component.ChangeEvent {
	n := &component.Node{ID: "n1", Labels: []string{"Item"}}
	ev := component.ChangeEvent{Kind: kind}
	if kind == component.Delete {
		ev.Before = n
	} else {
		ev.After = n
	}
	return ev
}

func relationEvent() component.ChangeEvent {
	return component.ChangeEvent{
		Kind:  component.Insert,
		After: &component.Relation{ID: "r1", Labels: []string{"KNOWS"}, FromID: "a", ToID: "b"},
	}
}

func TestResolve_UnknownIDEnumeratesRegistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve([]string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
	assert.Contains(t, err.Error(), "nodes-only")
	assert.Contains(t, err.Error(), "relations-only")
	assert.Contains(t, err.Error(), "skip-deletes")
}

func TestResolve_EmptyPipeline(t *testing.T) {
	r := NewRegistry()
	pipeline, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, pipeline)
}

func TestRun_NodesOnlyDropsRelations(t *testing.T) {
	r := NewRegistry()
	pipeline, err := r.Resolve([]string{"nodes-only"})
	require.NoError(t, err)

	_, keep := Run(pipeline, relationEvent())
	assert.False(t, keep)

	out, keep := Run(pipeline, nodeEvent(component.Insert))
	assert.True(t, keep)
	assert.Equal(t, "n1", out.After.ElementID())
}

func TestRun_RelationsOnlyDropsNodes(t *testing.T) {
	r := NewRegistry()
	pipeline, err := r.Resolve([]string{"relations-only"})
	require.NoError(t, err)

	_, keep := Run(pipeline, nodeEvent(component.Insert))
	assert.False(t, keep)

	_, keep = Run(pipeline, relationEvent())
	assert.True(t, keep)
}

func TestRun_SkipDeletes(t *testing.T) {
	r := NewRegistry()
	pipeline, err := r.Resolve([]string{"skip-deletes"})
	require.NoError(t, err)

	_, keep := Run(pipeline, nodeEvent(component.Delete))
	assert.False(t, keep)

	_, keep = Run(pipeline, nodeEvent(component.Insert))
	assert.True(t, keep)
}

func TestRun_StagesComposeInOrder(t *testing.T) {
	r := NewRegistry()
	pipeline, err := r.Resolve([]string{"nodes-only", "skip-deletes"})
	require.NoError(t, err)

	_, keep := Run(pipeline, relationEvent())
	assert.False(t, keep)
	_, keep = Run(pipeline, nodeEvent(component.Delete))
	assert.False(t, keep)
	_, keep = Run(pipeline, nodeEvent(component.Insert))
	assert.True(t, keep)
}

type overriding struct{}

func (overriding) ID() string { return "nodes-only" }
func (overriding) Apply(ev component.ChangeEvent) (component.ChangeEvent, bool) {
	return ev, true
}

func TestRegister_LastWins(t *testing.T) {
	r := NewRegistry()
	r.Register(overriding{})

	pipeline, err := r.Resolve([]string{"nodes-only"})
	require.NoError(t, err)

	_, keep := Run(pipeline, relationEvent())
	assert.True(t, keep)
}
