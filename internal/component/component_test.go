package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []struct {
		id      string
		status  Status
		message string
	}
}

func (s *recordingSink) EmitComponentEvent(componentID string, status Status, message string) {
	s.events = append(s.events, struct {
		id      string
		status  Status
		message string
	}{componentID, status, message})
}

func TestStatusGuard_LegalLifecycle(t *testing.T) {
	sink := &recordingSink{}
	g := NewStatusGuard("items", sink)
	assert.Equal(t, Created, g.Status())

	require.NoError(t, g.Transition(Starting, ""))
	require.NoError(t, g.Transition(Running, ""))
	require.NoError(t, g.Transition(Stopping, ""))
	require.NoError(t, g.Transition(Stopped, ""))
	assert.Equal(t, Stopped, g.Status())
	assert.Len(t, sink.events, 4)
}

func TestStatusGuard_RejectsIllegalTransition(t *testing.T) {
	g := NewStatusGuard("items", nil)
	err := g.Transition(Running, "")
	require.Error(t, err)
	assert.Equal(t, Created, g.Status())
}

func TestStatusGuard_ErrorReachableFromAnyState(t *testing.T) {
	sink := &recordingSink{}
	g := NewStatusGuard("items", sink)
	require.NoError(t, g.Transition(Error, "boom"))
	assert.Equal(t, Error, g.Status())
	assert.Equal(t, "boom", sink.events[len(sink.events)-1].message)
}

func TestStatusGuard_ErrorRecoversViaStopThenStart(t *testing.T) {
	g := NewStatusGuard("items", nil)
	require.NoError(t, g.Transition(Starting, ""))
	require.NoError(t, g.Transition(Error, "boom"))

	require.NoError(t, g.Transition(Stopping, ""))
	require.NoError(t, g.Transition(Stopped, ""))
	require.NoError(t, g.Transition(Starting, ""))
	assert.Equal(t, Starting, g.Status())
}

func TestStatusGuard_StoppedCanRestart(t *testing.T) {
	g := NewStatusGuard("items", nil)
	require.NoError(t, g.Transition(Starting, ""))
	require.NoError(t, g.Transition(Running, ""))
	require.NoError(t, g.Transition(Stopping, ""))
	require.NoError(t, g.Transition(Stopped, ""))
	require.NoError(t, g.Transition(Starting, ""))
	assert.Equal(t, Starting, g.Status())
}

func TestProperties_Get(t *testing.T) {
	props := Properties{{Name: "name", Value: "Alpha"}, {Name: "price", Value: 10}}

	v, ok := props.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Alpha", v)

	_, ok = props.Get("missing")
	assert.False(t, ok)
}

func TestNode_ImplementsElement(t *testing.T) {
	n := &Node{ID: "a", Labels: []string{"Item"}}
	var el Element = n
	assert.Equal(t, "a", el.ElementID())
	assert.Equal(t, []string{"Item"}, el.ElementLabels())
}
