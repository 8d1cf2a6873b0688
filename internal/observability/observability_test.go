package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func TestComponentEventHistory_RecentBeforeWrap(t *testing.T) {
	h := NewComponentEventHistory(3)
	h.Record(ComponentEvent{ComponentID: "a", Status: component.Starting})
	h.Record(ComponentEvent{ComponentID: "a", Status: component.Running})

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, component.Starting, recent[0].Status)
	assert.Equal(t, component.Running, recent[1].Status)
}

func TestComponentEventHistory_EvictsOldestOnWrap(t *testing.T) {
	h := NewComponentEventHistory(2)
	h.Record(ComponentEvent{ComponentID: "a", Status: component.Starting})
	h.Record(ComponentEvent{ComponentID: "a", Status: component.Running})
	h.Record(ComponentEvent{ComponentID: "a", Status: component.Stopping})

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, component.Running, recent[0].Status)
	assert.Equal(t, component.Stopping, recent[1].Status)
}

func TestComponentLogRegistry_RecordAndRecent(t *testing.T) {
	r := NewComponentLogRegistry(2)
	r.record(LogLine{ComponentID: "a", Level: "info", Message: "first"})
	r.record(LogLine{ComponentID: "a", Level: "info", Message: "second"})
	r.record(LogLine{ComponentID: "a", Level: "warn", Message: "third"})

	recent := r.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Message)
	assert.Equal(t, "third", recent[1].Message)
}
