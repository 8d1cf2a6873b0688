package logreaction

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func TestDescriptor_Create_RejectsBadTemplate(t *testing.T) {
	_, err := Descriptor{}.Create("log-1", map[string]interface{}{
		"template": "{{.row.name", // unclosed action
	}, true, []string{"q1"})
	require.Error(t, err)
}

func TestDescriptor_Create_DefaultsLevel(t *testing.T) {
	raw, err := Descriptor{}.Create("log-1", map[string]interface{}{}, true, []string{"q1"})
	require.NoError(t, err)

	r, ok := raw.(component.Reaction)
	require.True(t, ok)
	assert.Equal(t, "log", r.Kind())
	assert.Equal(t, []string{"q1"}, r.QueryIDs())
	assert.Equal(t, zerolog.InfoLevel, raw.(*Reaction).level)
}

func TestRender_TemplateAndFallback(t *testing.T) {
	r := NewReaction("log-1", []string{"q1"}, "", "info")
	line, err := r.render("q1", "added", component.ResultRow{"name": "Alpha"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alpha"}`, line)

	templated := NewReaction("log-2", []string{"q1"}, "{{.op}}: {{.row.name}}", "debug")
	line, err = templated.render("q1", "added", component.ResultRow{"name": "Alpha"})
	require.NoError(t, err)
	assert.Equal(t, "added: Alpha", line)
}

func TestReaction_LifecycleAndConsume(t *testing.T) {
	r := NewReaction("log-1", []string{"q1"}, "", "info")

	deltas := make(chan component.ResultDelta, 1)
	r.AttachQueryDeltas("q1", deltas)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, component.Running, r.Status())

	deltas <- component.ResultDelta{Added: []component.ResultRow{{"name": "Alpha"}}}
	close(deltas)

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, component.Stopped, r.Status())
}
