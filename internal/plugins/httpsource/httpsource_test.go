package httpsource

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/component"
)

func postChange(t *testing.T, s *Source, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestDescriptor_Create_RequiresPort(t *testing.T) {
	_, err := Descriptor{}.Create("hooks", map[string]interface{}{}, true)
	require.Error(t, err)

	raw, err := Descriptor{}.Create("hooks", map[string]interface{}{"port": 9090}, true)
	require.NoError(t, err)
	src, ok := raw.(component.Source)
	require.True(t, ok)
	assert.Equal(t, "http", src.Kind())
}

func TestServeHTTP_InsertReachesSubscriber(t *testing.T) {
	s := NewSource("hooks", 9090, "/events")
	resp, err := s.Subscribe(component.SubscriptionSettings{QueryID: "q", SourceID: "hooks"})
	require.NoError(t, err)

	rec := postChange(t, s, `{"op":"insert","element":{"id":"a","labels":["Item"],"properties":{"name":"Alpha","rank":1}}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ev := <-resp.LiveRx
	assert.Equal(t, component.Insert, ev.Kind)
	assert.Equal(t, "hooks", ev.SourceID)

	node, ok := ev.After.(*component.Node)
	require.True(t, ok)
	assert.Equal(t, "a", node.ID)
	assert.Equal(t, []string{"Item"}, node.Labels)
	// Declaration order is preserved.
	require.Len(t, node.Props, 2)
	assert.Equal(t, "name", node.Props[0].Name)
	assert.Equal(t, "rank", node.Props[1].Name)
}

func TestServeHTTP_RelationPayloadDecodesAsRelation(t *testing.T) {
	s := NewSource("hooks", 9090, "/events")
	resp, err := s.Subscribe(component.SubscriptionSettings{QueryID: "q", SourceID: "hooks"})
	require.NoError(t, err)

	rec := postChange(t, s, `{"op":"insert","element":{"id":"r1","labels":["KNOWS"],"from":"a","to":"b"}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ev := <-resp.LiveRx
	rel, ok := ev.After.(*component.Relation)
	require.True(t, ok)
	assert.Equal(t, "a", rel.FromID)
	assert.Equal(t, "b", rel.ToID)
}

func TestServeHTTP_UpdateCarriesBeforeAndAfter(t *testing.T) {
	s := NewSource("hooks", 9090, "/events")
	resp, err := s.Subscribe(component.SubscriptionSettings{QueryID: "q", SourceID: "hooks"})
	require.NoError(t, err)

	rec := postChange(t, s, `{"op":"update","before":{"id":"a","labels":["Item"]},"after":{"id":"a","labels":["Item"],"properties":{"name":"Alpha"}}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ev := <-resp.LiveRx
	assert.Equal(t, component.Update, ev.Kind)
	require.NotNil(t, ev.Before)
	require.NotNil(t, ev.After)
}

func TestServeHTTP_RejectsBadPayloads(t *testing.T) {
	s := NewSource("hooks", 9090, "/events")

	assert.Equal(t, http.StatusBadRequest, postChange(t, s, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, postChange(t, s, `{"op":"upsert","element":{"id":"a"}}`).Code)
	assert.Equal(t, http.StatusBadRequest, postChange(t, s, `{"op":"insert"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postChange(t, s, `{"op":"insert","element":{"labels":["Item"]}}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEffectiveFromIsMonotone(t *testing.T) {
	s := NewSource("hooks", 9090, "/events")
	resp, err := s.Subscribe(component.SubscriptionSettings{QueryID: "q", SourceID: "hooks"})
	require.NoError(t, err)

	postChange(t, s, `{"op":"insert","element":{"id":"a"},"effectiveFrom":100}`)
	postChange(t, s, `{"op":"insert","element":{"id":"b"}}`)          // no timestamp: clock advances past 100
	postChange(t, s, `{"op":"insert","element":{"id":"c"},"effectiveFrom":50}`) // stale timestamp: clamped forward

	first := <-resp.LiveRx
	second := <-resp.LiveRx
	third := <-resp.LiveRx
	assert.Equal(t, int64(100), first.EffectiveFrom)
	assert.Greater(t, second.EffectiveFrom, first.EffectiveFrom)
	assert.Greater(t, third.EffectiveFrom, second.EffectiveFrom)
}
