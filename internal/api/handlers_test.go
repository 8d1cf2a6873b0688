package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drasi-project/drasi-server/internal/instance"
	"github.com/drasi-project/drasi-server/internal/instanceregistry"
	"github.com/drasi-project/drasi-server/internal/persistence"
	"github.com/drasi-project/drasi-server/internal/plugins/mock"
	"github.com/drasi-project/drasi-server/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, readOnly bool) *gin.Engine {
	t.Helper()

	instances := instanceregistry.New()
	require.NoError(t, instances.Add(instance.New("default", nil, false, 64, 64)))

	plugins := registry.New()
	plugins.RegisterSource(mock.Descriptor{})

	persist := persistence.New("drasi.yaml", persistence.FileDTO{ID: "default"}, true, readOnly)

	h := NewHandler(instances, plugins, persist)
	return NewRouter(h)
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, false)
	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReportsReadOnly(t *testing.T) {
	router := newTestRouter(t, true)
	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["configReadOnly"])
}

// TestAddSource_ReadOnlyModeRejectsWrite covers spec.md §8 scenario (d): in
// read-only mode, a write is rejected with CONFIG_READ_ONLY/409 while reads
// still succeed.
func TestAddSource_ReadOnlyModeRejectsWrite(t *testing.T) {
	router := newTestRouter(t, true)

	rec := doRequest(router, http.MethodPost, "/api/v1/sources", map[string]interface{}{
		"kind": "mock", "id": "items",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CONFIG_READ_ONLY", body["error"])
}

func TestAddSource_ReadOnlyModeStillAllowsReads(t *testing.T) {
	router := newTestRouter(t, true)

	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/plugins", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddSource_WritableModeSucceeds(t *testing.T) {
	router := newTestRouter(t, false)

	rec := doRequest(router, http.MethodPost, "/api/v1/sources", map[string]interface{}{
		"kind": "mock", "id": "items",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAddSource_UnknownInstanceNotFound(t *testing.T) {
	router := newTestRouter(t, false)

	rec := doRequest(router, http.MethodPost, "/api/v1/instances/nonexistent/sources", map[string]interface{}{
		"kind": "mock", "id": "items",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetQueryResults_UnknownQuery(t *testing.T) {
	router := newTestRouter(t, false)

	rec := doRequest(router, http.MethodGet, "/api/v1/queries/missing/results", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListComponentLogs(t *testing.T) {
	router := newTestRouter(t, false)

	rec := doRequest(router, http.MethodGet, "/api/v1/logs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, ok := body["logs"]
	assert.True(t, ok)
}

func TestPluginInfo(t *testing.T) {
	router := newTestRouter(t, false)

	rec := doRequest(router, http.MethodGet, "/plugins", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	sources, ok := body["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, sources, 1)
}
