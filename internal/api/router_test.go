package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/groupcap/internal/app"
	"github.com/charlesng35/groupcap/internal/collection"
	"github.com/charlesng35/groupcap/internal/database/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *app.Config {
	return &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
}

func newTestRouter(t *testing.T, capacity int64) *gin.Engine {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	svc, err := collection.NewService(db, collection.CapacityConfig{Default: capacity})
	require.NoError(t, err)

	router, err := NewRouter(svc, db, testConfig())
	require.NoError(t, err)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterRequiresCollection(t *testing.T) {
	_, err := NewRouter(nil, nil, testConfig())
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "groupcap_")
}

func TestInsertCountMembersFlow(t *testing.T) {
	router := newTestRouter(t, 2)

	for id := 1; id <= 3; id++ {
		rec := doJSON(t, router, http.MethodPost, "/api/groups/g1/entries", gin.H{"entry_id": id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/groups/g1/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var countResp struct {
		Data struct {
			Count    int64 `json:"count"`
			Capacity int64 `json:"capacity"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &countResp))
	require.Equal(t, int64(2), countResp.Data.Count)
	require.Equal(t, int64(2), countResp.Data.Capacity)

	rec = doJSON(t, router, http.MethodGet, "/api/groups/g1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var membersResp struct {
		Data []int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &membersResp))
	require.Equal(t, []int64{2, 3}, membersResp.Data)
}

func TestInsertDuplicateReturnsConflict(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{"entry_id": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{"entry_id": 1})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestInsertBatch(t *testing.T) {
	router := newTestRouter(t, 3)

	rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries/batch", gin.H{"entry_ids": []int64{1, 2, 3, 4, 5}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/groups/g/entries", nil)

	var membersResp struct {
		Data []int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &membersResp))
	require.Equal(t, []int64{3, 4, 5}, membersResp.Data)
}

func TestDeleteEntry(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{"entry_id": 9})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/groups/g/entries/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/groups/g/entries/9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/groups/g/entries/not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInsertValidation(t *testing.T) {
	router := newTestRouter(t, 5)

	rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/groups/g/entries/batch", gin.H{"entry_ids": []int64{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecountEndpoint(t *testing.T) {
	router := newTestRouter(t, 5)

	for id := 1; id <= 3; id++ {
		rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{"entry_id": id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/groups/g/recount", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Count int64 `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.Data.Count)
}

func TestMemoryBackendThroughRouter(t *testing.T) {
	mem, err := collection.NewMemory(collection.CapacityConfig{Default: 2})
	require.NoError(t, err)

	router, err := NewRouter(mem, nil, testConfig())
	require.NoError(t, err)

	for id := 1; id <= 3; id++ {
		rec := doJSON(t, router, http.MethodPost, "/api/groups/g/entries", gin.H{"entry_id": id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/groups/g/entries", nil)

	var membersResp struct {
		Data []int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &membersResp))
	require.Equal(t, []int64{2, 3}, membersResp.Data)
}
