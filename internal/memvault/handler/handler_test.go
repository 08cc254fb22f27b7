package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memvault/internal/memvault/biz"
	"github.com/kart-io/memvault/internal/memvault/handler"
	"github.com/kart-io/memvault/internal/memvault/metrics"
	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/router"
	"github.com/kart-io/memvault/internal/memvault/store"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	cacheopts "github.com/kart-io/memvault/pkg/options/cache"
)

func newTestServer(t *testing.T) (*gin.Engine, *biz.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := store.NewEngine(store.NewSingleProvider(store.NewMemoryBackend("test")))
	t.Cleanup(func() { _ = engine.Close() })

	svc, err := biz.NewService(context.Background(), engine, bulkopts.NewOptions(), cacheopts.NewOptions(), nil)
	require.NoError(t, err)

	r := gin.New()
	router.Register(r, handler.New(svc, metrics.New()))
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func storeRecord(t *testing.T, r *gin.Engine, content, category string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/records", gin.H{
		"content":  content,
		"category": category,
		"project":  "memvault",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decodeBody(t, w)["data"].(map[string]interface{})
	return data["id"].(string)
}

func TestStoreAndRetrieve(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/records", gin.H{
		"content":  "remember the deploy checklist",
		"category": "fact",
		"metadata": gin.H{"source": "runbook", "steps": []string{"build", "ship"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody(t, w)["data"].(map[string]interface{})["id"].(string)

	w = doJSON(t, r, http.MethodGet, "/v1/records/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "remember the deploy checklist", data["content"])
	assert.Equal(t, "fact", data["category"])
	assert.Equal(t, "active", data["state"])

	meta := data["metadata"].(map[string]interface{})
	assert.Equal(t, "runbook", meta["source"])
	assert.Equal(t, []interface{}{"build", "ship"}, meta["steps"])
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/records", gin.H{"category": "fact"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetrieveUnknownRecord(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/v1/records/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.EqualValues(t, http.StatusNotFound, body["code"])
}

func TestUpdateRecord(t *testing.T) {
	r, _ := newTestServer(t)
	id := storeRecord(t, r, "draft note", "note")

	w := doJSON(t, r, http.MethodPatch, "/v1/records/"+id, gin.H{
		"content":    "final note",
		"importance": 0.9,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "final note", data["content"])
	assert.InDelta(t, 0.9, data["importance"].(float64), 1e-9)
}

func TestDeleteIssuesRollbackToken(t *testing.T) {
	r, _ := newTestServer(t)
	id := storeRecord(t, r, "obsolete note", "note")

	w := doJSON(t, r, http.MethodDelete, "/v1/records/"+id+"?deleted_by=tester&reason=cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeBody(t, w)["data"].(map[string]interface{})
	token := data["rollback_token"].(string)
	assert.NotEmpty(t, token)

	// The record is gone from normal reads.
	w = doJSON(t, r, http.MethodGet, "/v1/records/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Rollback brings it back.
	w = doJSON(t, r, http.MethodPost, "/v1/rollback/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, result["restored"])

	w = doJSON(t, r, http.MethodGet, "/v1/records/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRollbackMalformedToken(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/rollback/not-a-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFilters(t *testing.T) {
	r, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		storeRecord(t, r, fmt.Sprintf("fact %d", i), "fact")
	}
	storeRecord(t, r, "one note", "note")

	w := doJSON(t, r, http.MethodGet, "/v1/records?category=fact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["count"])

	w = doJSON(t, r, http.MethodGet, "/v1/records?category=fact&limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])

	w = doJSON(t, r, http.MethodGet, "/v1/records?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkPreviewAndExecute(t *testing.T) {
	r, _ := newTestServer(t)
	for i := 0; i < 4; i++ {
		storeRecord(t, r, fmt.Sprintf("scratch %d", i), "scratch")
	}
	storeRecord(t, r, "keep me", "fact")

	w := doJSON(t, r, http.MethodPost, "/v1/bulk/preview", gin.H{"category": "scratch"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 4, preview["total"])
	assert.Equal(t, false, preview["requires_confirmation"])

	w = doJSON(t, r, http.MethodPost, "/v1/bulk/execute", gin.H{
		"category":  "scratch",
		"confirmed": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 4, result["deleted"])

	w = doJSON(t, r, http.MethodGet, "/v1/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])
}

func TestBulkExecuteRejectsEmptyFilter(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/bulk/execute", gin.H{"confirmed": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkExecuteDryRun(t *testing.T) {
	r, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		storeRecord(t, r, fmt.Sprintf("scratch %d", i), "scratch")
	}

	w := doJSON(t, r, http.MethodPost, "/v1/bulk/execute", gin.H{
		"category": "scratch",
		"dry_run":  true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, true, result["dry_run"])
	assert.EqualValues(t, 0, result["deleted"])

	// Nothing was removed.
	w = doJSON(t, r, http.MethodGet, "/v1/records?category=scratch", nil)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["count"])
}

func TestSweepEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 0, result["purged"])
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)
	storeRecord(t, r, "counted", "fact")

	w := doJSON(t, r, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Contains(t, data, "service")
	assert.Contains(t, data, "operations")

	ops := data["operations"].(map[string]interface{})["operations"].(map[string]interface{})
	assert.Contains(t, ops, metrics.OpStore)
}

func TestHealthz(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceCacheDisabledByDefault(t *testing.T) {
	_, svc := newTestServer(t)

	rec, err := svc.Store(context.Background(), &model.Record{Content: "cached?"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)

	stats := svc.Stats(context.Background())
	assert.Equal(t, false, stats.Cache["enabled"])
}
