package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/extractor/pkg/orchestrator"
)

func TestHandleHealth(t *testing.T) {
	s := New("run-1")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHandleStatusReflectsUpdate(t *testing.T) {
	s := New("run-2")
	s.Update(orchestrator.ProgressSnapshot{ChunksProcessed: 3, TotalChunks: 10, EntitiesSoFar: 7})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-2", body.RunID)
	assert.Equal(t, 3, body.ChunksProcessed)
	assert.Equal(t, 7, body.EntitiesSoFar)
	assert.InDelta(t, 30.0, body.ProgressPercent, 0.01)
}

func TestHandleVersion(t *testing.T) {
	SetVersion("1.2.3")
	s := New("run-3")
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
}
