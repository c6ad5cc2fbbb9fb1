package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPing(context.Context) error   { return nil }
func failPing(context.Context) error { return fmt.Errorf("connection refused") }

func TestHealthHandler_AllCriticalHealthy(t *testing.T) {
	h := NewHealthHandler(okPing, okPing, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services["postgresql"].Status)
	assert.Equal(t, "healthy", resp.Services["nats"].Status)
	assert.Equal(t, "not_configured", resp.Services["redis"].Status)
	assert.Equal(t, "not_configured", resp.Services["clickhouse"].Status)
}

func TestHealthHandler_CriticalFailureDegradesStatus(t *testing.T) {
	h := NewHealthHandler(failPing, okPing, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Services["postgresql"].Status)
	assert.Contains(t, resp.Services["postgresql"].Error, "connection refused")
}

func TestHealthHandler_OptionalFailureDoesNotDegradeStatus(t *testing.T) {
	h := NewHealthHandler(okPing, okPing, failPing, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Services["redis"].Status)
}
