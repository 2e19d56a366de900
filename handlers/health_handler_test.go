package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/arcturusdc/orbit/repositories/postgres"
	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/arcturusdc/orbit/services/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		pg := postgres.NewDBFromConn(db, logger)
		handler := NewHealthHandler([]HealthCheck{{Name: "postgres", Check: pg.HealthCheck}}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data HealthResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "healthy", response.Data.Status)
		assert.Equal(t, "healthy", response.Data.Checks["postgres"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when a dependency fails", func(t *testing.T) {
		handler := NewHealthHandler([]HealthCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
			{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
		}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response struct {
			Data HealthResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "unhealthy", response.Data.Status)
		assert.Equal(t, "healthy", response.Data.Checks["postgres"])
		assert.Equal(t, "unhealthy", response.Data.Checks["redis"])
	})
}

func TestHandleStatus(t *testing.T) {
	hook := policy.NewHook(nil, nil, policy.Config{Workers: 2, BufferSize: 8}, zap.NewNop())
	cache := keyring.NewKeyCache(16, 0)
	handler := NewStatusHandler(StatusInfo{Version: "1.2.3", Environment: "test", StoreBackend: "memory"}, hook, cache)

	w := httptest.NewRecorder()
	handler.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data StatusResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "1.2.3", response.Data.Version)
	assert.Equal(t, "memory", response.Data.StoreBackend)
	require.NotNil(t, response.Data.AlertHook)
	assert.Equal(t, 2, response.Data.AlertHook.WorkerCount)
	require.NotNil(t, response.Data.KeyCache)
	assert.Equal(t, 16, response.Data.KeyCache.MaxSize)
}
