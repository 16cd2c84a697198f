package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPools struct {
	err error
}

func (s stubPools) Ping(context.Context) error { return s.err }

func (s stubPools) Stats() []pool.Stats {
	return []pool.Stats{
		{Name: "structured", MaxSize: 4, InUse: 1, Idle: 1},
		{Name: "document", MaxSize: 4},
	}
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewSystemHandler("1.2.3", nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/system/info", nil)

	h.GetSystemInfo(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[SystemInfoResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "LedgerLink API", resp.Data.Name)
	assert.Equal(t, "1.2.3", resp.Data.Version)
	assert.NotEmpty(t, resp.Data.GoVersion)
}

func TestSystemHandler_Ping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewSystemHandler("dev", nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/system/ping", nil)

	h.Ping(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse[PingResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pong", resp.Data.Message)
	assert.False(t, resp.Data.Timestamp.IsZero())
}

func TestSystemHandler_HealthWithoutPools(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/health", nil)

	NewSystemHandler("dev", nil).Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSystemHandler_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("healthy", func(t *testing.T) {
		h := NewSystemHandler("dev", stubPools{})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request, _ = http.NewRequest(http.MethodGet, "/health", nil)

		h.Health(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		require.Len(t, resp.Pools, 2)
		assert.Equal(t, 1, resp.Pools[0].InUse)
	})

	t.Run("store down", func(t *testing.T) {
		h := NewSystemHandler("dev", stubPools{err: errors.New("structured store: connection refused")})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request, _ = http.NewRequest(http.MethodGet, "/health", nil)

		h.Health(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}
