package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNew_Version(t *testing.T) {
	assert.Equal(t, "/api/v1", New(gin.New(), "").BasePath())
	assert.Equal(t, "/api/v2", New(gin.New(), "v2").BasePath())
}

func TestAPI_Mount(t *testing.T) {
	engine := gin.New()
	New(engine, "v1").Mount(
		ModuleFunc(func(rg *gin.RouterGroup) {
			rg.GET("/system/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		}),
		ModuleFunc(func(rg *gin.RouterGroup) {
			rg.GET("/documents", func(c *gin.Context) { c.Status(http.StatusOK) })
		}),
	)

	w := serve(engine, "/api/v1/system/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, http.StatusOK, serve(engine, "/api/v1/documents").Code)
}

func TestAPI_MiddlewareSkipsEngineRoutes(t *testing.T) {
	engine := gin.New()
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	limited := func(c *gin.Context) { c.AbortWithStatus(http.StatusTooManyRequests) }
	New(engine, "v1", limited).Mount(ModuleFunc(func(rg *gin.RouterGroup) {
		rg.GET("/documents", func(c *gin.Context) { c.Status(http.StatusOK) })
	}))

	assert.Equal(t, http.StatusTooManyRequests, serve(engine, "/api/v1/documents").Code)
	assert.Equal(t, http.StatusOK, serve(engine, "/health").Code)
}

func TestNew_UnknownRouteUsesErrorEnvelope(t *testing.T) {
	engine := gin.New()
	engine.Use(func(c *gin.Context) { c.Set("request_id", "req-404"); c.Next() })
	New(engine, "v1")

	w := serve(engine, "/api/v1/nope")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "req-404", resp.Error.RequestID)
}
