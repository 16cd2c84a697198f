package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsRouter(origins ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins))
	r.GET("/documents", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func fromOrigin(r http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/documents", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := corsRouter("https://app.example.com")

	t.Run("allowed origin", func(t *testing.T) {
		w := fromOrigin(r, http.MethodGet, "https://app.example.com")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	})

	t.Run("unknown origin is refused", func(t *testing.T) {
		w := fromOrigin(r, http.MethodGet, "https://evil.example.com")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("same origin callers need no header", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, fromOrigin(r, http.MethodGet, "").Code)
	})

	t.Run("preflight", func(t *testing.T) {
		w := fromOrigin(r, http.MethodOptions, "https://app.example.com")
		assert.Equal(t, http.StatusNoContent, w.Code)
		allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
		assert.Contains(t, allowed, strings.ToLower(CompanyIDHeader))
	})
}

func TestCORS_NoOriginsRefusesCrossOrigin(t *testing.T) {
	w := fromOrigin(corsRouter(), http.MethodGet, "https://app.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORS_WildcardNeverSendsCredentials(t *testing.T) {
	w := fromOrigin(corsRouter("*"), http.MethodGet, "https://any.example.com")

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	t.Run("propagates incoming", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		router.ServeHTTP(w, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("generates", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("replaces oversized", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", MaxRequestIDLength+1))
		router.ServeHTTP(w, req)

		assert.Len(t, seen, 36)
	})
}

func TestGetRequestID_HeaderFallbackTruncates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request, _ = http.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(RequestIDHeader, strings.Repeat("a", 200))

	assert.Len(t, GetRequestID(c), MaxRequestIDLength)
}

func TestSecure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name     string
		maxAge   time.Duration
		wantHSTS string
	}{
		{"plain http", 0, ""},
		{"behind https", 365 * 24 * time.Hour, "max-age=31536000; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Secure(tt.maxAge))
			r.GET("/documents", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents", nil))

			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, contentSecurityPolicy, w.Header().Get("Content-Security-Policy"))
			assert.Equal(t, tt.wantHSTS, w.Header().Get("Strict-Transport-Security"))
		})
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var deadline time.Time
	var ok bool
	router := gin.New()
	router.Use(Timeout(5 * time.Second))
	router.GET("/test", func(c *gin.Context) {
		deadline, ok = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}
