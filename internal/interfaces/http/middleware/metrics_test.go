package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func meteredRouter(t *testing.T, enabled bool) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	r := gin.New()
	r.Use(HTTPMetrics(mp.Meter("test"), enabled))
	return r, reader
}

func requestPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "ledgerlink.http.requests" {
				return m.Data.(metricdata.Sum[int64]).DataPoints
			}
		}
	}
	return nil
}

func attr(dp metricdata.DataPoint[int64], key string) string {
	v, _ := dp.Attributes.Value(attribute.Key(key))
	return v.AsString()
}

func TestHTTPMetrics_Disabled(t *testing.T) {
	r, reader := meteredRouter(t, false)
	r.GET("/documents", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, requestPoints(t, reader))
}

func TestHTTPMetrics_OneSeriesPerRoute(t *testing.T) {
	r, reader := meteredRouter(t, true)
	r.GET("/documents/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 3 {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString(), nil))
	}

	points := requestPoints(t, reader)
	require.Len(t, points, 1)
	assert.Equal(t, int64(3), points[0].Value)
	assert.Equal(t, "/documents/:id", attr(points[0], "http.route"))
	assert.Equal(t, "2xx", attr(points[0], "http.status_class"))
}

func TestHTTPMetrics_UnmatchedRoute(t *testing.T) {
	r, reader := meteredRouter(t, true)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	points := requestPoints(t, reader)
	require.Len(t, points, 1)
	assert.Equal(t, "unmatched", attr(points[0], "http.route"))
	assert.Equal(t, "4xx", attr(points[0], "http.status_class"))
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{201: "2xx", 304: "3xx", 429: "4xx", 503: "5xx", 42: "other"} {
		assert.Equal(t, want, statusClass(status), "status %d", status)
	}
}
