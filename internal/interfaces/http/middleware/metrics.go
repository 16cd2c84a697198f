package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Latency buckets in seconds. Requests never carry document content, so
// anything past a few seconds is a stalled store.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type httpInstruments struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	requests, err1 := meter.Int64Counter("ledgerlink.http.requests",
		metric.WithDescription("Completed HTTP requests"),
		metric.WithUnit("{request}"))
	latency, err2 := meter.Float64Histogram("ledgerlink.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	inFlight, err3 := meter.Int64UpDownCounter("ledgerlink.http.in_flight",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &httpInstruments{requests: requests, latency: latency, inFlight: inFlight}, nil
}

// HTTPMetrics counts requests and records latency per route pattern and
// status class. Route patterns keep document IDs out of the label set.
func HTTPMetrics(meter metric.Meter, enabled bool) gin.HandlerFunc {
	var inst *httpInstruments
	if enabled && meter != nil {
		inst, _ = newHTTPInstruments(meter)
	}
	if inst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		inst.inFlight.Add(ctx, 1)
		defer inst.inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("http.status_class", statusClass(c.Writer.Status())),
		)
		inst.requests.Add(ctx, 1, attrs)
		inst.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
