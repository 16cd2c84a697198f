// Package middleware provides HTTP middleware for the LedgerLink API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength is the maximum length for request IDs taken from headers.
const MaxRequestIDLength = 128

// CompanyIDHeader scopes a request to one company when no query parameter does
const CompanyIDHeader = "X-Company-ID"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing opens one server span per request, named after the route
// pattern. When disabled it only calls the next handler.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// SpanEnricher must run after Tracing. otelgin closes its span as soon as
// its own handler returns, so attributes and error status are set from
// inside the chain.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}
		span.SetAttributes(requestAttributes(c)...)

		c.Next()

		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(status))
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
	}
}

// requestAttributes tags the span with the request, company and document
// being served. Identifiers that are not UUIDs never reach trace storage.
func requestAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id := GetRequestID(c); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if company := getCompanyID(c); company != "" {
		attrs = append(attrs, attribute.String("company_id", company))
	}
	if doc := c.Param("id"); canonicalUUID(doc) {
		attrs = append(attrs, attribute.String("document_id", doc))
	}
	return attrs
}

// getCompanyID reads the company from the query string or header, dropping
// anything that is not a canonical UUID.
func getCompanyID(c *gin.Context) string {
	company := c.Query("company_id")
	if company == "" {
		company = c.GetHeader(CompanyIDHeader)
	}
	if !canonicalUUID(company) {
		return ""
	}
	return company
}

func canonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
