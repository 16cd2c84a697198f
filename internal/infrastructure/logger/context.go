package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	requestIDKey  contextKey = "request_id"
	companyIDKey  contextKey = "company_id"
	documentIDKey contextKey = "document_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request ID in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithCompanyID stores the company being operated on in ctx
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// WithDocumentID stores the document being processed in ctx
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey, documentID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetCompanyID retrieves company ID from context
func GetCompanyID(ctx context.Context) string {
	v, _ := ctx.Value(companyIDKey).(string)
	return v
}

// GetDocumentID retrieves document ID from context
func GetDocumentID(ctx context.Context) string {
	v, _ := ctx.Value(documentIDKey).(string)
	return v
}

// GetTraceID extracts the trace ID from the context's span, or "".
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// L returns base (or the context logger when base is nil) enriched with the
// trace, request, company and document identifiers found in ctx.
//
//	logger.L(ctx, p.logger).Info("document linked", zap.String("ledger_entry_id", id))
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	l := base
	if l == nil {
		l = FromContext(ctx)
	}

	fields := make([]zap.Field, 0, 5)
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := GetCompanyID(ctx); v != "" {
		fields = append(fields, zap.String("company_id", v))
	}
	if v := GetDocumentID(ctx); v != "" {
		fields = append(fields, zap.String("document_id", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
