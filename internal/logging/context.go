package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if a := ArchiveFromContext(ctx); a != nil {
		fields = append(fields,
			zap.String("archive", a.Name),
			zap.String("provider", a.Provider),
		)
	}

	if op := OperationFromContext(ctx); op != "" {
		fields = append(fields, zap.String("operation", op))
	}

	return fields
}

// Archive identifies the archive a log line concerns.
type Archive struct {
	Name     string
	Provider string
}

type archiveCtxKey struct{}
type operationCtxKey struct{}
type loggerCtxKey struct{}

// WithArchive attaches archive and provider names to ctx.
func WithArchive(ctx context.Context, name, provider string) context.Context {
	return context.WithValue(ctx, archiveCtxKey{}, &Archive{Name: name, Provider: provider})
}

// ArchiveFromContext returns the archive set by WithArchive, or nil.
func ArchiveFromContext(ctx context.Context) *Archive {
	if a, ok := ctx.Value(archiveCtxKey{}).(*Archive); ok {
		return a
	}
	return nil
}

// WithOperation names the public operation (stream, search, get).
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// OperationFromContext returns the operation name, or "".
func OperationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationCtxKey{}).(string); ok {
		return op
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
