package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// executionIDContextKey is the private context key used to store the
// originating job execution id so that deeper layers (executor, pipelines,
// repositories) can correlate their logs with the run that triggered them.
type executionIDContextKey struct{}

// syncBatchIDContextKey carries the ULID that threads one whole job run
// through raw archive metadata.
type syncBatchIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithExecutionID stores a non-empty execution id in the context so
// that everything a job touches can correlate its logs with the run.
func ContextWithExecutionID(ctx context.Context, executionID string) context.Context {
	if ctx == nil || executionID == "" {
		return ctx
	}
	return context.WithValue(ctx, executionIDContextKey{}, executionID)
}

// ExecutionIDFromContext retrieves the execution id from the context, or an
// empty string when none is present.
func ExecutionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(executionIDContextKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// ContextWithSyncBatchID stores the run's sync batch id in the context.
func ContextWithSyncBatchID(ctx context.Context, batchID string) context.Context {
	if ctx == nil || batchID == "" {
		return ctx
	}
	return context.WithValue(ctx, syncBatchIDContextKey{}, batchID)
}

// SyncBatchIDFromContext retrieves the sync batch id, or an empty string.
func SyncBatchIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(syncBatchIDContextKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
