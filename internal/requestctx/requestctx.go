// Package requestctx carries the acting user and logger of a request or job
// through context so use cases never reach for ambient state.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/safar/go-order-engine/internal/requestctx/logger"
	actorContextKey  contextKey = "github.com/safar/go-order-engine/internal/requestctx/actor"
	jobContextKey    contextKey = "github.com/safar/go-order-engine/internal/requestctx/job"
)

// SystemActor is recorded when no user initiated the change.
const SystemActor = "system"

var noopLogger = zap.NewNop()

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// WithActor records who is performing the operation, typically an operator
// or customer id.
func WithActor(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, actorID)
}

// Actor returns the acting user or SystemActor.
func Actor(ctx context.Context) string {
	if ctx == nil {
		return SystemActor
	}
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobContextKey, jobID)
}

func JobID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	jobID, _ := ctx.Value(jobContextKey).(string)
	return jobID
}
