package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestActorDefaultsToSystem(t *testing.T) {
	assert.Equal(t, SystemActor, Actor(context.Background()))
	assert.Equal(t, SystemActor, Actor(WithActor(context.Background(), "")))
	assert.Equal(t, "operator-7", Actor(WithActor(context.Background(), "operator-7")))
}

func TestLoggerFallsBackToNoop(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))

	logger := zap.NewExample()
	assert.Same(t, logger, Logger(WithLogger(context.Background(), logger)))
}

func TestJobID(t *testing.T) {
	assert.Empty(t, JobID(context.Background()))
	assert.Equal(t, "job-1", JobID(WithJobID(context.Background(), "job-1")))
}
