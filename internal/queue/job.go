// Package queue moves order creation off the request path: the API enqueues
// jobs on Kafka and a bounded worker pool consumes them with retries, a rate
// limit, Redis backed completion markers and a dead letter table.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the envelope written to the topic. Payload is the command itself.
type Job struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type Handler func(ctx context.Context, job Job) error

// Enqueuer accepts a job for asynchronous processing and returns its id.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any) (string, error)
}

func NewJob(topic string, payload any, now time.Time) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode job payload: %w", err)
	}
	return Job{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    raw,
		EnqueuedAt: now.UTC(),
	}, nil
}

func DecodeJob(value []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("decode job: missing id")
	}
	return job, nil
}
