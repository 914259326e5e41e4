package queue

import (
	"context"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
)

// StoreDeadLetter records dead jobs in the failed_jobs table.
type StoreDeadLetter struct {
	db database.DBTX
}

func NewStoreDeadLetter(db database.DBTX) *StoreDeadLetter {
	return &StoreDeadLetter{db: db}
}

func (d *StoreDeadLetter) Record(ctx context.Context, job Job, attempts int, reason string, cause error) error {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	return store.RecordFailedJob(ctx, d.db, &models.FailedJob{
		JobID:     job.ID,
		Topic:     job.Topic,
		Payload:   job.Payload,
		Attempts:  attempts,
		Reason:    reason,
		LastError: lastErr,
	})
}
