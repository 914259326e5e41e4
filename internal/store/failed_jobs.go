package store

import (
	"context"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

// RecordFailedJob stores a job for manual reconciliation. Recording the same
// job id again refreshes attempts, reason and error.
func RecordFailedJob(ctx context.Context, q database.DBTX, job *models.FailedJob) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO failed_jobs (job_id, topic, payload, attempts, reason, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (job_id) DO UPDATE
		 SET attempts = EXCLUDED.attempts,
		     reason = EXCLUDED.reason,
		     last_error = EXCLUDED.last_error
		 RETURNING id, created_at`,
		job.JobID, job.Topic, job.Payload, job.Attempts, job.Reason, job.LastError,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return database.Wrap("failed_jobs", "insert", err)
	}
	return nil
}

func ListFailedJobs(ctx context.Context, q database.DBTX, limit int) ([]models.FailedJob, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, job_id, topic, payload, attempts, reason, last_error, created_at
		 FROM failed_jobs
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		ClampPageSize(limit))
	if err != nil {
		return nil, database.Wrap("failed_jobs", "select", err)
	}
	defer rows.Close()

	jobs := []models.FailedJob{}
	for rows.Next() {
		var j models.FailedJob
		if err := rows.Scan(&j.ID, &j.JobID, &j.Topic, &j.Payload, &j.Attempts, &j.Reason, &j.LastError, &j.CreatedAt); err != nil {
			return nil, database.Wrap("failed_jobs", "scan", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("failed_jobs", "select", err)
	}
	return jobs, nil
}
