package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/safar/go-order-engine/internal/database"
)

// ClaimOrderJob records that jobID is being placed. It reports false when
// another transaction already committed the same job; a concurrent claim
// blocks on the primary key until that transaction ends.
func ClaimOrderJob(ctx context.Context, q database.DBTX, jobID string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO order_jobs (job_id, created_at)
		 VALUES ($1, NOW())
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID)
	return affectedOne(result, err, "order_jobs", "claim")
}

// CompleteOrderJob links the orders a claimed job created.
func CompleteOrderJob(ctx context.Context, q database.DBTX, jobID string, orderIDs []int64, groupID *string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE order_jobs
		 SET order_ids = $2, payment_group_id = $3
		 WHERE job_id = $1`,
		jobID, pq.Array(orderIDs), groupID)
	ok, err := affectedOne(result, err, "order_jobs", "complete")
	if err != nil {
		return err
	}
	if !ok {
		return database.Wrap("order_jobs", "complete", sql.ErrNoRows)
	}
	return nil
}

// FindOrderJob returns the orders and payment group a finished job created.
func FindOrderJob(ctx context.Context, q database.DBTX, jobID string) ([]int64, string, error) {
	var (
		ids     pq.Int64Array
		groupID sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT order_ids, payment_group_id FROM order_jobs WHERE job_id = $1`,
		jobID).Scan(&ids, &groupID)
	if err != nil {
		return nil, "", database.Wrap("order_jobs", "select", err)
	}
	return ids, groupID.String, nil
}
