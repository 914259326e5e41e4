package store

import (
	"context"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

func InsertStatusEvent(ctx context.Context, q database.DBTX, event *models.StatusEvent) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO order_status_events (order_id, from_status, to_status, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id, created_at`,
		event.OrderID, event.FromStatus, event.ToStatus, event.ActorID,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return database.Wrap("order_status_events", "insert", err)
	}
	return nil
}

func ListStatusEvents(ctx context.Context, q database.DBTX, orderID int64) ([]models.StatusEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, actor_id, created_at
		 FROM order_status_events
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		orderID)
	if err != nil {
		return nil, database.Wrap("order_status_events", "select", err)
	}
	defer rows.Close()

	events := []models.StatusEvent{}
	for rows.Next() {
		var e models.StatusEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, database.Wrap("order_status_events", "scan", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("order_status_events", "select", err)
	}
	return events, nil
}
