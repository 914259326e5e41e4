// Package inventory owns stock counter changes. Every change is a single
// conditional statement so the counter can never drop below zero.
package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
)

// Line is one product movement. Quantity is always positive; direction comes
// from the operation.
type Line struct {
	ProductID int64
	Quantity  int
}

type adjustFunc func(ctx context.Context, q database.DBTX, productID int64, delta int) (*models.Product, error)

type Ledger struct {
	adjust  adjustFunc
	metrics *metrics.Metrics
}

func NewLedger(m *metrics.Metrics) *Ledger {
	return &Ledger{adjust: store.AdjustInventory, metrics: m}
}

// Adjust applies delta to one product and returns the updated row.
func (l *Ledger) Adjust(ctx context.Context, q database.DBTX, productID int64, delta int) (*models.Product, error) {
	product, err := l.adjust(ctx, q, productID, delta)
	switch {
	case err == nil:
		return product, nil
	case errors.Is(err, database.ErrInsufficientStock):
		l.metrics.InventoryConflict("insufficient")
		return nil, &apperr.InsufficientInventoryError{ProductID: productID, Requested: -delta}
	case errors.Is(err, database.ErrProductNotFound):
		l.metrics.InventoryConflict("not_found")
		return nil, apperr.NotFound("product", productID, database.ErrProductNotFound)
	default:
		return nil, err
	}
}

// Reserve decrements stock for every distinct product and returns the
// updated rows keyed by id. Products are touched in ascending id order so
// concurrent reservations lock rows in the same sequence. The first failure
// stops the loop; the caller's transaction discards earlier decrements.
func (l *Ledger) Reserve(ctx context.Context, q database.DBTX, lines []Line) (map[int64]*models.Product, error) {
	return l.apply(ctx, q, lines, -1)
}

// Restore increments stock by the same magnitudes Reserve removed.
func (l *Ledger) Restore(ctx context.Context, q database.DBTX, lines []Line) error {
	_, err := l.apply(ctx, q, lines, 1)
	return err
}

func (l *Ledger) apply(ctx context.Context, q database.DBTX, lines []Line, sign int) (map[int64]*models.Product, error) {
	totals, err := Aggregate(lines)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		product, err := l.Adjust(ctx, q, id, sign*totals[id])
		if err != nil {
			return nil, err
		}
		updated[id] = product
	}
	return updated, nil
}

// Aggregate sums quantities per product. A non-positive quantity is a
// validation error.
func Aggregate(lines []Line) (map[int64]int, error) {
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, apperr.Validation("quantity", "product %d: quantity must be positive", line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}
	return totals, nil
}

// LinesFromItems converts persisted order items into ledger lines.
func LinesFromItems(items []models.OrderItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
