package orders

import (
	"fmt"
	"slices"
	"time"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/models"
)

var orderStateTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusVerifying, models.OrderStatusCancelled},
	models.OrderStatusVerifying: {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:      {models.OrderStatusShipping},
	models.OrderStatusShipping:  {models.OrderStatusDelivered},
}

var cancellableStatuses = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusVerifying,
}

// kst is used for the date part of order numbers.
var kst = time.FixedZone("KST", 9*60*60)

func CanTransition(current, target models.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func Cancellable(status models.OrderStatus) bool {
	return slices.Contains(cancellableStatuses, status)
}

// applyTransition moves order to target and stamps the matching timestamp.
// It reports false for a same-state request. On error order is untouched.
func applyTransition(order *models.Order, target models.OrderStatus, now time.Time) (bool, error) {
	current := order.Status
	if current == target {
		return false, nil
	}

	if !CanTransition(current, target) {
		return false, &apperr.InvalidStatusTransitionError{
			OrderID: order.ID,
			From:    string(current),
			To:      string(target),
		}
	}

	order.Status = target
	order.UpdatedAt = now
	updateTimestamps(order, target, now)
	return true, nil
}

func updateTimestamps(order *models.Order, status models.OrderStatus, now time.Time) {
	switch status {
	case models.OrderStatusVerifying:
		order.VerifyingAt = &now
	case models.OrderStatusPaid:
		order.PaidAt = &now
	case models.OrderStatusShipping:
		order.ShippedAt = &now
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
	case models.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

// formatOrderNumber renders S<YYMMDD>-<4 digits>.
func formatOrderNumber(now time.Time, n int) string {
	return fmt.Sprintf("S%s-%04d", now.In(kst).Format("060102"), n%10000)
}

func paymentGroupID(now time.Time) string {
	return fmt.Sprintf("GROUP-%d", now.UnixMilli())
}
