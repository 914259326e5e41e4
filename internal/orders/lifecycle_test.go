package orders

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/models"
)

var fixedNow = time.Date(2026, 7, 4, 3, 0, 0, 0, time.UTC)

func TestCanTransitionTable(t *testing.T) {
	allowed := map[[2]models.OrderStatus]bool{
		{models.OrderStatusPending, models.OrderStatusVerifying}:   true,
		{models.OrderStatusPending, models.OrderStatusCancelled}:   true,
		{models.OrderStatusVerifying, models.OrderStatusPaid}:      true,
		{models.OrderStatusVerifying, models.OrderStatusCancelled}: true,
		{models.OrderStatusPaid, models.OrderStatusShipping}:       true,
		{models.OrderStatusShipping, models.OrderStatusDelivered}:  true,
	}

	for _, from := range models.OrderStatuses {
		for _, to := range models.OrderStatuses {
			want := from == to || allowed[[2]models.OrderStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApplyTransitionStampsTimestamps(t *testing.T) {
	order := &models.Order{ID: 1, Status: models.OrderStatusPending}

	steps := []models.OrderStatus{
		models.OrderStatusVerifying,
		models.OrderStatusPaid,
		models.OrderStatusShipping,
		models.OrderStatusDelivered,
	}
	for _, step := range steps {
		changed, err := applyTransition(order, step, fixedNow)
		require.NoError(t, err)
		assert.True(t, changed)
	}

	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.VerifyingAt)
	assert.NotNil(t, order.PaidAt)
	assert.NotNil(t, order.ShippedAt)
	assert.NotNil(t, order.DeliveredAt)
	assert.Nil(t, order.CancelledAt)
}

func TestApplyTransitionSameStateIsNoop(t *testing.T) {
	order := &models.Order{ID: 1, Status: models.OrderStatusPaid}

	changed, err := applyTransition(order, models.OrderStatusPaid, fixedNow)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, order.PaidAt)
	assert.True(t, order.UpdatedAt.IsZero())
}

func TestCancelFromLateStatusesLeavesOrderUntouched(t *testing.T) {
	for _, status := range []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusShipping, models.OrderStatusDelivered} {
		order := &models.Order{ID: 42, Status: status}
		before := *order

		changed, err := applyTransition(order, models.OrderStatusCancelled, fixedNow)

		var invalid *apperr.InvalidStatusTransitionError
		require.True(t, errors.As(err, &invalid), string(status))
		assert.Equal(t, string(status), invalid.From)
		assert.False(t, changed)
		assert.Equal(t, before, *order)
		assert.False(t, Cancellable(status))
	}
}

func TestFormatOrderNumber(t *testing.T) {
	number := formatOrderNumber(fixedNow, 7)

	assert.Equal(t, "S260704-0007", number)
	assert.Regexp(t, regexp.MustCompile(`^S\d{6}-\d{4}$`), formatOrderNumber(fixedNow, 123456))
}

func TestOrderNumberUsesKoreanDate(t *testing.T) {
	lateUTC := time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "S260705-0001", formatOrderNumber(lateUTC, 1))
}

func TestPaymentGroupID(t *testing.T) {
	assert.Equal(t, "GROUP-1783134000000", paymentGroupID(fixedNow))
}
