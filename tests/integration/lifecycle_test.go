package integration

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/consolidation"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/requestctx"
	"github.com/safar/go-order-engine/internal/store"
)

var orderNumberPattern = regexp.MustCompile(`^S\d{6}-\d{4}$`)

func placeSingle(t *testing.T, svc *orders.Service, userID, productID int64, qty int) *models.Order {
	t.Helper()
	result, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderCommand{
		UserID:        userID,
		PaymentMethod: models.PaymentMethodCard,
		Parcels:       []orders.ParcelRequest{parcel("06236", item(productID, qty))},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	return result.Orders[0]
}

func markPaid(t *testing.T, svc *orders.Service, orderID int64) {
	t.Helper()
	for _, status := range []models.OrderStatus{models.OrderStatusVerifying, models.OrderStatusPaid} {
		if _, _, err := svc.UpdateStatus(context.Background(), orders.StatusCommand{OrderID: orderID, Status: status}); err != nil {
			t.Fatalf("Move order %d to %s: %v", orderID, status, err)
		}
	}
}

func TestOrderLifecycleToDelivered(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := requestctx.WithActor(context.Background(), "operator-1")
	svc := newOrderService(t, db)
	user := mustUser(t, db, "lifecycle@example.com")
	product := mustProduct(t, db, "SKU-LIFE", 10000, 10)
	order := placeSingle(t, svc, user.ID, product.ID, 1)

	verified, changed, err := svc.UpdateStatus(ctx, orders.StatusCommand{OrderID: order.ID, Status: models.OrderStatusVerifying})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Regexp(t, orderNumberPattern, verified.OrderNumber)
	require.NotNil(t, verified.VerifyingAt)

	// Repeating the current status is a no-op and keeps the number.
	again, changed, err := svc.UpdateStatus(ctx, orders.StatusCommand{OrderID: order.ID, Status: models.OrderStatusVerifying})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, verified.OrderNumber, again.OrderNumber)

	_, _, err = svc.UpdateStatus(ctx, orders.StatusCommand{OrderID: order.ID, Status: models.OrderStatusPaid})
	require.NoError(t, err)

	paid, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.Payment)
	require.NotNil(t, paid.Payment.ConfirmedAt)
	assert.True(t, paid.TotalAmount.Equal(paid.Payment.Amount))
	assert.NotNil(t, paid.PaidAt)

	_, _, err = svc.UpdateStatus(ctx, orders.StatusCommand{
		OrderID:         order.ID,
		Status:          models.OrderStatusShipping,
		TrackingNumber:  "1234-5678",
		TrackingCompany: "CJ Logistics",
	})
	require.NoError(t, err)

	delivered, _, err := svc.UpdateStatus(ctx, orders.StatusCommand{OrderID: order.ID, Status: models.OrderStatusDelivered})
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	final, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, final.Shipping)
	assert.Equal(t, "1234-5678", final.Shipping.TrackingNumber)
	assert.Equal(t, "CJ Logistics", final.Shipping.TrackingCompany)

	history, err := svc.History(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.OrderStatusPending, history[0].FromStatus)
	assert.Equal(t, models.OrderStatusDelivered, history[3].ToStatus)
	for _, event := range history {
		assert.Equal(t, "operator-1", event.ActorID)
	}

	// Delivered is terminal.
	_, _, err = svc.UpdateStatus(ctx, orders.StatusCommand{OrderID: order.ID, Status: models.OrderStatusCancelled})
	var transition *apperr.InvalidStatusTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestCancelRestoresInventoryExactly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "cancel@example.com")
	p1 := mustProduct(t, db, "SKU-C1", 1000, 10)
	p2 := mustProduct(t, db, "SKU-C2", 2000, 10)

	result, err := svc.PlaceOrder(ctx, orders.PlaceOrderCommand{
		UserID:        user.ID,
		PaymentMethod: models.PaymentMethodCard,
		Parcels: []orders.ParcelRequest{
			parcel("06236", item(p1.ID, 3), item(p2.ID, 1), item(p1.ID, 2)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, mustStock(t, db, p1.ID))
	assert.Equal(t, 9, mustStock(t, db, p2.ID))

	cancelled, err := svc.Cancel(ctx, result.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 10, mustStock(t, db, p1.ID))
	assert.Equal(t, 10, mustStock(t, db, p2.ID))

	// A second cancel changes nothing, stock included.
	_, err = svc.Cancel(ctx, result.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 10, mustStock(t, db, p1.ID))
}

func TestCancelAfterPaymentIsRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "paid@example.com")
	product := mustProduct(t, db, "SKU-PAID", 1000, 10)
	order := placeSingle(t, svc, user.ID, product.ID, 2)
	markPaid(t, svc, order.ID)

	_, err := svc.Cancel(ctx, order.ID)
	var transition *apperr.InvalidStatusTransitionError
	require.ErrorAs(t, err, &transition)

	unchanged, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, unchanged.Status)
	assert.Equal(t, 8, mustStock(t, db, product.ID))
}

func TestCancelReleasesCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "coupon-cancel@example.com")
	product := mustProduct(t, db, "SKU-CC", 10000, 10)

	limit := 1
	c := &models.Coupon{
		Code:          "TENPCT",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: won(10),
		MinPurchase:   won(5000),
		UsageLimit:    &limit,
		IsActive:      true,
	}
	require.NoError(t, store.CreateCoupon(ctx, db, c))
	_, err := store.IssueUserCoupon(ctx, db, user.ID, c.ID)
	require.NoError(t, err)

	result, err := svc.PlaceOrder(ctx, orders.PlaceOrderCommand{
		UserID:        user.ID,
		PaymentMethod: models.PaymentMethodCard,
		CouponCode:    "TENPCT",
		Parcels:       []orders.ParcelRequest{parcel("06236", item(product.ID, 2))},
	})
	require.NoError(t, err)
	assert.True(t, won(2000).Equal(result.Breakdown.Discount))

	// The only use is taken.
	_, err = svc.Quote(ctx, orders.QuoteCommand{
		UserID:        user.ID,
		PaymentMethod: models.PaymentMethodCard,
		PostalCode:    "06236",
		CouponCode:    "TENPCT",
		Items:         []orders.ItemRequest{item(product.ID, 1)},
	})
	var unavailable *apperr.CouponNotAvailableError
	require.ErrorAs(t, err, &unavailable)

	_, err = svc.Cancel(ctx, result.Orders[0].ID)
	require.NoError(t, err)

	uc, err := store.FindUserCoupon(ctx, db, user.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, uc.IsUsed)
	assert.Nil(t, uc.OrderID)

	reloaded, err := store.GetCoupon(ctx, db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.UsedCount)
}

func TestBulkStatusGroupsOnlySuccessfulOrders(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "bulk@example.com")
	product := mustProduct(t, db, "SKU-BULK", 1000, 20)

	a := placeSingle(t, svc, user.ID, product.ID, 1)
	b := placeSingle(t, svc, user.ID, product.ID, 1)
	c := placeSingle(t, svc, user.ID, product.ID, 1)

	markPaid(t, svc, b.ID)

	result, err := svc.BulkUpdateStatus(ctx, orders.BulkStatusCommand{
		OrderIDs: []int64{a.ID, b.ID, c.ID, a.ID, 999999},
		Status:   models.OrderStatusVerifying,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.PaymentGroupID)
	require.Len(t, result.Results, 4)

	assert.True(t, result.Results[0].Changed)
	assert.Empty(t, result.Results[0].Error)
	assert.NotEmpty(t, result.Results[1].Error, "paid -> verifying must fail")
	assert.True(t, result.Results[2].Changed)
	assert.NotEmpty(t, result.Results[3].Error, "unknown order must fail")

	for _, id := range []int64{a.ID, c.ID} {
		o, err := svc.GetOrder(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, o.PaymentGroupID)
		assert.Equal(t, result.PaymentGroupID, *o.PaymentGroupID)
	}

	failed, err := svc.GetOrder(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, failed.PaymentGroupID)
}

func TestBulkStatusWithOneSuccessCreatesNoGroup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "bulk-one@example.com")
	product := mustProduct(t, db, "SKU-BULK1", 1000, 20)

	a := placeSingle(t, svc, user.ID, product.ID, 1)

	result, err := svc.BulkUpdateStatus(ctx, orders.BulkStatusCommand{
		OrderIDs: []int64{a.ID, 999999},
		Status:   models.OrderStatusVerifying,
	})
	require.NoError(t, err)
	assert.Empty(t, result.PaymentGroupID)

	o, err := svc.GetOrder(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, o.PaymentGroupID)
}

func TestBulkGroupedOrdersConsolidateToWhatIsOwed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	user := mustUser(t, db, "bulk-view@example.com")
	product := mustProduct(t, db, "SKU-BULKV", 1000, 20)

	// (1000 + 3000) * 1.1 each.
	a := placeSingle(t, svc, user.ID, product.ID, 1)
	b := placeSingle(t, svc, user.ID, product.ID, 1)
	assert.True(t, won(4400).Equal(a.TotalAmount))
	assert.False(t, a.GroupPriced)

	result, err := svc.BulkUpdateStatus(ctx, orders.BulkStatusCommand{
		OrderIDs: []int64{a.ID, b.ID},
		Status:   models.OrderStatusVerifying,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.PaymentGroupID)

	view, err := consolidation.NewService(db, nil).GroupView(ctx, result.PaymentGroupID)
	require.NoError(t, err)
	assert.False(t, view.Degraded, view.Warnings)
	assert.True(t, won(8800).Equal(view.TotalAmount), view.TotalAmount.String())
	assert.Equal(t, a.ID, view.RepresentativeOrderID)
}
