package integration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/coupon"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
)

func TestCouponApplyAndReverseAreIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := newOrderService(t, db)
	applier := coupon.NewApplier(nil)
	user := mustUser(t, db, "apply-twice@example.com")
	product := mustProduct(t, db, "SKU-APPLY", 10000, 10)
	order := placeSingle(t, svc, user.ID, product.ID, 1)
	other := placeSingle(t, svc, user.ID, product.ID, 1)

	c := &models.Coupon{
		Code:          "ONCE3000",
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: won(3000),
		MinPurchase:   won(0),
		IsActive:      true,
	}
	require.NoError(t, store.CreateCoupon(ctx, db, c))
	_, err := store.IssueUserCoupon(ctx, db, user.ID, c.ID)
	require.NoError(t, err)

	inTx := func(fn func(tx *sql.Tx) error) error {
		return database.WithTransaction(ctx, db, database.DefaultTxOptions(), fn)
	}
	apply := func(orderID int64) (bool, error) {
		var applied bool
		err := inTx(func(tx *sql.Tx) error {
			var err error
			applied, err = applier.Apply(ctx, tx, user.ID, c.ID, orderID, won(3000))
			return err
		})
		return applied, err
	}
	reverse := func() (bool, error) {
		var released bool
		err := inTx(func(tx *sql.Tx) error {
			var err error
			released, err = applier.Reverse(ctx, tx, user.ID, c.ID, order.ID)
			return err
		})
		return released, err
	}
	assertUsage := func(isUsed bool, discount int64, usedCount int) {
		t.Helper()
		uc, err := store.FindUserCoupon(ctx, db, user.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, isUsed, uc.IsUsed)
		assert.True(t, won(discount).Equal(uc.DiscountAmount), uc.DiscountAmount.String())
		reloaded, err := store.GetCoupon(ctx, db, c.ID)
		require.NoError(t, err)
		assert.Equal(t, usedCount, reloaded.UsedCount)
	}

	applied, err := apply(order.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assertUsage(true, 3000, 1)

	// Same order again: no second use, no second discount.
	applied, err = apply(order.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assertUsage(true, 3000, 1)

	_, err = apply(other.ID)
	var unavailable *apperr.CouponNotAvailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, apperr.CouponAlreadyUsed, unavailable.Reason)
	assertUsage(true, 3000, 1)

	released, err := reverse()
	require.NoError(t, err)
	assert.True(t, released)
	assertUsage(false, 0, 0)

	released, err = reverse()
	require.NoError(t, err)
	assert.False(t, released)
	assertUsage(false, 0, 0)

	uc, err := store.FindUserCoupon(ctx, db, user.ID, c.ID)
	require.NoError(t, err)
	assert.Nil(t, uc.OrderID)
}
