// Package coupon validates, applies and reverses user coupons. Apply and
// Reverse issue more than one statement and expect to run inside the
// caller's transaction.
package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/store"
)

type Validation struct {
	Coupon       *models.Coupon
	UserCouponID int64
	Discount     decimal.Decimal
}

// Evaluate checks coupon rules in a fixed priority order and returns the
// discount for orderAmount. uc is the user's binding, nil when the user does
// not hold the coupon.
func Evaluate(c *models.Coupon, uc *models.UserCoupon, orderAmount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if c == nil || !c.IsActive {
		code := ""
		if c != nil {
			code = c.Code
		}
		return decimal.Zero, &apperr.CouponNotAvailableError{Code: code, Reason: apperr.CouponNotFound}
	}

	fail := func(reason apperr.CouponReason) (decimal.Decimal, error) {
		return decimal.Zero, &apperr.CouponNotAvailableError{Code: c.Code, Reason: reason}
	}

	switch {
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return fail(apperr.CouponNotYetValid)
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return fail(apperr.CouponExpired)
	case orderAmount.LessThan(c.MinPurchase):
		return fail(apperr.CouponBelowMinimum)
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return fail(apperr.CouponUsageExceeded)
	case uc == nil:
		return fail(apperr.CouponNotOwned)
	case uc.IsUsed:
		return fail(apperr.CouponAlreadyUsed)
	}

	return pricing.Discount(orderAmount, c), nil
}

type Applier struct {
	now func() time.Time
}

func NewApplier(now func() time.Time) *Applier {
	if now == nil {
		now = time.Now
	}
	return &Applier{now: now}
}

// Validate loads the coupon by code and the user's binding, then runs
// Evaluate against orderAmount.
func (a *Applier) Validate(ctx context.Context, q database.DBTX, code string, userID int64, orderAmount decimal.Decimal) (*Validation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &apperr.CouponNotAvailableError{Reason: apperr.CouponNotFound}
	}

	c, err := store.FindCouponByCode(ctx, q, code)
	if err != nil {
		if errors.Is(err, database.ErrCouponNotFound) {
			return nil, &apperr.CouponNotAvailableError{Code: code, Reason: apperr.CouponNotFound}
		}
		return nil, err
	}

	uc, err := store.FindUserCoupon(ctx, q, userID, c.ID)
	if err != nil {
		if !errors.Is(err, database.ErrUserCouponNotFound) {
			return nil, err
		}
		uc = nil
	}

	discount, err := Evaluate(c, uc, orderAmount, a.now())
	if err != nil {
		return nil, err
	}

	return &Validation{Coupon: c, UserCouponID: uc.ID, Discount: discount}, nil
}

// Apply marks the user's coupon used by orderID and counts the use. It
// returns false without error when the coupon is already applied to the
// same order.
func (a *Applier) Apply(ctx context.Context, q database.DBTX, userID, couponID, orderID int64, discount decimal.Decimal) (bool, error) {
	marked, err := store.MarkUserCouponUsed(ctx, q, userID, couponID, orderID, discount)
	if err != nil {
		return false, err
	}

	if !marked {
		uc, err := store.FindUserCoupon(ctx, q, userID, couponID)
		if err != nil {
			if errors.Is(err, database.ErrUserCouponNotFound) {
				return false, a.unavailable(ctx, q, couponID, apperr.CouponNotOwned)
			}
			return false, err
		}
		if uc.IsUsed && uc.OrderID != nil && *uc.OrderID == orderID {
			return false, nil
		}
		return false, a.unavailable(ctx, q, couponID, apperr.CouponAlreadyUsed)
	}

	counted, err := store.IncrementCouponUsage(ctx, q, couponID)
	if err != nil {
		return false, err
	}
	if !counted {
		return false, a.unavailable(ctx, q, couponID, apperr.CouponUsageExceeded)
	}

	return true, nil
}

// Reverse releases the coupon held by orderID. Calling it again, or for an
// order that never used the coupon, is a no-op returning false.
func (a *Applier) Reverse(ctx context.Context, q database.DBTX, userID, couponID, orderID int64) (bool, error) {
	released, err := store.ReleaseUserCoupon(ctx, q, userID, couponID, orderID)
	if err != nil || !released {
		return false, err
	}

	if err := store.DecrementCouponUsage(ctx, q, couponID); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Applier) unavailable(ctx context.Context, q database.DBTX, couponID int64, reason apperr.CouponReason) error {
	unavailable := &apperr.CouponNotAvailableError{Reason: reason}
	if c, err := store.GetCoupon(ctx, q, couponID); err == nil {
		unavailable.Code = c.Code
	}
	return unavailable
}
