package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

const couponColumns = `id, code, discount_type, discount_value, max_discount, min_purchase,
	valid_from, valid_until, usage_limit, used_count, is_active, created_at`

const userCouponColumns = `id, user_id, coupon_id, is_used, used_at, order_id, discount_amount, created_at`

func scanCoupon(row scanner, coupon *models.Coupon) error {
	return row.Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.DiscountType,
		&coupon.DiscountValue,
		&coupon.MaxDiscount,
		&coupon.MinPurchase,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		&coupon.UsageLimit,
		&coupon.UsedCount,
		&coupon.IsActive,
		&coupon.CreatedAt,
	)
}

func scanUserCoupon(row scanner, uc *models.UserCoupon) error {
	return row.Scan(
		&uc.ID,
		&uc.UserID,
		&uc.CouponID,
		&uc.IsUsed,
		&uc.UsedAt,
		&uc.OrderID,
		&uc.DiscountAmount,
		&uc.CreatedAt,
	)
}

func CreateCoupon(ctx context.Context, q database.DBTX, coupon *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_type, discount_value, max_discount, min_purchase,
		                     valid_from, valid_until, usage_limit, used_count, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, NOW())
		RETURNING ` + couponColumns

	err := scanCoupon(q.QueryRowContext(ctx, query,
		coupon.Code, coupon.DiscountType, coupon.DiscountValue, coupon.MaxDiscount, coupon.MinPurchase,
		coupon.ValidFrom, coupon.ValidUntil, coupon.UsageLimit, coupon.IsActive,
	), coupon)
	if err != nil {
		return database.Wrap("coupons", "insert", err)
	}
	return nil
}

func FindCouponByCode(ctx context.Context, q database.DBTX, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	if err := scanCoupon(q.QueryRowContext(ctx, query, code), coupon); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrCouponNotFound
		}
		return nil, database.Wrap("coupons", "select", err)
	}
	return coupon, nil
}

func GetCoupon(ctx context.Context, q database.DBTX, id int64) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	if err := scanCoupon(q.QueryRowContext(ctx, query, id), coupon); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrCouponNotFound
		}
		return nil, database.Wrap("coupons", "select", err)
	}
	return coupon, nil
}

// IssueUserCoupon binds a coupon to a user. Issuing the same coupon twice
// fails on the (user_id, coupon_id) constraint.
func IssueUserCoupon(ctx context.Context, q database.DBTX, userID, couponID int64) (*models.UserCoupon, error) {
	uc := &models.UserCoupon{}

	query := `
		INSERT INTO user_coupons (user_id, coupon_id, is_used, discount_amount, created_at)
		VALUES ($1, $2, FALSE, 0, NOW())
		RETURNING ` + userCouponColumns

	if err := scanUserCoupon(q.QueryRowContext(ctx, query, userID, couponID), uc); err != nil {
		return nil, database.Wrap("user_coupons", "insert", err)
	}
	return uc, nil
}

func FindUserCoupon(ctx context.Context, q database.DBTX, userID, couponID int64) (*models.UserCoupon, error) {
	return findUserCoupon(ctx, q,
		`SELECT `+userCouponColumns+` FROM user_coupons WHERE user_id = $1 AND coupon_id = $2`,
		userID, couponID)
}

func GetUserCoupon(ctx context.Context, q database.DBTX, id int64) (*models.UserCoupon, error) {
	return findUserCoupon(ctx, q, `SELECT `+userCouponColumns+` FROM user_coupons WHERE id = $1`, id)
}

func findUserCoupon(ctx context.Context, q database.DBTX, query string, args ...any) (*models.UserCoupon, error) {
	uc := &models.UserCoupon{}
	if err := scanUserCoupon(q.QueryRowContext(ctx, query, args...), uc); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrUserCouponNotFound
		}
		return nil, database.Wrap("user_coupons", "select", err)
	}
	return uc, nil
}

// MarkUserCouponUsed flips is_used from false to true and links the order.
// It reports false when the binding was already used or does not exist.
func MarkUserCouponUsed(ctx context.Context, q database.DBTX, userID, couponID, orderID int64, discount decimal.Decimal) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE user_coupons
		 SET is_used = TRUE, used_at = NOW(), order_id = $3, discount_amount = $4
		 WHERE user_id = $1
		   AND coupon_id = $2
		   AND is_used = FALSE`,
		userID, couponID, orderID, discount)
	return affectedOne(result, err, "user_coupons", "mark_used")
}

// ReleaseUserCoupon undoes MarkUserCouponUsed for orderID only.
func ReleaseUserCoupon(ctx context.Context, q database.DBTX, userID, couponID, orderID int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE user_coupons
		 SET is_used = FALSE, used_at = NULL, order_id = NULL, discount_amount = 0
		 WHERE user_id = $1
		   AND coupon_id = $2
		   AND is_used = TRUE
		   AND order_id = $3`,
		userID, couponID, orderID)
	return affectedOne(result, err, "user_coupons", "release")
}

// IncrementCouponUsage bumps used_count unless the usage cap is reached.
func IncrementCouponUsage(ctx context.Context, q database.DBTX, couponID int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE coupons
		 SET used_count = used_count + 1
		 WHERE id = $1
		   AND (usage_limit IS NULL OR used_count < usage_limit)`,
		couponID)
	return affectedOne(result, err, "coupons", "increment_usage")
}

func DecrementCouponUsage(ctx context.Context, q database.DBTX, couponID int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE coupons SET used_count = GREATEST(used_count - 1, 0) WHERE id = $1`,
		couponID)
	if err != nil {
		return database.Wrap("coupons", "decrement_usage", err)
	}
	return nil
}
