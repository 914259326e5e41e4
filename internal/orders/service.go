// Package orders runs order placement and the order lifecycle against
// Postgres. Every status change locks the order row, so transitions on one
// order are linearisable.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/coupon"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/inventory"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/requestctx"
	"github.com/safar/go-order-engine/internal/store"
)

const (
	orderNumberConstraint = "orders_order_number_key"
	orderNumberAttempts   = 5
)

type ServiceDeps struct {
	DB         *sql.DB
	Calculator *pricing.Calculator
	Ledger     *inventory.Ledger
	Coupons    *coupon.Applier
	Metrics    *metrics.Metrics
	Clock      func() time.Time
	RandIntn   func(n int) int
}

type Service struct {
	db         *sql.DB
	calculator *pricing.Calculator
	ledger     *inventory.Ledger
	coupons    *coupon.Applier
	metrics    *metrics.Metrics
	clock      func() time.Time
	randIntn   func(n int) int
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("order service: database is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("order service: calculator is required")
	}

	ledger := deps.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger(deps.Metrics)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	randIntn := deps.RandIntn
	if randIntn == nil {
		randIntn = rand.Intn
	}

	coupons := deps.Coupons
	if coupons == nil {
		coupons = coupon.NewApplier(clock)
	}

	return &Service{
		db:         deps.DB,
		calculator: deps.Calculator,
		ledger:     ledger,
		coupons:    coupons,
		metrics:    deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		randIntn: randIntn,
	}, nil
}

// PlaceOrder reserves stock, prices the order and writes every parcel in a
// single transaction. Any failure, stock first of all, leaves nothing behind.
// When ctx carries a job id the job is claimed in the same transaction, and
// a job that was already placed returns its orders without touching stock.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *PlaceOrderResult
	err := database.WithRetry(ctx, s.db, database.OrderTxOptions(), func(tx *sql.Tx) error {
		var err error
		result, err = s.placeOrder(ctx, tx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := requestctx.Logger(ctx)
	if result.Replayed {
		logger.Info("order job already placed",
			zap.String("job_id", requestctx.JobID(ctx)),
			zap.Int("orders", len(result.Orders)),
		)
		return result, nil
	}
	for _, o := range result.Orders {
		logger.Info("order placed",
			zap.Int64("order_id", o.ID),
			zap.Int64("user_id", o.UserID),
			zap.String("total_amount", o.TotalAmount.String()),
			zap.String("payment_group_id", result.PaymentGroupID),
		)
	}
	return result, nil
}

func (s *Service) placeOrder(ctx context.Context, tx *sql.Tx, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	jobID := requestctx.JobID(ctx)
	if jobID != "" {
		claimed, err := store.ClaimOrderJob(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return s.replayOrderJob(ctx, tx, jobID)
		}
	}

	if _, err := store.GetUser(ctx, tx, cmd.UserID); err != nil {
		return nil, notFound("user", cmd.UserID, err)
	}

	products, err := s.ledger.Reserve(ctx, tx, cmd.lines())
	if err != nil {
		return nil, err
	}

	parcelItems := make([][]models.OrderItem, len(cmd.Parcels))
	goods := make([]decimal.Decimal, len(cmd.Parcels))
	var all []models.OrderItem
	for i, p := range cmd.Parcels {
		for _, req := range p.Items {
			parcelItems[i] = append(parcelItems[i], models.OrderItem{
				ProductID:       req.ProductID,
				Quantity:        req.Quantity,
				Price:           products[req.ProductID].Price,
				SelectedOptions: req.SelectedOptions,
			})
		}
		goods[i] = pricing.ItemsTotal(parcelItems[i])
		all = append(all, parcelItems[i]...)
	}

	var validation *coupon.Validation
	if strings.TrimSpace(cmd.CouponCode) != "" {
		validation, err = s.coupons.Validate(ctx, tx, cmd.CouponCode, cmd.UserID, pricing.ItemsTotal(all))
		if err != nil {
			return nil, err
		}
	}

	var c *models.Coupon
	if validation != nil {
		c = validation.Coupon
	}
	var (
		breakdown pricing.Breakdown
		totals    []decimal.Decimal
		groupID   *string
	)
	if len(cmd.Parcels) > 1 {
		postalCodes := make([]string, len(cmd.Parcels))
		for i, p := range cmd.Parcels {
			postalCodes[i] = p.PostalCode
		}
		breakdown = s.calculator.QuoteGroup(all, postalCodes, c, cmd.PaymentMethod)
		totals = splitGroupTotals(goods, breakdown)
		id := paymentGroupID(s.clock())
		groupID = &id
	} else {
		breakdown = s.calculator.Quote(all, cmd.Parcels[0].PostalCode, c, cmd.PaymentMethod)
		totals = []decimal.Decimal{breakdown.FinalAmount}
	}

	result := &PlaceOrderResult{Breakdown: breakdown}
	if groupID != nil {
		result.PaymentGroupID = *groupID
	}

	for i, p := range cmd.Parcels {
		order := &models.Order{
			UserID:         cmd.UserID,
			Status:         models.OrderStatusPending,
			TotalAmount:    totals[i],
			DiscountAmount: decimal.Zero,
			PaymentGroupID: groupID,
			IsFreeShipping: breakdown.IsFreeShipping,
			GroupPriced:    groupID != nil,
			Items:          parcelItems[i],
			Shipping: &models.Shipping{
				RecipientName: strings.TrimSpace(p.RecipientName),
				Phone:         strings.TrimSpace(p.Phone),
				PostalCode:    strings.TrimSpace(p.PostalCode),
				Address:       strings.TrimSpace(p.Address),
				ShippingFee:   decimal.Zero,
			},
			Payment: &models.Payment{
				Method:        cmd.PaymentMethod,
				Amount:        totals[i],
				DepositorName: strings.TrimSpace(cmd.DepositorName),
			},
		}

		if i == 0 {
			order.DiscountAmount = breakdown.Discount
			order.Shipping.ShippingFee = breakdown.ShippingFee
			if validation != nil {
				order.UserCouponID = &validation.UserCouponID
			}
		}

		if err := store.InsertOrder(ctx, tx, order); err != nil {
			return nil, err
		}
		result.Orders = append(result.Orders, order)
	}

	if validation != nil {
		rep := result.Orders[0]
		if _, err := s.coupons.Apply(ctx, tx, cmd.UserID, validation.Coupon.ID, rep.ID, breakdown.Discount); err != nil {
			return nil, err
		}
	}

	if jobID != "" {
		ids := make([]int64, len(result.Orders))
		for i, o := range result.Orders {
			ids[i] = o.ID
		}
		if err := store.CompleteOrderJob(ctx, tx, jobID, ids, groupID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Service) replayOrderJob(ctx context.Context, tx *sql.Tx, jobID string) (*PlaceOrderResult, error) {
	ids, groupID, err := store.FindOrderJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	placed, err := store.FindOrdersByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	result := &PlaceOrderResult{PaymentGroupID: groupID, Replayed: true}
	for i := range placed {
		result.Orders = append(result.Orders, &placed[i])
	}
	return result, nil
}

// Cancel moves a pending or verifying order to cancelled and restores its
// stock in the same transaction.
func (s *Service) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	order, _, err := s.UpdateStatus(ctx, StatusCommand{OrderID: orderID, Status: models.OrderStatusCancelled})
	return order, err
}

// UpdateStatus applies one transition. The bool result is false when the
// order was already in the requested status.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*models.Order, bool, error) {
	if err := cmd.Validate(); err != nil {
		return nil, false, err
	}

	var (
		order   *models.Order
		from    models.OrderStatus
		changed bool
		err     error
	)
	for attempt := 1; ; attempt++ {
		err = database.WithRetry(ctx, s.db, database.OrderTxOptions(), func(tx *sql.Tx) error {
			var txErr error
			order, from, changed, txErr = s.transition(ctx, tx, cmd)
			return txErr
		})
		if database.IsUniqueViolation(err, orderNumberConstraint) && attempt < orderNumberAttempts {
			continue
		}
		break
	}
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.metrics.Transition(string(from), string(order.Status))
		requestctx.Logger(ctx).Info("order status changed",
			zap.Int64("order_id", order.ID),
			zap.String("from", string(from)),
			zap.String("to", string(order.Status)),
			zap.String("actor", requestctx.Actor(ctx)),
		)
		s.afterTransition(ctx, order, cmd)
	}

	return order, changed, nil
}

// transition runs inside the status transaction: lock, validate, stamp,
// persist, audit and, for cancellations, restore stock.
func (s *Service) transition(ctx context.Context, tx *sql.Tx, cmd StatusCommand) (*models.Order, models.OrderStatus, bool, error) {
	order, err := store.LockOrder(ctx, tx, cmd.OrderID)
	if err != nil {
		return nil, "", false, notFound("order", cmd.OrderID, err)
	}

	from := order.Status
	now := s.clock()

	changed, err := applyTransition(order, cmd.Status, now)
	if err != nil || !changed {
		return order, from, false, err
	}

	if cmd.Status == models.OrderStatusVerifying && order.OrderNumber == "" {
		number, err := s.nextOrderNumber(ctx, tx, now)
		if err != nil {
			return nil, "", false, err
		}
		order.OrderNumber = number
	}

	if err := store.UpdateOrderStatus(ctx, tx, order, from); err != nil {
		return nil, "", false, err
	}

	err = store.InsertStatusEvent(ctx, tx, &models.StatusEvent{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   order.Status,
		ActorID:    requestctx.Actor(ctx),
	})
	if err != nil {
		return nil, "", false, err
	}

	if cmd.Status == models.OrderStatusCancelled {
		if err := s.ledger.Restore(ctx, tx, inventory.LinesFromItems(order.Items)); err != nil {
			return nil, "", false, err
		}
	}

	return order, from, true, nil
}

func (s *Service) nextOrderNumber(ctx context.Context, q database.DBTX, now time.Time) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		number := formatOrderNumber(now, s.randIntn(10000))
		exists, err := store.OrderNumberExists(ctx, q, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", errors.New("order number: no free number after retries")
}

// afterTransition runs the side effects that follow a committed status
// change. Failures are logged and never undo the transition.
func (s *Service) afterTransition(ctx context.Context, order *models.Order, cmd StatusCommand) {
	switch order.Status {
	case models.OrderStatusCancelled:
		s.reverseCoupon(ctx, order)
	case models.OrderStatusPaid:
		s.applyLinkedCoupon(ctx, order)
		s.finalizePayment(ctx, order)
	case models.OrderStatusShipping:
		if cmd.TrackingNumber == "" && cmd.TrackingCompany == "" {
			return
		}
		if err := store.UpdateShippingTracking(ctx, s.db, order.ID, cmd.TrackingNumber, cmd.TrackingCompany); err != nil {
			s.sideEffectFailed(ctx, order, "update_tracking", err)
			return
		}
		if order.Shipping != nil {
			order.Shipping.TrackingNumber = cmd.TrackingNumber
			order.Shipping.TrackingCompany = cmd.TrackingCompany
		}
	}
}

func (s *Service) reverseCoupon(ctx context.Context, order *models.Order) {
	if order.UserCouponID == nil {
		return
	}

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		uc, err := store.GetUserCoupon(ctx, tx, *order.UserCouponID)
		if err != nil {
			return err
		}
		_, err = s.coupons.Reverse(ctx, tx, order.UserID, uc.CouponID, order.ID)
		return err
	})
	if err != nil {
		s.sideEffectFailed(ctx, order, "reverse_coupon", err)
	}
}

// applyLinkedCoupon covers orders whose coupon was linked but never marked
// used; normally Apply already ran at placement and this is a no-op.
func (s *Service) applyLinkedCoupon(ctx context.Context, order *models.Order) {
	if order.UserCouponID == nil {
		return
	}

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		uc, err := store.GetUserCoupon(ctx, tx, *order.UserCouponID)
		if err != nil {
			return err
		}
		if uc.IsUsed {
			return nil
		}
		_, err = s.coupons.Apply(ctx, tx, order.UserID, uc.CouponID, order.ID, order.DiscountAmount)
		return err
	})
	if err != nil {
		s.sideEffectFailed(ctx, order, "apply_coupon", err)
	}
}

// finalizePayment confirms the payment at the persisted total. Single
// orders are re-composed from their persisted parts as an integrity check;
// the stored total always wins.
func (s *Service) finalizePayment(ctx context.Context, order *models.Order) {
	if order.Payment == nil {
		s.sideEffectFailed(ctx, order, "confirm_payment", errors.New("payment record missing"))
		return
	}

	if !order.GroupPriced {
		recomputed := pricing.Compose(
			pricing.ItemsTotal(order.Items),
			order.DiscountAmount,
			order.ShippingFee(),
			order.Payment.Method,
		)
		if !recomputed.FinalAmount.Equal(order.TotalAmount) {
			s.metrics.IntegrityWarning("total_mismatch")
			requestctx.Logger(ctx).Warn("data integrity warning: persisted total differs from recomputation",
				zap.Int64("order_id", order.ID),
				zap.String("persisted", order.TotalAmount.String()),
				zap.String("recomputed", recomputed.FinalAmount.String()),
			)
		}
	}

	confirmedAt := s.clock()
	if err := store.ConfirmPayment(ctx, s.db, order.ID, order.TotalAmount, confirmedAt); err != nil {
		s.sideEffectFailed(ctx, order, "confirm_payment", err)
		return
	}
	order.Payment.Amount = order.TotalAmount
	order.Payment.ConfirmedAt = &confirmedAt
}

func (s *Service) sideEffectFailed(ctx context.Context, order *models.Order, step string, err error) {
	requestctx.Logger(ctx).Error("order side effect failed",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("step", step),
		zap.Error(err),
	)
}

// BulkUpdateStatus transitions several orders independently. When more than
// one id is given, the orders that transitioned and had no payment group
// receive one shared GROUP marker, provided there are at least two of them.
// Failing orders are never grouped.
func (s *Service) BulkUpdateStatus(ctx context.Context, cmd BulkStatusCommand) (*BulkStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	ids := uniqueIDs(cmd.OrderIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("order_ids", "no valid order ids")
	}

	result := &BulkStatusResult{Results: make([]BulkItemResult, 0, len(ids))}
	var ungrouped []int64

	for _, id := range ids {
		item := BulkItemResult{OrderID: id}

		order, changed, err := s.UpdateStatus(ctx, StatusCommand{
			OrderID:         id,
			Status:          cmd.Status,
			TrackingCompany: cmd.TrackingCompany,
		})
		if err != nil {
			_, item.Error = apperr.PublicMessage(err)
			requestctx.Logger(ctx).Warn("bulk status change failed for order",
				zap.Int64("order_id", id),
				zap.Error(err),
			)
		} else {
			item.Status = order.Status
			item.Changed = changed
			if !order.InGroup() {
				ungrouped = append(ungrouped, id)
			}
		}
		result.Results = append(result.Results, item)
	}

	if len(ids) > 1 && len(ungrouped) > 1 {
		groupID := paymentGroupID(s.clock())
		if _, err := store.SetPaymentGroup(ctx, s.db, ungrouped, groupID); err != nil {
			requestctx.Logger(ctx).Error("assign payment group failed",
				zap.Int64s("order_ids", ungrouped),
				zap.Error(err),
			)
			return result, nil
		}
		result.PaymentGroupID = groupID
	}

	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := store.FindOrderByID(ctx, s.db, id)
	if err != nil {
		return nil, notFound("order", id, err)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter store.OrderFilter, cursor string, limit int) (*store.CursorPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("status", "unknown status %q", filter.Status)
	}

	page, err := store.ListOrdersCursor(ctx, s.db, filter, cursor, limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		return nil, apperr.Validation("cursor", "malformed cursor")
	}
	return page, err
}

func (s *Service) CountByStatus(ctx context.Context, filter store.OrderFilter) (map[models.OrderStatus]int64, error) {
	return store.CountOrdersByStatus(ctx, s.db, filter)
}

func (s *Service) History(ctx context.Context, orderID int64) ([]models.StatusEvent, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return store.ListStatusEvents(ctx, s.db, orderID)
}

// Quote prices items at current catalog prices without reserving stock or
// consuming the coupon.
func (s *Service) Quote(ctx context.Context, cmd QuoteCommand) (*pricing.Breakdown, error) {
	if len(cmd.Items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, apperr.Validation("payment_method", "unsupported method %q", cmd.PaymentMethod)
	}

	ids := make([]int64, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := store.FindProductsByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(cmd.Items))
	for _, req := range cmd.Items {
		product, ok := products[req.ProductID]
		if !ok {
			return nil, apperr.NotFound("product", req.ProductID, database.ErrProductNotFound)
		}
		items = append(items, models.OrderItem{ProductID: req.ProductID, Quantity: req.Quantity, Price: product.Price})
	}

	var c *models.Coupon
	if strings.TrimSpace(cmd.CouponCode) != "" {
		validation, err := s.coupons.Validate(ctx, s.db, cmd.CouponCode, cmd.UserID, pricing.ItemsTotal(items))
		if err != nil {
			return nil, err
		}
		c = validation.Coupon
	}

	breakdown := s.calculator.Quote(items, cmd.PostalCode, c, cmd.PaymentMethod)
	return &breakdown, nil
}

// notFound converts store sentinels into NotFoundError and passes other
// errors through.
func notFound(entity string, id int64, err error) error {
	for _, sentinel := range []error{
		database.ErrUserNotFound,
		database.ErrOrderNotFound,
		database.ErrProductNotFound,
	} {
		if errors.Is(err, sentinel) {
			return apperr.NotFound(entity, id, sentinel)
		}
	}
	return err
}
