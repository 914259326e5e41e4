package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

type scanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, user_id, order_number, status, total_amount, discount_amount, payment_group_id,
	is_free_shipping, group_priced, user_coupon_id, created_at, verifying_at, paid_at, shipped_at, delivered_at,
	cancelled_at, updated_at, version`

func scanOrder(row scanner, order *models.Order) error {
	var number sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&number,
		&order.Status,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.PaymentGroupID,
		&order.IsFreeShipping,
		&order.GroupPriced,
		&order.UserCouponID,
		&order.CreatedAt,
		&order.VerifyingAt,
		&order.PaidAt,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.CancelledAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return err
	}
	order.OrderNumber = number.String
	return nil
}

// OrderFilter narrows list and count queries. Zero values match everything.
type OrderFilter struct {
	UserID int64
	Status models.OrderStatus
}

// InsertOrder writes the order with its items, shipping and payment rows.
// It issues several statements and must run inside a transaction.
func InsertOrder(ctx context.Context, q database.DBTX, order *models.Order) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, total_amount, discount_amount,
		                     payment_group_id, is_free_shipping, group_priced, user_coupon_id, created_at, updated_at, version)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.TotalAmount, order.DiscountAmount,
		order.PaymentGroupID, order.IsFreeShipping, order.GroupPriced, order.UserCouponID,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return database.Wrap("orders", "insert", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		options, err := json.Marshal(optionsOrEmpty(item.SelectedOptions))
		if err != nil {
			return database.Wrap("order_items", "insert", err)
		}

		err = q.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price, selected_options, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 RETURNING id, created_at`,
			item.OrderID, item.ProductID, item.Quantity, item.Price, options,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return database.Wrap("order_items", "insert", err)
		}
	}

	if s := order.Shipping; s != nil {
		s.OrderID = order.ID
		err = q.QueryRowContext(ctx,
			`INSERT INTO shippings (order_id, recipient_name, phone, postal_code, address, shipping_fee, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 RETURNING id`,
			s.OrderID, s.RecipientName, s.Phone, s.PostalCode, s.Address, s.ShippingFee,
		).Scan(&s.ID)
		if err != nil {
			return database.Wrap("shippings", "insert", err)
		}
	}

	if p := order.Payment; p != nil {
		p.OrderID = order.ID
		err = q.QueryRowContext(ctx,
			`INSERT INTO payments (order_id, method, amount, depositor_name, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 RETURNING id`,
			p.OrderID, p.Method, p.Amount, p.DepositorName,
		).Scan(&p.ID)
		if err != nil {
			return database.Wrap("payments", "insert", err)
		}
	}

	return nil
}

func optionsOrEmpty(options map[string]string) map[string]string {
	if options == nil {
		return map[string]string{}
	}
	return options
}

func FindOrderByID(ctx context.Context, q database.DBTX, id int64) (*models.Order, error) {
	return findOrder(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockOrder loads the order and holds its row lock until the surrounding
// transaction ends, serialising transitions on the same order.
func LockOrder(ctx context.Context, q database.DBTX, id int64) (*models.Order, error) {
	return findOrder(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func findOrder(ctx context.Context, q database.DBTX, query string, id int64) (*models.Order, error) {
	order := &models.Order{}
	if err := scanOrder(q.QueryRowContext(ctx, query, id), order); err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.Wrap("orders", "select", err)
	}

	if err := loadOrderDetails(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// loadOrderDetails fills items, shipping and payment for every order using
// one query per child table.
func loadOrderDetails(ctx context.Context, q database.DBTX, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	if err := loadItems(ctx, q, ids, byID); err != nil {
		return err
	}
	if err := loadShippings(ctx, q, ids, byID); err != nil {
		return err
	}
	return loadPayments(ctx, q, ids, byID)
}

func loadItems(ctx context.Context, q database.DBTX, ids []int64, byID map[int64]*models.Order) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, price, selected_options, created_at
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id`,
		pq.Array(ids))
	if err != nil {
		return database.Wrap("order_items", "select", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    models.OrderItem
			options []byte
		)
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.Price,
			&options,
			&item.CreatedAt,
		)
		if err != nil {
			return database.Wrap("order_items", "scan", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &item.SelectedOptions); err != nil {
				return database.Wrap("order_items", "decode_options", err)
			}
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return database.Wrap("order_items", "select", err)
	}
	return nil
}

func loadShippings(ctx context.Context, q database.DBTX, ids []int64, byID map[int64]*models.Order) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, recipient_name, phone, postal_code, address, shipping_fee,
		        COALESCE(tracking_number, ''), COALESCE(tracking_company, '')
		 FROM shippings
		 WHERE order_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return database.Wrap("shippings", "select", err)
	}
	defer rows.Close()

	for rows.Next() {
		s := &models.Shipping{}
		err := rows.Scan(
			&s.ID,
			&s.OrderID,
			&s.RecipientName,
			&s.Phone,
			&s.PostalCode,
			&s.Address,
			&s.ShippingFee,
			&s.TrackingNumber,
			&s.TrackingCompany,
		)
		if err != nil {
			return database.Wrap("shippings", "scan", err)
		}
		if o, ok := byID[s.OrderID]; ok {
			o.Shipping = s
		}
	}

	if err := rows.Err(); err != nil {
		return database.Wrap("shippings", "select", err)
	}
	return nil
}

func loadPayments(ctx context.Context, q database.DBTX, ids []int64, byID map[int64]*models.Order) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, method, amount, depositor_name, confirmed_at
		 FROM payments
		 WHERE order_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return database.Wrap("payments", "select", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.Payment{}
		err := rows.Scan(
			&p.ID,
			&p.OrderID,
			&p.Method,
			&p.Amount,
			&p.DepositorName,
			&p.ConfirmedAt,
		)
		if err != nil {
			return database.Wrap("payments", "scan", err)
		}
		if o, ok := byID[p.OrderID]; ok {
			o.Payment = p
		}
	}

	if err := rows.Err(); err != nil {
		return database.Wrap("payments", "select", err)
	}
	return nil
}

// UpdateOrderStatus persists the order's status, number and lifecycle
// timestamps. The write only happens while the stored status still equals
// from; otherwise ErrStatusConflict is returned.
func UpdateOrderStatus(ctx context.Context, q database.DBTX, order *models.Order, from models.OrderStatus) error {
	err := q.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     order_number = NULLIF($2, ''),
		     verifying_at = $3,
		     paid_at = $4,
		     shipped_at = $5,
		     delivered_at = $6,
		     cancelled_at = $7,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $8
		   AND status = $9
		 RETURNING updated_at, version`,
		order.Status, order.OrderNumber, order.VerifyingAt, order.PaidAt, order.ShippedAt,
		order.DeliveredAt, order.CancelledAt, order.ID, from,
	).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		if database.IsNoRows(err) {
			return database.ErrStatusConflict
		}
		return database.Wrap("orders", "update_status", err)
	}
	return nil
}

// OrderNumberExists is a pre-check only; the unique constraint has the
// final word.
func OrderNumberExists(ctx context.Context, q database.DBTX, number string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`,
		number).Scan(&exists)
	if err != nil {
		return false, database.Wrap("orders", "select", err)
	}
	return exists, nil
}

// SetPaymentGroup assigns groupID to the listed orders that have no group
// yet and returns how many rows changed.
func SetPaymentGroup(ctx context.Context, q database.DBTX, ids []int64, groupID string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET payment_group_id = $1, updated_at = NOW(), version = version + 1
		 WHERE id = ANY($2)
		   AND payment_group_id IS NULL`,
		groupID, pq.Array(ids))
	if err != nil {
		return 0, database.Wrap("orders", "set_payment_group", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, database.Wrap("orders", "set_payment_group", err)
	}
	return rowsAffected, nil
}

func UpdateShippingTracking(ctx context.Context, q database.DBTX, orderID int64, trackingNumber, trackingCompany string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE shippings
		 SET tracking_number = NULLIF($1, ''), tracking_company = NULLIF($2, ''), updated_at = NOW()
		 WHERE order_id = $3`,
		trackingNumber, trackingCompany, orderID)
	return expectOneRow(result, err, "shippings", "update_tracking")
}

// ConfirmPayment records the settled amount and confirmation time.
func ConfirmPayment(ctx context.Context, q database.DBTX, orderID int64, amount decimal.Decimal, confirmedAt time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE payments
		 SET amount = $1, confirmed_at = $2, updated_at = NOW()
		 WHERE order_id = $3`,
		amount, confirmedAt, orderID)
	return expectOneRow(result, err, "payments", "confirm")
}

func expectOneRow(result sql.Result, err error, table, op string) error {
	ok, err := affectedOne(result, err, table, op)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrOrderNotFound
	}
	return nil
}

func affectedOne(result sql.Result, err error, table, op string) (bool, error) {
	if err != nil {
		return false, database.Wrap(table, op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, database.Wrap(table, op, err)
	}
	return rowsAffected > 0, nil
}

// FindOrdersByPaymentGroup returns at most limit members of the group in
// creation order, details included.
func FindOrdersByPaymentGroup(ctx context.Context, q database.DBTX, groupID string, limit int) ([]models.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE payment_group_id = $1
		 ORDER BY created_at, id
		 LIMIT $2`,
		groupID, limit)
	if err != nil {
		return nil, database.Wrap("orders", "select_group", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, database.Wrap("orders", "scan", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("orders", "select_group", err)
	}

	if err := loadOrderDetails(ctx, q, orderPointers(orders)); err != nil {
		return nil, err
	}

	return orders, nil
}

// FindOrdersByIDs returns the listed orders in id order, details included.
// Unknown ids are skipped.
func FindOrdersByIDs(ctx context.Context, q database.DBTX, ids []int64) ([]models.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE id = ANY($1)
		 ORDER BY id`,
		pq.Array(ids))
	if err != nil {
		return nil, database.Wrap("orders", "select", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, database.Wrap("orders", "scan", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("orders", "select", err)
	}

	if err := loadOrderDetails(ctx, q, orderPointers(orders)); err != nil {
		return nil, err
	}
	return orders, nil
}

func orderPointers(orders []models.Order) []*models.Order {
	ptrs := make([]*models.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	return ptrs
}

// CountOrdersByStatus aggregates in the database. Every known status is
// present in the result, zero when no rows match.
func CountOrdersByStatus(ctx context.Context, q database.DBTX, filter OrderFilter) (map[models.OrderStatus]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status, COUNT(*)
		 FROM orders
		 WHERE ($1::bigint = 0 OR user_id = $1)
		 GROUP BY status`,
		filter.UserID)
	if err != nil {
		return nil, database.Wrap("orders", "count_by_status", err)
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int64, len(models.OrderStatuses))
	for _, status := range models.OrderStatuses {
		counts[status] = 0
	}

	for rows.Next() {
		var (
			status models.OrderStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, database.Wrap("orders", "scan", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("orders", "count_by_status", err)
	}
	return counts, nil
}

// ListOrdersCursor pages orders newest first using keyset pagination. The
// page's items, shipping and payment rows are loaded with one query per
// child table.
func ListOrdersCursor(ctx context.Context, q database.DBTX, filter OrderFilter, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = ClampPageSize(limit)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::bigint = 0 OR user_id = $1)
		  AND ($2::text = '' OR status = $2)
		  AND (created_at, id) < ($3, $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := q.QueryContext(ctx, query,
		filter.UserID, string(filter.Status), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, database.Wrap("orders", "list", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, database.Wrap("orders", "scan", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Wrap("orders", "list", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := loadOrderDetails(ctx, q, orderPointers(orders)); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
