package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusVerifying OrderStatus = "verifying"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipping  OrderStatus = "shipping"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusVerifying,
	OrderStatusPaid,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodCard
}

// Order is the canonical aggregate. TotalAmount is the persisted payable
// amount and is never re-derived from items once written.
//
// GroupPriced marks a parcel placed as part of a bulk payment. Its total
// leaves out the group discount and shipping fee, which the representative
// parcel's discount and shipping rows carry. Other orders owe exactly their
// TotalAmount, even after a bulk status change groups them.
type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	OrderNumber    string          `json:"order_number,omitempty"`
	Status         OrderStatus     `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaymentGroupID *string         `json:"payment_group_id,omitempty"`
	IsFreeShipping bool            `json:"is_free_shipping"`
	GroupPriced    bool            `json:"group_priced"`
	UserCouponID   *int64          `json:"user_coupon_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	VerifyingAt    *time.Time      `json:"verifying_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
	Items          []OrderItem     `json:"items,omitempty"`
	Shipping       *Shipping       `json:"shipping,omitempty"`
	Payment        *Payment        `json:"payment,omitempty"`
}

// InGroup reports whether the order belongs to a bulk payment group.
func (o *Order) InGroup() bool {
	return o.PaymentGroupID != nil && *o.PaymentGroupID != ""
}

// ShippingFee is the fee charged on this order, zero when no shipping row
// was loaded.
func (o *Order) ShippingFee() decimal.Decimal {
	if o.Shipping == nil {
		return decimal.Zero
	}
	return o.Shipping.ShippingFee
}

type OrderItem struct {
	ID              int64             `json:"id"`
	OrderID         int64             `json:"order_id"`
	ProductID       int64             `json:"product_id"`
	Quantity        int               `json:"quantity"`
	Price           decimal.Decimal   `json:"price"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (i OrderItem) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Shipping struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	RecipientName   string          `json:"recipient_name"`
	Phone           string          `json:"phone,omitempty"`
	PostalCode      string          `json:"postal_code"`
	Address         string          `json:"address"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	TrackingCompany string          `json:"tracking_company,omitempty"`
}

type Payment struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	DepositorName string          `json:"depositor_name,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
}

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

type Coupon struct {
	ID            int64            `json:"id"`
	Code          string           `json:"code"`
	DiscountType  DiscountType     `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	MinPurchase   decimal.Decimal  `json:"min_purchase"`
	ValidFrom     *time.Time       `json:"valid_from,omitempty"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	UsageLimit    *int             `json:"usage_limit,omitempty"`
	UsedCount     int              `json:"used_count"`
	IsActive      bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
}

type UserCoupon struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	CouponID       int64           `json:"coupon_id"`
	IsUsed         bool            `json:"is_used"`
	UsedAt         *time.Time      `json:"used_at,omitempty"`
	OrderID        *int64          `json:"order_id,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// StatusEvent is one row of the append-only transition audit.
type StatusEvent struct {
	ID         int64       `json:"id"`
	OrderID    int64       `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorID    string      `json:"actor_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// FailedJob is a queue job that needs manual reconciliation.
type FailedJob struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	LastError string    `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
}
