package orders

import (
	"strings"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/inventory"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/pricing"
)

const (
	MaxParcelsPerOrder = 20
	MaxItemsPerParcel  = 100
	MaxBulkOrderIDs    = 100
)

type ItemRequest struct {
	ProductID       int64             `json:"product_id"`
	Quantity        int               `json:"quantity"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

// ParcelRequest is one shipment. Each parcel becomes its own order.
type ParcelRequest struct {
	RecipientName string        `json:"recipient_name"`
	Phone         string        `json:"phone,omitempty"`
	PostalCode    string        `json:"postal_code"`
	Address       string        `json:"address"`
	Items         []ItemRequest `json:"items"`
}

// PlaceOrderCommand is the payload of an order creation job. More than one
// parcel places a bulk payment group.
type PlaceOrderCommand struct {
	UserID        int64                `json:"user_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	DepositorName string               `json:"depositor_name,omitempty"`
	CouponCode    string               `json:"coupon_code,omitempty"`
	Parcels       []ParcelRequest      `json:"parcels"`
}

func (c PlaceOrderCommand) Validate() error {
	if c.UserID <= 0 {
		return apperr.Validation("user_id", "must be positive")
	}
	if !c.PaymentMethod.Valid() {
		return apperr.Validation("payment_method", "unsupported method %q", c.PaymentMethod)
	}
	if c.PaymentMethod == models.PaymentMethodBankTransfer && strings.TrimSpace(c.DepositorName) == "" {
		return apperr.Validation("depositor_name", "required for bank transfer")
	}
	if len(c.Parcels) == 0 {
		return apperr.Validation("parcels", "at least one parcel is required")
	}
	if len(c.Parcels) > MaxParcelsPerOrder {
		return apperr.Validation("parcels", "at most %d parcels per order", MaxParcelsPerOrder)
	}

	for i, p := range c.Parcels {
		if strings.TrimSpace(p.RecipientName) == "" {
			return apperr.Validation("recipient_name", "parcel %d: required", i)
		}
		if strings.TrimSpace(p.Address) == "" {
			return apperr.Validation("address", "parcel %d: required", i)
		}
		if strings.TrimSpace(p.PostalCode) == "" {
			return apperr.Validation("postal_code", "parcel %d: required", i)
		}
		if len(p.Items) == 0 {
			return apperr.Validation("items", "parcel %d: at least one item is required", i)
		}
		if len(p.Items) > MaxItemsPerParcel {
			return apperr.Validation("items", "parcel %d: at most %d items", i, MaxItemsPerParcel)
		}
		for _, item := range p.Items {
			if item.ProductID <= 0 {
				return apperr.Validation("product_id", "parcel %d: must be positive", i)
			}
			if item.Quantity <= 0 {
				return apperr.Validation("quantity", "parcel %d: product %d: must be positive", i, item.ProductID)
			}
		}
	}
	return nil
}

func (c PlaceOrderCommand) lines() []inventory.Line {
	var lines []inventory.Line
	for _, p := range c.Parcels {
		for _, item := range p.Items {
			lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}
	return lines
}

// PlaceOrderResult describes the placed orders. Replayed is set when the
// job had already been placed; Orders are then reloaded and Breakdown is
// left zero.
type PlaceOrderResult struct {
	Orders         []*models.Order   `json:"orders"`
	PaymentGroupID string            `json:"payment_group_id,omitempty"`
	Breakdown      pricing.Breakdown `json:"breakdown"`
	Replayed       bool              `json:"replayed,omitempty"`
}

// StatusCommand requests a transition of one order. Tracking fields are
// only used when moving into shipping.
type StatusCommand struct {
	OrderID         int64              `json:"order_id"`
	Status          models.OrderStatus `json:"status"`
	TrackingNumber  string             `json:"tracking_number,omitempty"`
	TrackingCompany string             `json:"tracking_company,omitempty"`
}

func (c StatusCommand) Validate() error {
	if c.OrderID <= 0 {
		return apperr.Validation("order_id", "must be positive")
	}
	if !c.Status.Valid() {
		return apperr.Validation("status", "unknown status %q", c.Status)
	}
	return nil
}

type BulkStatusCommand struct {
	OrderIDs        []int64            `json:"order_ids"`
	Status          models.OrderStatus `json:"status"`
	TrackingCompany string             `json:"tracking_company,omitempty"`
}

func (c BulkStatusCommand) Validate() error {
	if len(c.OrderIDs) == 0 {
		return apperr.Validation("order_ids", "at least one order id is required")
	}
	if len(c.OrderIDs) > MaxBulkOrderIDs {
		return apperr.Validation("order_ids", "at most %d orders per request", MaxBulkOrderIDs)
	}
	if !c.Status.Valid() {
		return apperr.Validation("status", "unknown status %q", c.Status)
	}
	return nil
}

// uniqueIDs keeps the first occurrence of each id and drops non-positive ids.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type BulkItemResult struct {
	OrderID int64              `json:"order_id"`
	Status  models.OrderStatus `json:"status,omitempty"`
	Changed bool               `json:"changed"`
	Error   string             `json:"error,omitempty"`
}

type BulkStatusResult struct {
	PaymentGroupID string           `json:"payment_group_id,omitempty"`
	Results        []BulkItemResult `json:"results"`
}

type QuoteCommand struct {
	UserID        int64                `json:"user_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	PostalCode    string               `json:"postal_code"`
	CouponCode    string               `json:"coupon_code,omitempty"`
	Items         []ItemRequest        `json:"items"`
}
