// Package consolidation builds the billing view of a bulk payment group from
// the totals already persisted on its member orders.
package consolidation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/models"
)

type MemberLine struct {
	OrderID                   int64              `json:"order_id"`
	OrderNumber               string             `json:"order_number,omitempty"`
	Status                    models.OrderStatus `json:"status"`
	TotalAmount               decimal.Decimal    `json:"total_amount"`
	DisplayedShippingFee      decimal.Decimal    `json:"displayed_shipping_fee"`
	IsRepresentative          bool               `json:"is_representative"`
	RepresentativeOrderNumber string             `json:"representative_order_number,omitempty"`
	ItemCount                 int                `json:"item_count"`
}

type View struct {
	PaymentGroupID            string             `json:"payment_group_id"`
	RepresentativeOrderID     int64              `json:"representative_order_id"`
	RepresentativeOrderNumber string             `json:"representative_order_number,omitempty"`
	Items                     []models.OrderItem `json:"items"`
	Members                   []MemberLine       `json:"members"`
	MembersTotal              decimal.Decimal    `json:"members_total"`
	Discount                  decimal.Decimal    `json:"discount"`
	ShippingFee               decimal.Decimal    `json:"shipping_fee"`
	TotalAmount               decimal.Decimal    `json:"total_amount"`
	Degraded                  bool               `json:"degraded"`
	Warnings                  []string           `json:"warnings,omitempty"`
}

// Consolidate aggregates persisted member totals. Parcels placed together
// (GroupPriced) follow
//
//	total = sum(member.total_amount) - representative.discount_amount + representative.shipping_fee
//
// where the representative is the member carrying a shipping fee. Orders
// placed on their own and grouped later by a bulk status change already owe
// their full total, so they are summed as stored and keep their own fee.
// Items are never re-priced here.
func Consolidate(groupID string, members []models.Order) (*View, error) {
	if len(members) == 0 {
		return nil, apperr.Validation("payment_group_id", "group %q has no members", groupID)
	}

	ordered := make([]models.Order, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	view := &View{
		PaymentGroupID: groupID,
		Items:          []models.OrderItem{},
		Discount:       decimal.Zero,
		ShippingFee:    decimal.Zero,
	}

	var pooled []models.Order
	for _, m := range ordered {
		if m.GroupPriced {
			pooled = append(pooled, m)
		}
	}

	rep := &ordered[0]
	if len(pooled) > 0 {
		rep = pickRepresentative(pooled, view)
		view.Discount = rep.DiscountAmount
		view.ShippingFee = rep.ShippingFee()
	}
	view.RepresentativeOrderID = rep.ID
	view.RepresentativeOrderNumber = rep.OrderNumber

	total := decimal.Zero
	owed := decimal.Zero
	for i := range ordered {
		m := &ordered[i]
		total = total.Add(m.TotalAmount)
		owed = owed.Add(m.TotalAmount)
		view.Items = append(view.Items, m.Items...)

		line := MemberLine{
			OrderID:              m.ID,
			OrderNumber:          m.OrderNumber,
			Status:               m.Status,
			TotalAmount:          m.TotalAmount,
			DisplayedShippingFee: decimal.Zero,
			ItemCount:            len(m.Items),
		}
		if !m.GroupPriced {
			line.DisplayedShippingFee = m.ShippingFee()
			view.Discount = view.Discount.Add(m.DiscountAmount)
			view.ShippingFee = view.ShippingFee.Add(m.ShippingFee())
		}
		if m.ID == rep.ID {
			line.IsRepresentative = true
			line.DisplayedShippingFee = m.ShippingFee()
		} else {
			line.RepresentativeOrderNumber = rep.OrderNumber
		}
		view.Members = append(view.Members, line)
	}

	if rep.GroupPriced {
		owed = owed.Sub(rep.DiscountAmount).Add(rep.ShippingFee())
	}

	view.MembersTotal = total
	view.TotalAmount = owed

	return view, nil
}

// pickRepresentative expects members sorted by creation. A free-shipping
// group legitimately has no fee-bearing member; its first order represents it.
func pickRepresentative(ordered []models.Order, view *View) *models.Order {
	var bearers []*models.Order
	for i := range ordered {
		if ordered[i].ShippingFee().IsPositive() {
			bearers = append(bearers, &ordered[i])
		}
	}

	switch {
	case len(bearers) == 1:
		return bearers[0]
	case len(bearers) == 0 && ordered[0].IsFreeShipping:
		return &ordered[0]
	case len(bearers) == 0:
		rep := &ordered[0]
		view.Degraded = true
		view.Warnings = append(view.Warnings, fmt.Sprintf(
			"no member of group %s carries a shipping fee; order %d used as representative",
			view.PaymentGroupID, rep.ID))
		return rep
	default:
		rep := bearers[0]
		view.Degraded = true
		view.Warnings = append(view.Warnings, fmt.Sprintf(
			"%d members of group %s carry a shipping fee; earliest order %d used as representative",
			len(bearers), view.PaymentGroupID, rep.ID))
		return rep
	}
}
