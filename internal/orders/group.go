package orders

import (
	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/pricing"
)

// splitGroupTotals distributes one group breakdown over its parcels. The
// first parcel is the representative: its shipping row carries the group
// shipping fee, its discount column the coupon, and its total the goods plus
// the whole group VAT. Every other parcel stores its goods only, so
//
//	sum(totals) - breakdown.Discount + breakdown.ShippingFee == breakdown.FinalAmount
//
// which is exactly how a consolidated group view is read back.
func splitGroupTotals(goods []decimal.Decimal, b pricing.Breakdown) []decimal.Decimal {
	totals := make([]decimal.Decimal, len(goods))
	if len(goods) == 0 {
		return totals
	}

	others := decimal.Zero
	for i := 1; i < len(goods); i++ {
		totals[i] = goods[i]
		others = others.Add(goods[i])
	}

	totals[0] = b.FinalAmount.Sub(others).Add(b.Discount).Sub(b.ShippingFee)
	return totals
}
