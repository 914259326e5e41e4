package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/pricing"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func goodsOf(parcels [][]models.OrderItem) ([]models.OrderItem, []decimal.Decimal) {
	var all []models.OrderItem
	goods := make([]decimal.Decimal, len(parcels))
	for i, p := range parcels {
		all = append(all, p...)
		goods[i] = pricing.ItemsTotal(p)
	}
	return all, goods
}

func consolidated(totals []decimal.Decimal, b pricing.Breakdown) decimal.Decimal {
	sum := decimal.Zero
	for _, total := range totals {
		sum = sum.Add(total)
	}
	return sum.Sub(b.Discount).Add(b.ShippingFee)
}

func TestSplitGroupTotalsMatchesConsolidationFormula(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountTypeFixedAmount, DiscountValue: dec(2000)}
	all, goods := goodsOf([][]models.OrderItem{
		{{Price: dec(5000), Quantity: 1}},
		{{Price: dec(7000), Quantity: 1}},
		{{Price: dec(3333), Quantity: 3}},
	})

	for _, method := range []models.PaymentMethod{models.PaymentMethodCard, models.PaymentMethodBankTransfer} {
		b := pricing.GroupFinalAmount(all, []string{"06236", "63100", "40220"}, pricing.Options{
			Coupon:          coupon,
			PaymentMethod:   method,
			BaseShippingFee: dec(3000),
		})

		totals := splitGroupTotals(goods, b)

		assert.True(t, b.FinalAmount.Equal(consolidated(totals, b)), "%s: %s", method, b.FinalAmount)
		assert.True(t, goods[1].Equal(totals[1]), "members store goods only")
		assert.True(t, goods[2].Equal(totals[2]), "members store goods only")
		assert.True(t, goods[0].Add(b.VAT).Equal(totals[0]), "representative carries the group VAT")
	}
}

func TestSplitGroupTotalsSingleParcel(t *testing.T) {
	b := pricing.Compose(dec(20000), dec(3000), dec(7000), models.PaymentMethodCard)

	totals := splitGroupTotals([]decimal.Decimal{dec(20000)}, b)

	assert.True(t, dec(22400).Equal(totals[0]), totals[0].String())
}

func TestSplitGroupTotalsLargeCouponOnSmallFirstParcel(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountTypeFixedAmount, DiscountValue: dec(40000)}
	all, goods := goodsOf([][]models.OrderItem{
		{{Price: dec(1000), Quantity: 1}},
		{{Price: dec(50000), Quantity: 1}},
	})

	b := pricing.GroupFinalAmount(all, []string{"06236", "06236"}, pricing.Options{
		Coupon:          coupon,
		PaymentMethod:   models.PaymentMethodCard,
		BaseShippingFee: dec(3000),
	})
	totals := splitGroupTotals(goods, b)

	assert.True(t, dec(12100).Equal(b.FinalAmount), b.FinalAmount.String())
	assert.True(t, dec(2100).Equal(totals[0]), totals[0].String())
	assert.True(t, dec(50000).Equal(totals[1]))
	assert.True(t, b.FinalAmount.Equal(consolidated(totals, b)))
}
