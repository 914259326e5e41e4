// Package pricing computes what a customer owes. Nothing here returns an
// error: malformed input degrades to zero so the functions stay safe to call
// while rendering.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/models"
)

var (
	DefaultFreeShippingThreshold = decimal.NewFromInt(30000)

	vatRate = decimal.New(1, -1)
	hundred = decimal.NewFromInt(100)
)

// Breakdown is the single source of truth for an order's payable amount.
// Consumers must read these fields instead of re-deriving partial sums.
type Breakdown struct {
	ItemsTotal     decimal.Decimal `json:"items_total"`
	Discount       decimal.Decimal `json:"discount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	Surcharge      decimal.Decimal `json:"surcharge"`
	IsFreeShipping bool            `json:"is_free_shipping"`
	IsRemote       bool            `json:"is_remote"`
	RegionLabel    string          `json:"region_label"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	VAT            decimal.Decimal `json:"vat"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

type Options struct {
	PostalCode            string
	Coupon                *models.Coupon
	PaymentMethod         models.PaymentMethod
	BaseShippingFee       decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// ItemsTotal sums price x quantity. Lines with a non-positive quantity or a
// negative price contribute nothing.
func ItemsTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 || item.Price.IsNegative() {
			continue
		}
		total = total.Add(item.Total())
	}
	return total
}

// Discount applies coupon to itemsTotal. The result is never negative and
// never exceeds itemsTotal.
func Discount(itemsTotal decimal.Decimal, coupon *models.Coupon) decimal.Decimal {
	if coupon == nil || !itemsTotal.IsPositive() || !coupon.DiscountValue.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountTypePercentage:
		discount = itemsTotal.Mul(coupon.DiscountValue).Div(hundred).Floor()
		if coupon.MaxDiscount != nil && !coupon.MaxDiscount.IsNegative() {
			discount = decimal.Min(discount, *coupon.MaxDiscount)
		}
	case models.DiscountTypeFixedAmount:
		discount = coupon.DiscountValue
	default:
		return decimal.Zero
	}

	return decimal.Min(discount, itemsTotal)
}

// IsFreeShipping reports whether itemsTotal reaches threshold. A
// non-positive threshold falls back to DefaultFreeShippingThreshold.
func IsFreeShipping(itemsTotal, threshold decimal.Decimal) bool {
	if !threshold.IsPositive() {
		threshold = DefaultFreeShippingThreshold
	}
	return itemsTotal.GreaterThanOrEqual(threshold)
}

// VAT is charged on card payments only.
func VAT(subtotal decimal.Decimal, method models.PaymentMethod) decimal.Decimal {
	if method != models.PaymentMethodCard || !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(vatRate).Floor()
}

// FinalAmount composes items total, coupon discount, shipping fee and VAT.
// The coupon discount applies to items only, never to shipping.
func FinalAmount(items []models.OrderItem, opts Options) Breakdown {
	itemsTotal := ItemsTotal(items)
	discount := Discount(itemsTotal, opts.Coupon)

	baseFee := opts.BaseShippingFee
	if IsFreeShipping(itemsTotal, opts.FreeShippingThreshold) {
		baseFee = decimal.Zero
	}
	fee := ResolveShippingFee(baseFee, opts.PostalCode)

	b := Compose(itemsTotal, discount, fee.TotalFee, opts.PaymentMethod)
	b.Surcharge = fee.Surcharge
	b.IsFreeShipping = fee.BaseFee.IsZero()
	b.IsRemote = fee.IsRemote
	b.RegionLabel = fee.RegionLabel
	return b
}

// GroupFinalAmount prices parcels paid together. The group is charged one
// base fee, zero when the combined items reach the free-shipping threshold,
// and each parcel adds the remote surcharge of its own postal code.
func GroupFinalAmount(items []models.OrderItem, postalCodes []string, opts Options) Breakdown {
	itemsTotal := ItemsTotal(items)
	discount := Discount(itemsTotal, opts.Coupon)

	baseFee := opts.BaseShippingFee
	if baseFee.IsNegative() || IsFreeShipping(itemsTotal, opts.FreeShippingThreshold) {
		baseFee = decimal.Zero
	}

	surcharge := decimal.Zero
	label := RegionNormal
	remote := false
	for _, code := range postalCodes {
		fee := ResolveShippingFee(baseFee, code)
		surcharge = surcharge.Add(fee.Surcharge)
		if fee.IsRemote && !remote {
			remote = true
			label = fee.RegionLabel
		}
	}

	b := Compose(itemsTotal, discount, baseFee.Add(surcharge), opts.PaymentMethod)
	b.Surcharge = surcharge
	b.IsFreeShipping = baseFee.IsZero()
	b.IsRemote = remote
	b.RegionLabel = label
	return b
}

// Compose builds a breakdown from already-settled parts, such as the
// discount and shipping fee persisted on an order.
func Compose(itemsTotal, discount, shippingFee decimal.Decimal, method models.PaymentMethod) Breakdown {
	if itemsTotal.IsNegative() {
		itemsTotal = decimal.Zero
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = decimal.Min(discount, itemsTotal)
	if shippingFee.IsNegative() {
		shippingFee = decimal.Zero
	}

	subtotal := itemsTotal.Sub(discount).Add(shippingFee)
	vat := VAT(subtotal, method)

	return Breakdown{
		ItemsTotal:     itemsTotal,
		Discount:       discount,
		ShippingFee:    shippingFee,
		Surcharge:      decimal.Zero,
		IsFreeShipping: shippingFee.IsZero(),
		RegionLabel:    RegionNormal,
		Subtotal:       subtotal,
		VAT:            vat,
		FinalAmount:    subtotal.Add(vat),
	}
}

// Calculator binds FinalAmount to the store-wide shipping settings.
type Calculator struct {
	baseShippingFee       decimal.Decimal
	freeShippingThreshold decimal.Decimal
}

func NewCalculator(cfg config.PricingConfig) *Calculator {
	return &Calculator{
		baseShippingFee:       decimal.NewFromInt(cfg.BaseShippingFee),
		freeShippingThreshold: decimal.NewFromInt(cfg.FreeShippingThreshold),
	}
}

func (c *Calculator) Options(postalCode string, coupon *models.Coupon, method models.PaymentMethod) Options {
	return Options{
		PostalCode:            postalCode,
		Coupon:                coupon,
		PaymentMethod:         method,
		BaseShippingFee:       c.baseShippingFee,
		FreeShippingThreshold: c.freeShippingThreshold,
	}
}

func (c *Calculator) Quote(items []models.OrderItem, postalCode string, coupon *models.Coupon, method models.PaymentMethod) Breakdown {
	return FinalAmount(items, c.Options(postalCode, coupon, method))
}

// QuoteGroup prices a bulk payment whose parcels ship to postalCodes.
func (c *Calculator) QuoteGroup(items []models.OrderItem, postalCodes []string, coupon *models.Coupon, method models.PaymentMethod) Breakdown {
	return GroupFinalAmount(items, postalCodes, c.Options("", coupon, method))
}
