// Package pricing computes order totals. Everything here is pure: no I/O,
// decimal arithmetic only, amounts rounded to currency precision.
package pricing

import (
	"slices"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes Value percent off the eligible subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes Value off the eligible subtotal, capped at it.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercent || t == DiscountFixed
}

var hundred = decimal.NewFromInt(100)

// Line is a priced cart or order line. UnitPrice must be the live product price.
type Line struct {
	ProductID  int64
	CategoryID int64
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Amount returns UnitPrice * Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Discount describes an applied coupon. Empty eligibility sets mean every
// line is eligible.
type Discount struct {
	Type                DiscountType
	Value               decimal.Decimal
	EligibleProductIDs  []int64
	EligibleCategoryIDs []int64
}

// Restricted reports whether the discount only applies to some lines.
func (d *Discount) Restricted() bool {
	return len(d.EligibleProductIDs) > 0 || len(d.EligibleCategoryIDs) > 0
}

// Eligible reports whether the line takes part in the discount.
func (d *Discount) Eligible(l Line) bool {
	if !d.Restricted() {
		return true
	}
	return slices.Contains(d.EligibleProductIDs, l.ProductID) ||
		(l.CategoryID != 0 && slices.Contains(d.EligibleCategoryIDs, l.CategoryID))
}

// Params are the non-line inputs of a calculation.
type Params struct {
	Coupon      *Discount
	CountryCode string
}

// Totals is the monetary breakdown of an order.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Calculator computes Totals using a rate policy for tax and shipping.
type Calculator struct {
	rates RatePolicy
}

// NewCalculator returns a Calculator. A nil policy charges no tax or shipping.
func NewCalculator(rates RatePolicy) *Calculator {
	if rates == nil {
		rates = NoCharges{}
	}
	return &Calculator{rates: rates}
}

// Calculate returns the totals for lines. The result is deterministic and
// satisfies 0 <= Discount <= Subtotal and Total >= 0.
func (c *Calculator) Calculate(lines []Line, p Params) Totals {
	subtotal := Subtotal(lines).Round(2)
	discount := DiscountAmount(lines, p.Coupon)

	charges := c.rates.Charges(p.CountryCode, subtotal.Sub(discount))
	tax := floorAtZero(charges.Tax).Round(2)
	shipping := floorAtZero(charges.Shipping).Round(2)

	total := floorAtZero(subtotal.Sub(discount).Add(tax).Add(shipping)).Round(2)
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}

// Subtotal returns the sum of line amounts.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// EligibleSubtotal returns the sum of amounts of lines the discount applies to.
func EligibleSubtotal(lines []Line, d *Discount) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if d.Eligible(l) {
			sum = sum.Add(l.Amount())
		}
	}
	return sum
}

// DiscountAmount returns the rounded discount for lines, never exceeding the
// eligible subtotal. A nil discount yields zero.
func DiscountAmount(lines []Line, d *Discount) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	eligible := EligibleSubtotal(lines, d).Round(2)

	var amount decimal.Decimal
	switch d.Type {
	case DiscountPercent:
		amount = eligible.Mul(d.Value).Div(hundred).Round(2)
	case DiscountFixed:
		amount = decimal.Min(d.Value, eligible).Round(2)
	default:
		return decimal.Zero
	}
	return decimal.Min(floorAtZero(amount), eligible)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
