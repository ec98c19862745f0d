package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Charges are the tax and shipping amounts for an order.
type Charges struct {
	Tax      decimal.Decimal
	Shipping decimal.Decimal
}

// RatePolicy looks up tax and shipping for a destination. Implementations
// must be pure so the calculator stays deterministic.
type RatePolicy interface {
	Charges(countryCode string, taxable decimal.Decimal) Charges
}

// NoCharges is a RatePolicy that never charges tax or shipping.
type NoCharges struct{}

// Charges implements RatePolicy.
func (NoCharges) Charges(string, decimal.Decimal) Charges {
	return Charges{Tax: decimal.Zero, Shipping: decimal.Zero}
}

// Rate is the policy for a single destination.
type Rate struct {
	// TaxPercent is applied to the discounted subtotal.
	TaxPercent decimal.Decimal
	// Shipping is a flat fee per order.
	Shipping decimal.Decimal
	// FreeShippingOver waives shipping when the discounted subtotal reaches
	// it. Zero disables free shipping.
	FreeShippingOver decimal.Decimal
}

// TablePolicy is a RatePolicy keyed by ISO 3166-1 alpha-2 country code with a
// fallback for unknown destinations.
type TablePolicy struct {
	Default   Rate
	ByCountry map[string]Rate
}

// Charges implements RatePolicy.
func (p TablePolicy) Charges(countryCode string, taxable decimal.Decimal) Charges {
	rate, ok := p.ByCountry[strings.ToUpper(countryCode)]
	if !ok {
		rate = p.Default
	}
	taxable = floorAtZero(taxable)

	shipping := rate.Shipping
	if rate.FreeShippingOver.IsPositive() && taxable.GreaterThanOrEqual(rate.FreeShippingOver) {
		shipping = decimal.Zero
	}
	return Charges{
		Tax:      taxable.Mul(rate.TaxPercent).Div(hundred).Round(2),
		Shipping: shipping.Round(2),
	}
}
