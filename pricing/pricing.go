// Package pricing computes cart and order amounts. All arithmetic is done in
// decimal; only tax is rounded, to the cent, half-up.
package pricing

import (
	"storefront/model"

	"github.com/shopspring/decimal"
)

var (
	TaxRate      = decimal.RequireFromString("0.10")
	ShippingCost = decimal.NewFromInt(10)
)

const centPlaces = 2

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Price returns subtotal, tax and total for items. Callers validate
// quantities and prices before items get here.
func Price(items []models.LineItem) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	// Round is half away from zero, which is half-up for non-negative amounts.
	tax := subtotal.Mul(TaxRate).Round(centPlaces)
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal.Add(tax)}
}

// Reprice recomputes the totals of c from its items.
func Reprice(c *models.Cart) {
	t := Price(c.Items)
	c.Subtotal, c.Tax, c.Total = t.Subtotal, t.Tax, t.Total
}

// OrderTotal adds the shipping charge to a priced cart.
func OrderTotal(subtotal, tax, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(shipping)
}

// ToCents converts an amount to integer minor units, rounding half-up.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(centPlaces).Round(0).IntPart()
}
