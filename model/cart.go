package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one product entry of a cart or an order. UnitPrice is the
// price captured when the product was first added.
type LineItem struct {
	ProductID string          `db:"product_id"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	Quantity  int             `db:"quantity"`
}

type Cart struct {
	OwnerID   string
	Items     []LineItem
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	UpdatedAt time.Time
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Find returns the index of productID in Items or -1.
func (c *Cart) Find(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// Snapshot returns a copy that shares no slice memory with c.
func (c Cart) Snapshot() Cart {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c
}
