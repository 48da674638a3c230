package store

import (
	"context"

	"storefront/model"

	"github.com/shopspring/decimal"
)

// ProductFilter narrows ListProducts. Page is 1-based.
type ProductFilter struct {
	Category string
	Search   string
	MinPrice decimal.NullDecimal
	MaxPrice decimal.NullDecimal
	Page     int
	Limit    int
}

func (f ProductFilter) offset() int { return (f.Page - 1) * f.Limit }

type CatalogStore interface {
	CreateProduct(ctx context.Context, p models.Product) error
	UpdateProduct(ctx context.Context, p models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	GetProduct(ctx context.Context, id string) (models.Product, error)
	// ListProducts returns one page, newest first, and the total match count.
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int, error)
	UpdateStock(ctx context.Context, productID string, newStock int) error

	CreateCategory(ctx context.Context, c models.Category) error
	UpdateCategory(ctx context.Context, c models.Category) error
	DeleteCategory(ctx context.Context, id string) error
	GetCategory(ctx context.Context, id string) (models.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error)
}

// CartStore serializes all access to one owner's cart. UpdateCart hands the
// current cart to mutate and persists whatever mutate leaves behind; when
// mutate returns an error nothing is written.
type CartStore interface {
	GetCart(ctx context.Context, ownerID string) (models.Cart, error)
	UpdateCart(ctx context.Context, ownerID string, mutate func(*models.Cart) error) (models.Cart, error)
	ClearCart(ctx context.Context, ownerID string) error
}

// OrderStore persists orders. CheckoutCart runs build against the owner's
// cart and, when build succeeds, stores the order and then clears the cart
// as one unit under the owner's lock.
type OrderStore interface {
	CheckoutCart(ctx context.Context, ownerID string, build func(models.Cart) (models.Order, error)) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListOrders(ctx context.Context, ownerID string) ([]models.Order, error)
	// UpdateOrder persists only the mutable order fields.
	UpdateOrder(ctx context.Context, id string, mutate func(*models.Order) error) (models.Order, error)
}

type Store interface {
	CatalogStore
	CartStore
	OrderStore

	Close() error
}
