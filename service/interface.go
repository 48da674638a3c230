package service

import (
	"context"

	"github.com/shopspring/decimal"
)

type ServiceInterface interface {
	// cart
	GetCart(ctx context.Context, ownerID string) (CartDTO, error)
	AddItem(ctx context.Context, ownerID, productID string, qty int) (CartDTO, error)
	UpdateQuantity(ctx context.Context, ownerID, productID string, qty int) (CartDTO, error)
	RemoveItem(ctx context.Context, ownerID, productID string) (CartDTO, error)
	ClearCart(ctx context.Context, ownerID string) (CartDTO, error)

	// orders
	CreateOrder(ctx context.Context, ownerID string, in CreateOrderInput) (OrderDTO, error)
	GetOrder(ctx context.Context, ownerID, orderID string) (OrderDTO, error)
	ListOrders(ctx context.Context, ownerID string) ([]OrderDTO, error)
	CancelOrder(ctx context.Context, ownerID, orderID string) (OrderDTO, error)
	UpdateOrderStatus(ctx context.Context, orderID, status, trackingNumber string) (OrderDTO, error)

	// payments
	InitiateCardPayment(ctx context.Context, orderID string, amount decimal.Decimal) (CardIntentDTO, error)
	ConfirmCardPayment(ctx context.Context, intentID, orderID string) (OrderDTO, error)
	InitiateManualPayment(ctx context.Context, orderID, contactAddress string, amount decimal.Decimal) (ManualPaymentDTO, error)

	// catalog
	CreateProduct(ctx context.Context, in ProductInput) (ProductDTO, error)
	UpdateProduct(ctx context.Context, id string, in ProductInput) (ProductDTO, error)
	DeleteProduct(ctx context.Context, id string) error
	GetProduct(ctx context.Context, id string) (ProductDTO, error)
	ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error)
	UpdateStock(ctx context.Context, productID string, newStock int) error

	CreateCategory(ctx context.Context, in CategoryInput) (CategoryDTO, error)
	UpdateCategory(ctx context.Context, id string, in CategoryInput) (CategoryDTO, error)
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context, includeInactive bool) ([]CategoryDTO, error)
}
