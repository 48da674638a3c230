package service

import (
	"time"

	"storefront/model"

	"github.com/shopspring/decimal"
)

// money renders amounts with exactly two decimals.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type LineItemDTO struct {
	ProductID string `json:"productId"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type CartDTO struct {
	OwnerID   string        `json:"ownerId"`
	Items     []LineItemDTO `json:"items"`
	Subtotal  string        `json:"subtotal"`
	Tax       string        `json:"tax"`
	Total     string        `json:"total"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
}

type OrderDTO struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"ownerId"`
	Items           []LineItemDTO  `json:"items"`
	Subtotal        string         `json:"subtotal"`
	Tax             string         `json:"tax"`
	ShippingCost    string         `json:"shippingCost"`
	Total           string         `json:"total"`
	Status          string         `json:"status"`
	ShippingAddress models.Address `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	PaymentStatus   string         `json:"paymentStatus"`
	PaymentIntentID string         `json:"paymentIntentId,omitempty"`
	TrackingNumber  string         `json:"trackingNumber,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type CardIntentDTO struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"intentId"`
}

type ManualPaymentDTO struct {
	ContactLink string `json:"contactLink"`
}

type ProductDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         string    `json:"price"`
	DiscountPrice *string   `json:"discountPrice,omitempty"`
	Stock         int       `json:"stock"`
	Category      string    `json:"category"`
	Images        []string  `json:"images"`
	Rating        string    `json:"rating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type ProductPage struct {
	Products   []ProductDTO `json:"products"`
	Pagination Pagination   `json:"pagination"`
}

type CategoryDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// --- inputs ---

type CreateOrderInput struct {
	ShippingAddress models.Address
	PaymentMethod   string
}

type ProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	DiscountPrice decimal.NullDecimal
	Stock         int
	Category      string
	Images        []string
}

type ProductQuery struct {
	Category string
	Search   string
	MinPrice decimal.NullDecimal
	MaxPrice decimal.NullDecimal
	Page     int
	Limit    int
}

type CategoryInput struct {
	Name        string
	Slug        string
	Description string
	Active      *bool
}

// --- mapping ---

func lineItemsDTO(items []models.LineItem) []LineItemDTO {
	out := make([]LineItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, LineItemDTO{
			ProductID: it.ProductID,
			UnitPrice: money(it.UnitPrice),
			Quantity:  it.Quantity,
			LineTotal: money(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))),
		})
	}
	return out
}

func cartDTO(c models.Cart) CartDTO {
	dto := CartDTO{
		OwnerID:  c.OwnerID,
		Items:    lineItemsDTO(c.Items),
		Subtotal: money(c.Subtotal),
		Tax:      money(c.Tax),
		Total:    money(c.Total),
	}
	if !c.UpdatedAt.IsZero() {
		ts := c.UpdatedAt
		dto.UpdatedAt = &ts
	}
	return dto
}

func orderDTO(o models.Order) OrderDTO {
	return OrderDTO{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Items:           lineItemsDTO(o.Items),
		Subtotal:        money(o.Subtotal),
		Tax:             money(o.Tax),
		ShippingCost:    money(o.ShippingCost),
		Total:           money(o.Total),
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentIntentID: o.PaymentIntentID,
		TrackingNumber:  o.TrackingNumber,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func productDTO(p models.Product) ProductDTO {
	dto := ProductDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money(p.Price),
		Stock:       p.Stock,
		Category:    p.Category,
		Images:      p.Images,
		Rating:      p.Rating.StringFixed(1),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if dto.Images == nil {
		dto.Images = []string{}
	}
	if p.DiscountPrice.Valid {
		s := money(p.DiscountPrice.Decimal)
		dto.DiscountPrice = &s
	}
	return dto
}

func categoryDTO(c models.Category) CategoryDTO {
	return CategoryDTO(c)
}
