package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentManual PaymentMethod = "manual"
)

// ParsePaymentMethod accepts the storefront's legacy names ("stripe", "whatsapp") too.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch s {
	case "card", "stripe":
		return PaymentCard, nil
	case "manual", "whatsapp":
		return PaymentManual, nil
	}
	return "", NewValidationError("paymentMethod", "must be card or manual")
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

func (a Address) Validate() error {
	switch {
	case a.Street == "":
		return NewValidationError("shippingAddress.street", "required")
	case a.City == "":
		return NewValidationError("shippingAddress.city", "required")
	case a.Zip == "":
		return NewValidationError("shippingAddress.zip", "required")
	case a.Country == "":
		return NewValidationError("shippingAddress.country", "required")
	}
	return nil
}

// Order is created from a cart snapshot. Items and amounts are fixed at
// creation; only the status fields, payment intent, tracking number and
// UpdatedAt change afterwards.
type Order struct {
	ID              string
	OwnerID         string
	Items           []LineItem
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	ShippingCost    decimal.Decimal
	Total           decimal.Decimal
	Status          OrderStatus
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var nextStatus = map[OrderStatus]OrderStatus{
	OrderPending:    OrderProcessing,
	OrderProcessing: OrderShipped,
	OrderShipped:    OrderDelivered,
}

// CompletePayment moves a pending payment to completed and starts processing.
func (o *Order) CompletePayment(now time.Time) error {
	if o.PaymentStatus != PaymentPending {
		return errors.Wrapf(ErrPaymentNotPending, "order %s payment is %s", o.ID, o.PaymentStatus)
	}
	o.PaymentStatus = PaymentCompleted
	if o.Status == OrderPending {
		o.Status = OrderProcessing
	}
	o.UpdatedAt = now
	return nil
}

// Cancel is allowed only before payment completes and fulfilment starts.
func (o *Order) Cancel(now time.Time) error {
	if o.Status != OrderPending || o.PaymentStatus != PaymentPending {
		return errors.Wrapf(ErrInvalidTransition, "cannot cancel order %s in %s/%s", o.ID, o.Status, o.PaymentStatus)
	}
	o.Status = OrderCancelled
	o.PaymentStatus = PaymentFailed
	o.UpdatedAt = now
	return nil
}

// Advance moves the fulfilment status one step forward.
func (o *Order) Advance(to OrderStatus, trackingNumber string, now time.Time) error {
	if nextStatus[o.Status] != to {
		return errors.Wrapf(ErrInvalidTransition, "order %s: %s -> %s", o.ID, o.Status, to)
	}
	if to == OrderProcessing && o.PaymentStatus != PaymentCompleted && o.PaymentMethod == PaymentCard {
		return errors.Wrapf(ErrInvalidTransition, "order %s: card payment not completed", o.ID)
	}
	o.Status = to
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.UpdatedAt = now
	return nil
}
