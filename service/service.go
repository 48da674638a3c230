package service

import (
	"context"
	"time"

	"storefront/model"
	"storefront/payment"
	"storefront/pricing"
	"storefront/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCurrency       = "usd"
	defaultPaymentTimeout = 10 * time.Second
	defaultBusinessPhone  = "1234567890"
)

var tracer = otel.Tracer("storefront/service")

type Options struct {
	Currency       string
	PaymentTimeout time.Duration
	BusinessPhone  string
}

type Service struct {
	store store.Store
	cards payment.CardProcessor
	opts  Options
	log   logrus.FieldLogger

	now   func() time.Time
	newID func() string
}

func NewService(s store.Store, cards payment.CardProcessor, opts Options, log logrus.FieldLogger) *Service {
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = defaultPaymentTimeout
	}
	if opts.BusinessPhone == "" {
		opts.BusinessPhone = defaultBusinessPhone
	}
	if cards == nil {
		cards = payment.Disabled{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store: s,
		cards: cards,
		opts:  opts,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "service."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return models.NewValidationError("ownerId", "required")
	}
	return nil
}

func (s *Service) GetCart(ctx context.Context, ownerID string) (out CartDTO, err error) {
	ctx, span := startSpan(ctx, "GetCart", attribute.String("owner.id", ownerID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return CartDTO{}, err
	}
	c, err := s.store.GetCart(ctx, ownerID)
	if err != nil {
		return CartDTO{}, err
	}
	return cartDTO(c), nil
}

// AddItem snapshots the product's effective price on first add. Adding a
// product already in the cart only raises its quantity; the original price
// stays.
func (s *Service) AddItem(ctx context.Context, ownerID, productID string, qty int) (out CartDTO, err error) {
	ctx, span := startSpan(ctx, "AddItem",
		attribute.String("owner.id", ownerID), attribute.String("product.id", productID), attribute.Int("quantity", qty))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return CartDTO{}, err
	}
	if productID == "" {
		return CartDTO{}, models.NewValidationError("productId", "required")
	}
	if qty <= 0 {
		return CartDTO{}, errors.Wrapf(models.ErrInvalidQuantity, "got %d", qty)
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return CartDTO{}, err
	}

	c, err := s.store.UpdateCart(ctx, ownerID, func(c *models.Cart) error {
		return addLine(c, product, qty)
	})
	if err != nil {
		return CartDTO{}, err
	}
	return cartDTO(c), nil
}

func addLine(c *models.Cart, p models.Product, qty int) error {
	i := c.Find(p.ID)
	want := qty
	if i >= 0 {
		want += c.Items[i].Quantity
	}
	if want > p.Stock {
		return errors.Wrapf(models.ErrInsufficientStock, "%d of %s requested, %d available", want, p.ID, p.Stock)
	}

	if i >= 0 {
		c.Items[i].Quantity = want
	} else {
		c.Items = append(c.Items, models.LineItem{ProductID: p.ID, UnitPrice: p.EffectivePrice(), Quantity: qty})
	}
	pricing.Reprice(c)
	return nil
}

// UpdateQuantity replaces the quantity of a line. A quantity of zero or less
// removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, ownerID, productID string, qty int) (out CartDTO, err error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, ownerID, productID)
	}

	ctx, span := startSpan(ctx, "UpdateQuantity",
		attribute.String("owner.id", ownerID), attribute.String("product.id", productID), attribute.Int("quantity", qty))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return CartDTO{}, err
	}

	available := -1
	product, err := s.store.GetProduct(ctx, productID)
	switch {
	case err == nil:
		available = product.Stock
	case !errors.Is(err, models.ErrProductNotFound):
		return CartDTO{}, err
	}

	c, err := s.store.UpdateCart(ctx, ownerID, func(c *models.Cart) error {
		i := c.Find(productID)
		if i < 0 {
			return errors.Wrapf(models.ErrItemNotFound, "product %s", productID)
		}
		if available >= 0 && qty > c.Items[i].Quantity && qty > available {
			return errors.Wrapf(models.ErrInsufficientStock, "%d of %s requested, %d available", qty, productID, available)
		}
		c.Items[i].Quantity = qty
		pricing.Reprice(c)
		return nil
	})
	if err != nil {
		return CartDTO{}, err
	}
	return cartDTO(c), nil
}

// RemoveItem is a no-op for a product that is not in the cart.
func (s *Service) RemoveItem(ctx context.Context, ownerID, productID string) (out CartDTO, err error) {
	ctx, span := startSpan(ctx, "RemoveItem",
		attribute.String("owner.id", ownerID), attribute.String("product.id", productID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return CartDTO{}, err
	}
	c, err := s.store.UpdateCart(ctx, ownerID, func(c *models.Cart) error {
		if i := c.Find(productID); i >= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
		pricing.Reprice(c)
		return nil
	})
	if err != nil {
		return CartDTO{}, err
	}
	return cartDTO(c), nil
}

// ClearCart empties the cart. Clearing an empty cart succeeds.
func (s *Service) ClearCart(ctx context.Context, ownerID string) (out CartDTO, err error) {
	ctx, span := startSpan(ctx, "ClearCart", attribute.String("owner.id", ownerID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return CartDTO{}, err
	}
	if err := s.store.ClearCart(ctx, ownerID); err != nil {
		return CartDTO{}, err
	}
	return cartDTO(models.Cart{OwnerID: ownerID}), nil
}

// CreateOrder turns the owner's cart into a pending order and empties the
// cart. Retrying after a success fails with ErrEmptyCart.
func (s *Service) CreateOrder(ctx context.Context, ownerID string, in CreateOrderInput) (out OrderDTO, err error) {
	ctx, span := startSpan(ctx, "CreateOrder", attribute.String("owner.id", ownerID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return OrderDTO{}, err
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return OrderDTO{}, err
	}
	method, err := models.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return OrderDTO{}, err
	}

	id, now := s.newID(), s.now()
	order, err := s.store.CheckoutCart(ctx, ownerID, func(c models.Cart) (models.Order, error) {
		if c.IsEmpty() {
			return models.Order{}, models.ErrEmptyCart
		}
		items := make([]models.LineItem, len(c.Items))
		copy(items, c.Items)
		return models.Order{
			ID:              id,
			OwnerID:         ownerID,
			Items:           items,
			Subtotal:        c.Subtotal,
			Tax:             c.Tax,
			ShippingCost:    pricing.ShippingCost,
			Total:           pricing.OrderTotal(c.Subtotal, c.Tax, pricing.ShippingCost),
			Status:          models.OrderPending,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   method,
			PaymentStatus:   models.PaymentPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, nil
	})
	if err != nil {
		return OrderDTO{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"owner_id": ownerID,
		"total":    money(order.Total),
		"method":   order.PaymentMethod,
	}).Info("order created")
	return orderDTO(order), nil
}

// GetOrder hides orders of other owners behind ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, ownerID, orderID string) (out OrderDTO, err error) {
	ctx, span := startSpan(ctx, "GetOrder", attribute.String("owner.id", ownerID), attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return OrderDTO{}, err
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDTO{}, err
	}
	if o.OwnerID != ownerID {
		return OrderDTO{}, errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
	}
	return orderDTO(o), nil
}

func (s *Service) ListOrders(ctx context.Context, ownerID string) (out []OrderDTO, err error) {
	ctx, span := startSpan(ctx, "ListOrders", attribute.String("owner.id", ownerID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	orders, err := s.store.ListOrders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out = make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderDTO(o))
	}
	return out, nil
}

func (s *Service) CancelOrder(ctx context.Context, ownerID, orderID string) (out OrderDTO, err error) {
	ctx, span := startSpan(ctx, "CancelOrder", attribute.String("owner.id", ownerID), attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if err := requireOwner(ownerID); err != nil {
		return OrderDTO{}, err
	}
	o, err := s.store.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		if o.OwnerID != ownerID {
			return errors.Wrapf(models.ErrOrderNotFound, "order %s", orderID)
		}
		return o.Cancel(s.now())
	})
	if err != nil {
		return OrderDTO{}, err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "owner_id": ownerID}).Info("order cancelled")
	return orderDTO(o), nil
}

// UpdateOrderStatus is the administrative fulfilment step.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, status, trackingNumber string) (out OrderDTO, err error) {
	ctx, span := startSpan(ctx, "UpdateOrderStatus", attribute.String("order.id", orderID), attribute.String("status", status))
	defer func() { endSpan(span, err) }()

	to := models.OrderStatus(status)
	switch to {
	case models.OrderProcessing, models.OrderShipped, models.OrderDelivered:
	default:
		return OrderDTO{}, models.NewValidationError("status", "must be processing, shipped or delivered")
	}

	o, err := s.store.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		return o.Advance(to, trackingNumber, s.now())
	})
	if err != nil {
		return OrderDTO{}, err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "status": status}).Info("order status updated")
	return orderDTO(o), nil
}
