package service

import (
	"context"

	"storefront/model"
	"storefront/payment"
	"storefront/pricing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// chargeAmount resolves the amount a caller asked to collect. Zero means the
// order total; anything else must match it exactly.
func chargeAmount(o models.Order, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return o.Total, nil
	}
	if !amount.Equal(o.Total) {
		return decimal.Zero, models.NewValidationError("amount", "must equal order total "+money(o.Total))
	}
	return amount, nil
}

func providerError(err error) error {
	return errors.Wrap(models.ErrPaymentProvider, err.Error())
}

func (s *Service) InitiateCardPayment(ctx context.Context, orderID string, amount decimal.Decimal) (out CardIntentDTO, err error) {
	ctx, span := startSpan(ctx, "InitiateCardPayment", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return CardIntentDTO{}, err
	}
	if o.PaymentMethod != models.PaymentCard {
		return CardIntentDTO{}, models.NewValidationError("orderId", "order is not paid by card")
	}
	if o.PaymentStatus != models.PaymentPending {
		return CardIntentDTO{}, errors.Wrapf(models.ErrPaymentNotPending, "order %s payment is %s", o.ID, o.PaymentStatus)
	}
	amount, err = chargeAmount(o, amount)
	if err != nil {
		return CardIntentDTO{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	intent, err := s.cards.CreateIntent(pctx, o.ID, pricing.ToCents(amount), s.opts.Currency)
	cancel()
	if err != nil {
		s.log.WithError(err).WithField("order_id", o.ID).Warn("create payment intent failed")
		return CardIntentDTO{}, providerError(err)
	}

	if _, err := s.store.UpdateOrder(ctx, o.ID, func(o *models.Order) error {
		o.PaymentIntentID = intent.ID
		return nil
	}); err != nil {
		return CardIntentDTO{}, err
	}

	s.log.WithFields(logrus.Fields{"order_id": o.ID, "intent_id": intent.ID, "amount": money(amount)}).Info("payment intent created")
	return CardIntentDTO{ClientSecret: intent.ClientSecret, IntentID: intent.ID}, nil
}

// ConfirmCardPayment completes the order's payment once the processor reports
// the intent as succeeded. Any other intent status leaves the order as it was.
func (s *Service) ConfirmCardPayment(ctx context.Context, intentID, orderID string) (out OrderDTO, err error) {
	ctx, span := startSpan(ctx, "ConfirmCardPayment", attribute.String("order.id", orderID), attribute.String("intent.id", intentID))
	defer func() { endSpan(span, err) }()

	if intentID == "" {
		return OrderDTO{}, models.NewValidationError("intentId", "required")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDTO{}, err
	}
	if o.PaymentStatus == models.PaymentCompleted {
		return orderDTO(o), nil
	}
	if o.PaymentStatus != models.PaymentPending {
		return OrderDTO{}, errors.Wrapf(models.ErrPaymentNotPending, "order %s payment is %s", o.ID, o.PaymentStatus)
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	intent, err := s.cards.GetIntent(pctx, intentID)
	cancel()
	if err != nil {
		s.log.WithError(err).WithField("intent_id", intentID).Warn("retrieve payment intent failed")
		return OrderDTO{}, providerError(err)
	}
	if intent.OrderID != "" && intent.OrderID != orderID {
		return OrderDTO{}, models.NewValidationError("intentId", "intent belongs to another order")
	}
	if intent.Status != payment.StatusSucceeded {
		return OrderDTO{}, errors.Wrapf(models.ErrPaymentNotCompleted, "intent %s is %s", intentID, intent.Status)
	}

	o, err = s.store.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		if o.PaymentStatus == models.PaymentCompleted {
			return nil
		}
		o.PaymentIntentID = intentID
		return o.CompletePayment(s.now())
	})
	if err != nil {
		return OrderDTO{}, err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "intent_id": intentID}).Info("card payment completed")
	return orderDTO(o), nil
}

// InitiateManualPayment returns the contact link for paying outside the card
// processor. The order stays pending until an administrator confirms it.
func (s *Service) InitiateManualPayment(ctx context.Context, orderID, contactAddress string, amount decimal.Decimal) (out ManualPaymentDTO, err error) {
	ctx, span := startSpan(ctx, "InitiateManualPayment", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if contactAddress == "" {
		return ManualPaymentDTO{}, models.NewValidationError("contactAddress", "required")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return ManualPaymentDTO{}, err
	}
	if o.PaymentStatus != models.PaymentPending {
		return ManualPaymentDTO{}, errors.Wrapf(models.ErrPaymentNotPending, "order %s payment is %s", o.ID, o.PaymentStatus)
	}
	amount, err = chargeAmount(o, amount)
	if err != nil {
		return ManualPaymentDTO{}, err
	}

	link := payment.ContactLink(s.opts.BusinessPhone, o.ID, amount)
	s.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"contact":  contactAddress,
		"amount":   money(amount),
	}).Info("manual payment requested")
	return ManualPaymentDTO{ContactLink: link}, nil
}
