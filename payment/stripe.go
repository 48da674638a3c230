package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProcessor is a CardProcessor backed by Stripe payment intents.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor builds a client whose HTTP calls are bounded by timeout.
func NewStripeProcessor(secretKey string, timeout time.Duration) *StripeProcessor {
	httpClient := &http.Client{Timeout: timeout}
	return newStripeProcessor(secretKey, stripe.NewBackends(httpClient))
}

func newStripeProcessor(secretKey string, backends *stripe.Backends) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, backends)}
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, orderID string, amountCents int64, currency string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, orderID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, errors.Wrapf(err, "stripe: create intent for order %s", orderID)
	}
	return fromStripe(pi), nil
}

func (p *StripeProcessor) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return Intent{}, errors.Wrapf(err, "stripe: retrieve intent %s", intentID)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		OrderID:      pi.Metadata[MetadataOrderID],
	}
}
