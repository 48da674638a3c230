// Package payment holds the collaborators that move money: a card processor
// reached through payment intents and the manual-contact link builder.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	StatusSucceeded      = "succeeded"
	StatusRequiresAction = "requires_action"

	// MetadataOrderID is the intent metadata key carrying the order id.
	MetadataOrderID = "orderId"
)

// Intent is the processor-side view of a card payment.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	OrderID      string
}

// CardProcessor creates and inspects payment intents. Amounts are in the
// currency's minor unit.
type CardProcessor interface {
	CreateIntent(ctx context.Context, orderID string, amountCents int64, currency string) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
}

var ErrCardPaymentsDisabled = errors.New("card payments are not configured")

// Disabled is the CardProcessor used when no processor key is configured.
type Disabled struct{}

func (Disabled) CreateIntent(context.Context, string, int64, string) (Intent, error) {
	return Intent{}, ErrCardPaymentsDisabled
}

func (Disabled) GetIntent(context.Context, string) (Intent, error) {
	return Intent{}, ErrCardPaymentsDisabled
}

// ContactLink builds the pre-filled chat link a customer opens to arrange a
// manual payment with the business.
func ContactLink(businessPhone, orderID string, amount decimal.Decimal) string {
	msg := fmt.Sprintf("Hi, I'd like to pay for order %s. Total amount: $%s. Please confirm payment details.",
		orderID, amount.StringFixed(2))
	return "https://wa.me/" + digitsOnly(businessPhone) + "?text=" + componentEscape(msg)
}

// QueryEscape also escapes !'()* and turns spaces into '+'; browsers' URI
// component encoding leaves those marks alone and uses %20.
var componentUnescaper = strings.NewReplacer(
	"+", "%20", "%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*",
)

func componentEscape(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
