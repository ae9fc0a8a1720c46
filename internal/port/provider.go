package port

import (
	"context"

	"github.com/seventeenk/storefront/internal/core/domain"
)

type Mailer interface {
	Send(ctx context.Context, email domain.Email) error
}

type CheckoutRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Email       string
	Description string
	Metadata    domain.PaymentMetadata
}

type CheckoutSession struct {
	ID         string
	PaymentURL string
}

type PaymentGateway interface {
	// InitiateCheckout opens a hosted checkout and returns where to send the buyer
	InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type WebhookVerifier interface {
	// VerifyWebhook checks the signature header against the raw request body
	VerifyWebhook(signature string, body []byte) error
}
