// Package payment talks to the Grey hosted checkout API and verifies its
// webhook signatures.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seventeenk/storefront/internal/port"
)

const DefaultTimeout = 15 * time.Second

type Config struct {
	BaseURL   string
	SecretKey string
	// CallbackURL is where the provider posts webhooks.
	CallbackURL string
	// RedirectURL is where the buyer lands after checkout.
	RedirectURL string
	Timeout     time.Duration
}

type GreyGateway struct {
	cfg    Config
	client *http.Client
}

type checkoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	Reference   string            `json:"reference"`
	Description string            `json:"description,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		PaymentURL string `json:"payment_url"`
	} `json:"data"`
	Message string `json:"message"`
}

func NewGreyGateway(cfg Config) (*GreyGateway, error) {
	if cfg.BaseURL == "" || cfg.SecretKey == "" {
		return nil, errors.New("payment: base url and secret key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GreyGateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (g *GreyGateway) InitiateCheckout(ctx context.Context, in port.CheckoutRequest) (*port.CheckoutSession, error) {
	body, err := json.Marshal(checkoutRequest{
		Amount:      in.Amount,
		Currency:    in.Currency,
		Email:       in.Email,
		Reference:   in.Reference,
		Description: in.Description,
		CallbackURL: g.cfg.CallbackURL,
		RedirectURL: g.cfg.RedirectURL,
		Metadata: map[string]string{
			"email":      in.Metadata.Email,
			"itemId":     in.Metadata.ItemID,
			"purchaseId": in.Metadata.PurchaseID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payment: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	// The reference is unique per purchase, so a retried call never opens a second session.
	req.Header.Set("Idempotency-Key", in.Reference)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: initiate: %w", err)
	}
	defer resp.Body.Close()

	var out checkoutResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("payment: decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment: provider returned %d: %s", resp.StatusCode, out.Message)
	}
	if out.Data.PaymentURL == "" {
		return nil, errors.New("payment: provider returned no payment url")
	}

	return &port.CheckoutSession{ID: out.Data.ID, PaymentURL: out.Data.PaymentURL}, nil
}

var (
	_ port.PaymentGateway  = (*GreyGateway)(nil)
	_ port.WebhookVerifier = (*SignatureVerifier)(nil)
)
