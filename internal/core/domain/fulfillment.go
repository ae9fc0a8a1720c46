package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type FulfillmentSource string

const (
	SourceFree    FulfillmentSource = "free"
	SourcePayment FulfillmentSource = "payment"
)

// FulfillmentRequest is the buyer input of both the free download and the
// payment initiation calls.
type FulfillmentRequest struct {
	Email  string `json:"email"`
	ItemID string `json:"itemId"`
}

// PaymentCallback is the body the payment provider posts to the webhook.
type PaymentCallback struct {
	Status        string          `json:"status"`
	Reference     string          `json:"reference,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Metadata      PaymentMetadata `json:"metadata"`
}

// PaymentMetadata round-trips through the provider untouched.
type PaymentMetadata struct {
	Email      string `json:"email"`
	ItemID     string `json:"itemId"`
	PurchaseID string `json:"purchaseId,omitempty"`
}

// Succeeded reports whether the provider considers the payment complete.
func (c PaymentCallback) Succeeded() bool {
	return c.Status == "success"
}

// Terminal reports whether a non-success status means the checkout is over.
func (c PaymentCallback) Terminal() bool {
	switch strings.ToLower(c.Status) {
	case "failed", "cancelled", "canceled", "abandoned", "reversed":
		return true
	}
	return false
}

// PurchaseRef returns the purchase reference, preferring the top-level one.
func (c PaymentCallback) PurchaseRef() string {
	if c.Reference != "" {
		return c.Reference
	}
	return c.Metadata.PurchaseID
}

// Fulfillment is the ledger row written once per delivered payment.
type Fulfillment struct {
	IdempotencyKey string
	ItemID         string
	Email          string
	Reference      string
	Source         FulfillmentSource
	CreatedAt      time.Time
}

// FulfillmentEvent is published after a delivery completes.
type FulfillmentEvent struct {
	ItemID    string            `json:"item_id"`
	Email     string            `json:"email"`
	Source    FulfillmentSource `json:"source"`
	Reference string            `json:"reference,omitempty"`
	At        time.Time         `json:"at"`
}

// IdempotencyKey derives the deduplication key of a payment fulfillment.
// The email is case folded so provider casing changes do not split keys.
func IdempotencyKey(itemID, email, reference string) string {
	h := sha256.New()
	h.Write([]byte(itemID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	h.Write([]byte{0})
	h.Write([]byte(reference))
	return hex.EncodeToString(h.Sum(nil))
}
