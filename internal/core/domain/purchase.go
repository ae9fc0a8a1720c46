package domain

import "time"

type PurchaseStatus string

const (
	PurchaseStatusInitiated PurchaseStatus = "initiated"
	PurchaseStatusFulfilled PurchaseStatus = "fulfilled"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusAbandoned PurchaseStatus = "abandoned"
)

// Valid reports whether s is a known status.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusInitiated, PurchaseStatusFulfilled, PurchaseStatusFailed, PurchaseStatusAbandoned:
		return true
	}
	return false
}

// PendingPurchase records a paid checkout from initiation onward. Its ID is
// sent to the payment provider as the reference and comes back on the
// webhook.
type PendingPurchase struct {
	ID             string
	ItemID         string
	Email          string
	Amount         int64
	Currency       string
	Status         PurchaseStatus
	PaymentURL     string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
