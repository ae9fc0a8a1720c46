package port

import (
	"context"
	"time"

	"github.com/seventeenk/storefront/internal/core/domain"
)

type CatalogRepository interface {
	// GetItem returns nil, nil when the item does not exist
	GetItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error)

	// ListItems returns items newest first, filtered by type when itemType is not empty
	ListItems(ctx context.Context, itemType string) ([]domain.MarketplaceItem, error)

	CreateItem(ctx context.Context, item domain.MarketplaceItem) error

	// IncrementDownloads atomically adds one to the item's download counter
	IncrementDownloads(ctx context.Context, itemID string) error

	// GetPost returns nil, nil when the post does not exist
	GetPost(ctx context.Context, postID string) (*domain.BlogPost, error)

	// ListPosts returns posts newest first
	ListPosts(ctx context.Context) ([]domain.BlogPost, error)

	CreatePost(ctx context.Context, post domain.BlogPost) error
}

type PurchaseRepository interface {
	CreatePurchase(ctx context.Context, purchase domain.PendingPurchase) error

	// GetPurchase returns nil, nil when the purchase does not exist
	GetPurchase(ctx context.Context, purchaseID string) (*domain.PendingPurchase, error)

	SetPaymentURL(ctx context.Context, purchaseID, paymentURL string) error

	// TransitionPurchase moves a purchase to status to, returns false if it was in none of from
	TransitionPurchase(ctx context.Context, purchaseID string, to domain.PurchaseStatus, from ...domain.PurchaseStatus) (bool, error)

	// ListPurchases returns purchases newest first, filtered by status when not empty
	ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.PendingPurchase, error)

	// ExpirePurchases marks initiated purchases created before cutoff as abandoned
	ExpirePurchases(ctx context.Context, cutoff time.Time) (int64, error)
}

type FulfillmentLedger interface {
	// ClaimFulfillment records a fulfillment under its idempotency key, returns false if the key exists
	ClaimFulfillment(ctx context.Context, f domain.Fulfillment) (bool, error)

	// ReleaseFulfillment removes a claim whose delivery failed
	ReleaseFulfillment(ctx context.Context, idempotencyKey string) error
}

type DatabaseRepository interface {
	CatalogRepository
	PurchaseRepository
	FulfillmentLedger
}
