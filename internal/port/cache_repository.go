package port

import (
	"context"

	"github.com/seventeenk/storefront/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency deletes a key so a later retry can claim it again
	ReleaseIdempotency(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishFulfillment(ctx context.Context, event domain.FulfillmentEvent) error
}
