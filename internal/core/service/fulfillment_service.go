package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

const publishTimeout = 2 * time.Second

type FulfillmentConfig struct {
	// From is the sender address of delivery emails.
	From      string
	Currency  string
	QueueSize int
}

type Dependencies struct {
	Catalog   port.CatalogRepository
	Purchases port.PurchaseRepository
	Ledger    port.FulfillmentLedger
	Cache     port.CacheRepository
	Mailer    port.Mailer
	Payments  port.PaymentGateway
	// Verifier is nil when unsigned webhooks are allowed.
	Verifier port.WebhookVerifier
	// Events is optional.
	Events port.EventPublisher
	Logger *zap.Logger
}

// CounterJob is a download counter increment that failed inline and is
// retried by the reconciler.
type CounterJob struct {
	ItemID string
	Key    string
}

type FulfillmentService struct {
	deps       Dependencies
	cfg        FulfillmentConfig
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
	mu         sync.RWMutex
	closed     bool
	counterJob chan CounterJob
}

type PaymentSession struct {
	PaymentURL string `json:"paymentUrl"`
	Reference  string `json:"reference"`
}

type WebhookOutcome int

const (
	// WebhookIgnored is a non-success status that was acknowledged.
	WebhookIgnored WebhookOutcome = iota
	WebhookDuplicate
	WebhookFulfilled
)

func NewFulfillmentService(deps Dependencies, cfg FulfillmentConfig) *FulfillmentService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &FulfillmentService{
		deps:       deps,
		cfg:        cfg,
		log:        deps.Logger.Named("fulfillment"),
		now:        time.Now,
		newID:      uuid.NewString,
		counterJob: make(chan CounterJob, cfg.QueueSize),
	}
}

// FreeDownload emails the drive link of a free item and counts the download.
func (s *FulfillmentService) FreeDownload(ctx context.Context, req domain.FulfillmentRequest) error {
	email, itemID, err := validateRequest(req.Email, req.ItemID)
	if err != nil {
		return err
	}

	item, err := s.lookupItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.IsFree {
		return fmt.Errorf("%w: item %s is not free", ErrForbidden, item.ID)
	}
	if !item.Fulfillable() {
		return fmt.Errorf("%w: item %s", ErrUnfulfillable, item.ID)
	}

	if err := s.deliver(ctx, *item, email, domain.SourceFree, ""); err != nil {
		return err
	}

	s.recordDownload(ctx, item.ID, "")
	s.publish(ctx, domain.FulfillmentEvent{
		ItemID: item.ID,
		Email:  email,
		Source: domain.SourceFree,
		At:     s.now().UTC(),
	})

	s.log.Info("free download fulfilled", zap.String("item_id", item.ID))
	return nil
}

// InitiatePayment records a pending purchase and opens a checkout with the
// payment provider. The purchase id travels as the provider reference.
func (s *FulfillmentService) InitiatePayment(ctx context.Context, req domain.FulfillmentRequest) (*PaymentSession, error) {
	email, itemID, err := validateRequest(req.Email, req.ItemID)
	if err != nil {
		return nil, err
	}

	item, err := s.lookupItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsFree {
		return nil, fmt.Errorf("%w: item %s is free", ErrForbidden, item.ID)
	}
	if !item.Fulfillable() {
		return nil, fmt.Errorf("%w: item %s", ErrUnfulfillable, item.ID)
	}

	now := s.now().UTC()
	purchase := domain.PendingPurchase{
		ID:        s.newID(),
		ItemID:    item.ID,
		Email:     email,
		Amount:    item.Price,
		Currency:  s.cfg.Currency,
		Status:    domain.PurchaseStatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	purchase.IdempotencyKey = domain.IdempotencyKey(item.ID, email, purchase.ID)

	if err := s.deps.Purchases.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	checkout, err := s.deps.Payments.InitiateCheckout(ctx, port.CheckoutRequest{
		Reference:   purchase.ID,
		Amount:      purchase.Amount,
		Currency:    purchase.Currency,
		Email:       email,
		Description: item.Title,
		Metadata: domain.PaymentMetadata{
			Email:      email,
			ItemID:     item.ID,
			PurchaseID: purchase.ID,
		},
	})
	if err != nil {
		if _, terr := s.deps.Purchases.TransitionPurchase(ctx, purchase.ID, domain.PurchaseStatusFailed, domain.PurchaseStatusInitiated); terr != nil {
			s.log.Error("mark purchase failed", zap.String("purchase_id", purchase.ID), zap.Error(terr))
		}
		return nil, fmt.Errorf("%w: initiate checkout: %v", ErrUpstream, err)
	}

	if err := s.deps.Purchases.SetPaymentURL(ctx, purchase.ID, checkout.PaymentURL); err != nil {
		// The buyer can still pay; the url is only kept for support lookups.
		s.log.Warn("store payment url", zap.String("purchase_id", purchase.ID), zap.Error(err))
	}

	s.log.Info("payment initiated",
		zap.String("purchase_id", purchase.ID),
		zap.String("item_id", item.ID),
		zap.String("session_id", checkout.ID),
	)
	return &PaymentSession{PaymentURL: checkout.PaymentURL, Reference: purchase.ID}, nil
}

// HandleWebhook authenticates and applies a payment provider callback.
// Each purchase is fulfilled at most once no matter how often the provider
// redelivers it, and only to the buyer who initiated it.
func (s *FulfillmentService) HandleWebhook(ctx context.Context, signature string, body []byte) (WebhookOutcome, error) {
	if s.deps.Verifier != nil {
		if err := s.deps.Verifier.VerifyWebhook(signature, body); err != nil {
			s.log.Warn("rejected webhook", zap.Error(err))
			return WebhookIgnored, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}

	var cb domain.PaymentCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return WebhookIgnored, fmt.Errorf("%w: decode payload: %v", ErrInvalidRequest, err)
	}

	ref := cb.PurchaseRef()

	if !cb.Succeeded() {
		s.recordUnsuccessful(ctx, cb, ref)
		return WebhookIgnored, nil
	}

	email, itemID, err := validateRequest(cb.Metadata.Email, cb.Metadata.ItemID)
	if err != nil {
		return WebhookIgnored, err
	}

	item, err := s.lookupItem(ctx, itemID)
	if err != nil {
		return WebhookIgnored, err
	}
	if !item.Fulfillable() {
		return WebhookIgnored, fmt.Errorf("%w: item %s", ErrUnfulfillable, item.ID)
	}

	dedupe := ref
	if dedupe == "" {
		dedupe = cb.TransactionID
	}
	key := domain.IdempotencyKey(item.ID, email, dedupe)

	var purchase *domain.PendingPurchase
	if ref != "" {
		purchase, err = s.deps.Purchases.GetPurchase(ctx, ref)
		if err != nil {
			return WebhookIgnored, fmt.Errorf("get purchase: %w", err)
		}
	}
	if purchase != nil {
		if purchase.ItemID != item.ID {
			return WebhookIgnored, fmt.Errorf("%w: purchase %s is for another item", ErrInvalidRequest, ref)
		}
		if !strings.EqualFold(purchase.Email, email) {
			return WebhookIgnored, fmt.Errorf("%w: purchase %s belongs to another buyer", ErrInvalidRequest, ref)
		}
		// The stored purchase is authoritative for who receives the link
		// and for the single claim per purchase.
		email = purchase.Email
		key = purchase.IdempotencyKey
		if key == "" {
			key = domain.IdempotencyKey(purchase.ItemID, purchase.Email, purchase.ID)
		}
	}
	logger := s.log.With(zap.String("item_id", item.ID), zap.String("reference", ref), zap.String("idempotency_key", key))

	claimed, err := s.claim(ctx, domain.Fulfillment{
		IdempotencyKey: key,
		ItemID:         item.ID,
		Email:          email,
		Reference:      dedupe,
		Source:         domain.SourcePayment,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return WebhookIgnored, err
	}
	if !claimed {
		logger.Info("duplicate webhook delivery")
		return WebhookDuplicate, nil
	}

	if err := s.deliver(ctx, *item, email, domain.SourcePayment, ref); err != nil {
		s.release(ctx, key)
		return WebhookIgnored, err
	}

	if purchase != nil {
		// A verified payment wins over an earlier expiry or failure report.
		ok, err := s.deps.Purchases.TransitionPurchase(ctx, purchase.ID, domain.PurchaseStatusFulfilled,
			domain.PurchaseStatusInitiated, domain.PurchaseStatusAbandoned, domain.PurchaseStatusFailed)
		if err != nil {
			logger.Error("mark purchase fulfilled", zap.Error(err))
		} else if !ok {
			logger.Warn("purchase already fulfilled", zap.String("purchase_status", string(purchase.Status)))
		}
	}

	s.recordDownload(ctx, item.ID, key)
	s.publish(ctx, domain.FulfillmentEvent{
		ItemID:    item.ID,
		Email:     email,
		Source:    domain.SourcePayment,
		Reference: ref,
		At:        s.now().UTC(),
	})

	logger.Info("payment fulfilled")
	return WebhookFulfilled, nil
}

// ListPurchases returns recent purchases, optionally filtered by status.
func (s *FulfillmentService) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.PendingPurchase, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if limit <= 0 {
		limit = 50
	}
	return s.deps.Purchases.ListPurchases(ctx, status, limit)
}

// ExpireAbandoned marks purchases still initiated after olderThan as abandoned.
func (s *FulfillmentService) ExpireAbandoned(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: age must be positive", ErrInvalidRequest)
	}
	n, err := s.deps.Purchases.ExpirePurchases(ctx, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("expire purchases: %w", err)
	}
	s.log.Info("expired abandoned purchases", zap.Int64("count", n))
	return n, nil
}

func (s *FulfillmentService) GetCounterQueue() <-chan CounterJob {
	return s.counterJob
}

func (s *FulfillmentService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.counterJob)
	}
}

func (s *FulfillmentService) lookupItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error) {
	item, err := s.deps.Catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	return item, nil
}

func (s *FulfillmentService) deliver(ctx context.Context, item domain.MarketplaceItem, to string, source domain.FulfillmentSource, reference string) error {
	msg, err := renderFulfillmentEmail(s.cfg.From, to, item, source, reference)
	if err != nil {
		return err
	}
	if err := s.deps.Mailer.Send(ctx, msg); err != nil {
		s.log.Error("send fulfillment email", zap.String("item_id", item.ID), zap.String("source", string(source)), zap.Error(err))
		return fmt.Errorf("%w: send email: %v", ErrUpstream, err)
	}
	return nil
}

// claim takes the Redis fast-path key, then the durable ledger row.
// A Redis outage falls back to the ledger alone.
func (s *FulfillmentService) claim(ctx context.Context, f domain.Fulfillment) (bool, error) {
	ok, err := s.deps.Cache.SetIdempotency(ctx, fulfillmentKey(f.IdempotencyKey))
	if err != nil {
		s.log.Warn("idempotency cache unavailable", zap.Error(err))
	} else if !ok {
		return false, nil
	}

	ok, err = s.deps.Ledger.ClaimFulfillment(ctx, f)
	if err != nil {
		s.releaseCache(ctx, f.IdempotencyKey)
		return false, fmt.Errorf("claim fulfillment: %w", err)
	}
	return ok, nil
}

func (s *FulfillmentService) release(ctx context.Context, key string) {
	if err := s.deps.Ledger.ReleaseFulfillment(ctx, key); err != nil {
		s.log.Error("release fulfillment claim", zap.String("idempotency_key", key), zap.Error(err))
	}
	s.releaseCache(ctx, key)
}

func (s *FulfillmentService) releaseCache(ctx context.Context, key string) {
	if err := s.deps.Cache.ReleaseIdempotency(ctx, fulfillmentKey(key)); err != nil {
		s.log.Error("release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
	}
}

func (s *FulfillmentService) recordUnsuccessful(ctx context.Context, cb domain.PaymentCallback, ref string) {
	logger := s.log.With(zap.String("status", cb.Status), zap.String("reference", ref))
	if ref == "" || !cb.Terminal() {
		logger.Info("acknowledged non-success webhook")
		return
	}
	ok, err := s.deps.Purchases.TransitionPurchase(ctx, ref, domain.PurchaseStatusFailed, domain.PurchaseStatusInitiated)
	if err != nil {
		logger.Error("mark purchase failed", zap.Error(err))
		return
	}
	logger.Info("acknowledged non-success webhook", zap.Bool("purchase_updated", ok))
}

// recordDownload increments the counter inline and hands failures to the
// reconciler. The email has already gone out at this point.
func (s *FulfillmentService) recordDownload(ctx context.Context, itemID, key string) {
	err := s.deps.Catalog.IncrementDownloads(ctx, itemID)
	if err == nil {
		return
	}
	s.log.Warn("increment downloads, queueing retry", zap.String("item_id", itemID), zap.Error(err))
	s.enqueue(CounterJob{ItemID: itemID, Key: key})
}

func (s *FulfillmentService) enqueue(job CounterJob) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.log.Error("counter queue closed, download not counted", zap.String("item_id", job.ItemID))
		return
	}
	select {
	case s.counterJob <- job:
	default:
		s.log.Error("counter queue full, download not counted", zap.String("item_id", job.ItemID))
	}
}

func (s *FulfillmentService) publish(ctx context.Context, event domain.FulfillmentEvent) {
	if s.deps.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.deps.Events.PublishFulfillment(ctx, event); err != nil {
		s.log.Warn("publish fulfillment event", zap.String("item_id", event.ItemID), zap.Error(err))
	}
}

func fulfillmentKey(key string) string {
	return "fulfillment:" + key
}

func validateRequest(email, itemID string) (string, string, error) {
	email = strings.TrimSpace(email)
	itemID = strings.TrimSpace(itemID)
	if email == "" || itemID == "" {
		return "", "", fmt.Errorf("%w: email and itemId are required", ErrInvalidRequest)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", fmt.Errorf("%w: malformed email", ErrInvalidRequest)
	}
	return email, itemID, nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnfulfillable)
}
