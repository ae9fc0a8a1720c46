package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

// Mock DatabaseRepository
var _ port.DatabaseRepository = (*mockDB)(nil)

type mockDB struct {
	mu           sync.Mutex
	items        map[string]domain.MarketplaceItem
	posts        map[string]domain.BlogPost
	purchases    map[string]domain.PendingPurchase
	fulfillments map[string]domain.Fulfillment

	incrementErrs int // fail this many IncrementDownloads calls
	increments    int
	getItemErr    error
	claimErr      error
}

func newMockDB(items ...domain.MarketplaceItem) *mockDB {
	db := &mockDB{
		items:        make(map[string]domain.MarketplaceItem),
		posts:        make(map[string]domain.BlogPost),
		purchases:    make(map[string]domain.PendingPurchase),
		fulfillments: make(map[string]domain.Fulfillment),
	}
	for _, it := range items {
		db.items[it.ID] = it
	}
	return db
}

func (m *mockDB) GetItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getItemErr != nil {
		return nil, m.getItemErr
	}
	it, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *mockDB) ListItems(ctx context.Context, itemType string) ([]domain.MarketplaceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarketplaceItem
	for _, it := range m.items {
		if itemType == "" || it.Type == itemType {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockDB) CreateItem(ctx context.Context, item domain.MarketplaceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *mockDB) IncrementDownloads(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErrs > 0 {
		m.incrementErrs--
		return errors.New("store unavailable")
	}
	it := m.items[itemID]
	it.Downloads++
	m.items[itemID] = it
	m.increments++
	return nil
}

func (m *mockDB) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockDB) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlogPost
	for _, p := range m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockDB) CreatePost(ctx context.Context, post domain.BlogPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[post.ID] = post
	return nil
}

func (m *mockDB) CreatePurchase(ctx context.Context, p domain.PendingPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = p
	return nil
}

func (m *mockDB) GetPurchase(ctx context.Context, id string) (*domain.PendingPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockDB) SetPaymentURL(ctx context.Context, id, paymentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.purchases[id]
	p.PaymentURL = paymentURL
	m.purchases[id] = p
	return nil
}

func (m *mockDB) TransitionPurchase(ctx context.Context, id string, to domain.PurchaseStatus, from ...domain.PurchaseStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok || !slices.Contains(from, p.Status) {
		return false, nil
	}
	p.Status = to
	m.purchases[id] = p
	return true, nil
}

func (m *mockDB) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.PendingPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingPurchase
	for _, p := range m.purchases {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDB) ExpirePurchases(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.purchases {
		if p.Status == domain.PurchaseStatusInitiated && p.CreatedAt.Before(cutoff) {
			p.Status = domain.PurchaseStatusAbandoned
			m.purchases[id] = p
			n++
		}
	}
	return n, nil
}

func (m *mockDB) ClaimFulfillment(ctx context.Context, f domain.Fulfillment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if _, ok := m.fulfillments[f.IdempotencyKey]; ok {
		return false, nil
	}
	m.fulfillments[f.IdempotencyKey] = f
	return true, nil
}

func (m *mockDB) ReleaseFulfillment(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fulfillments, key)
	return nil
}

func (m *mockDB) downloads(itemID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[itemID].Downloads
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	err            error
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

type mockMailer struct {
	mu   sync.Mutex
	sent []domain.Email
	err  error
}

func (m *mockMailer) Send(ctx context.Context, email domain.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockGateway struct {
	requests []port.CheckoutRequest
	err      error
}

func (m *mockGateway) InitiateCheckout(ctx context.Context, req port.CheckoutRequest) (*port.CheckoutSession, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &port.CheckoutSession{ID: "sess-1", PaymentURL: "https://pay.example/" + req.Reference}, nil
}

type mockVerifier struct {
	secret string
}

func (m mockVerifier) VerifyWebhook(signature string, body []byte) error {
	if signature != m.secret {
		return errors.New("signature mismatch")
	}
	return nil
}

type mockEvents struct {
	mu     sync.Mutex
	events []domain.FulfillmentEvent
}

func (m *mockEvents) PublishFulfillment(ctx context.Context, event domain.FulfillmentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}
