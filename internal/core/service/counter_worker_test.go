package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seventeenk/storefront/internal/core/domain"
)

func TestCounterReconciler_RetriesUntilSuccess(t *testing.T) {
	db := newMockDB(domain.MarketplaceItem{ID: "item-1"})
	db.incrementErrs = 2

	queue := make(chan CounterJob, 1)
	r := NewCounterReconciler(db, queue, 5, time.Millisecond, nil)

	queue <- CounterJob{ItemID: "item-1", Key: "k"}
	close(queue)
	r.Run(context.Background(), 2)

	assert.Equal(t, int64(1), db.downloads("item-1"))
	assert.Zero(t, db.incrementErrs)
}

func TestCounterReconciler_GivesUp(t *testing.T) {
	db := newMockDB(domain.MarketplaceItem{ID: "item-1"})
	db.incrementErrs = 10

	queue := make(chan CounterJob, 1)
	r := NewCounterReconciler(db, queue, 3, time.Millisecond, nil)

	queue <- CounterJob{ItemID: "item-1"}
	close(queue)
	r.Run(context.Background(), 1)

	assert.Zero(t, db.downloads("item-1"))
	assert.Equal(t, 7, db.incrementErrs)
}

func TestCounterReconciler_StopsOnCancel(t *testing.T) {
	db := newMockDB(domain.MarketplaceItem{ID: "item-1"})
	db.incrementErrs = 10

	queue := make(chan CounterJob, 1)
	r := NewCounterReconciler(db, queue, 5, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	queue <- CounterJob{ItemID: "item-1"}
	close(queue)

	done := make(chan struct{})
	go func() {
		r.Run(ctx, 1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
	assert.Equal(t, 9, db.incrementErrs)
}

func TestCounterReconciler_DrainsServiceQueue(t *testing.T) {
	db := newMockDB(domain.MarketplaceItem{ID: "free-1", IsFree: true, Title: "Free", DriveLink: "https://drive/f"})
	db.incrementErrs = 1

	svc := NewFulfillmentService(Dependencies{
		Catalog:   db,
		Purchases: db,
		Ledger:    db,
		Cache:     newMockCacheRepo(),
		Mailer:    &mockMailer{},
		Payments:  &mockGateway{},
	}, FulfillmentConfig{QueueSize: 4})

	r := NewCounterReconciler(db, svc.GetCounterQueue(), 3, time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), 2)
		close(done)
	}()

	err := svc.FreeDownload(context.Background(), domain.FulfillmentRequest{Email: "a@b.com", ItemID: "free-1"})
	assert.NoError(t, err)

	svc.Close()
	<-done

	assert.Equal(t, int64(1), db.downloads("free-1"))
}
