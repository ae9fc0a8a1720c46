package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/port"
)

const counterAttemptTimeout = 5 * time.Second

// CounterReconciler retries download counter increments that failed after
// the delivery email was already sent.
type CounterReconciler struct {
	catalog     port.CatalogRepository
	queue       <-chan CounterJob
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
}

func NewCounterReconciler(catalog port.CatalogRepository, queue <-chan CounterJob, maxAttempts int, backoff time.Duration, logger *zap.Logger) *CounterReconciler {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterReconciler{
		catalog:     catalog,
		queue:       queue,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         logger.Named("reconciler"),
	}
}

// Run starts workers and blocks until the queue is closed and drained.
// Cancelling ctx aborts pending backoffs.
func (r *CounterReconciler) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (r *CounterReconciler) workerLoop(ctx context.Context, id int) {
	for job := range r.queue {
		r.reconcile(ctx, id, job)
	}
}

func (r *CounterReconciler) reconcile(ctx context.Context, id int, job CounterJob) {
	logger := r.log.With(zap.Int("worker", id), zap.String("item_id", job.ItemID), zap.String("idempotency_key", job.Key))

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff * time.Duration(1<<uint(attempt-2))
			select {
			case <-ctx.Done():
				logger.Error("download not counted, shutting down", zap.Int("attempt", attempt))
				return
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), counterAttemptTimeout)
		err := r.catalog.IncrementDownloads(attemptCtx, job.ItemID)
		cancel()

		if err == nil {
			logger.Info("download counted", zap.Int("attempt", attempt))
			return
		}
		logger.Warn("increment downloads", zap.Int("attempt", attempt), zap.Error(err))
	}

	logger.Error("download not counted, attempts exhausted", zap.Int("attempts", r.maxAttempts))
}
