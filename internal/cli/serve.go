package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/seventeenk/storefront/internal/adapter/handler"
	"github.com/seventeenk/storefront/internal/adapter/mail"
	"github.com/seventeenk/storefront/internal/adapter/payment"
	"github.com/seventeenk/storefront/internal/adapter/storage"
	"github.com/seventeenk/storefront/internal/config"
	"github.com/seventeenk/storefront/internal/core/service"
	"github.com/seventeenk/storefront/internal/port"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers and the counter reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen http: %w", err)
			}
			var grpcLis net.Listener
			if cfg.GRPC.Enabled {
				grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr)
				if err != nil {
					httpLis.Close()
					return fmt.Errorf("listen grpc: %w", err)
				}
			}

			return serve(ctx, cfg, logger, httpLis, grpcLis)
		},
	}
}

// serve runs until ctx is done, then drains the servers and the counter
// queue. grpcLis may be nil.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, httpLis, grpcLis net.Listener) error {
	db, store, err := openStore(ctx, cfg.Database, false)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	rdb, err := storage.OpenRedis(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
	if err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis")

	cache := storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.EventsChannel)
	catalog := storage.NewCachedCatalog(store, rdb, cfg.Redis.ItemCacheTTL, logger)

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return err
	}
	gateway, err := payment.NewGreyGateway(payment.Config{
		BaseURL:     cfg.Payment.BaseURL,
		SecretKey:   cfg.Payment.SecretKey,
		CallbackURL: cfg.Payment.CallbackURL,
		RedirectURL: cfg.Payment.RedirectURL,
		Timeout:     cfg.Payment.Timeout,
	})
	if err != nil {
		return err
	}

	deps := service.Dependencies{
		Catalog:   catalog,
		Purchases: store,
		Ledger:    store,
		Cache:     cache,
		Mailer:    mailer,
		Payments:  gateway,
		Events:    cache,
		Logger:    logger,
	}
	if cfg.Payment.WebhookSecret != "" {
		verifier, err := payment.NewSignatureVerifier(cfg.Payment.WebhookSecret, cfg.Payment.SignatureTolerance)
		if err != nil {
			return err
		}
		deps.Verifier = verifier
	} else {
		logger.Warn("webhook signatures are not verified")
	}

	fulfillment := service.NewFulfillmentService(deps, service.FulfillmentConfig{
		From:      cfg.Mail.From,
		Currency:  cfg.Payment.Currency,
		QueueSize: cfg.Fulfillment.QueueSize,
	})
	catalogService := service.NewCatalogService(catalog, logger)

	// Workers outlive ctx so queued increments drain during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	reconciler := service.NewCounterReconciler(catalog, fulfillment.GetCounterQueue(), cfg.Fulfillment.MaxAttempts, cfg.Fulfillment.RetryBackoff, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(workerCtx, cfg.Fulfillment.Workers)
	}()
	logger.Info("started counter reconciler", zap.Int("workers", cfg.Fulfillment.Workers))

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if grpcLis != nil {
		grpcHandler := handler.NewGRPCHandler(fulfillment, logger)
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpcHandler.UnaryLogger))
		grpcHandler.Register(grpcServer)

		healthServer := health.NewServer()
		healthServer.SetServingStatus(handler.FulfillmentServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthServer)

		go func() {
			logger.Info("gRPC server listening", zap.String("addr", grpcLis.Addr().String()))
			if err := grpcServer.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	httpServer := &http.Server{
		Handler:      handler.NewHTTPHandler(fulfillment, catalogService, logger).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	if grpcServer != nil {
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
	}

	fulfillment.Close()
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("counter queue not drained before shutdown timeout")
		cancelWorkers()
		<-drained
	}
	logger.Info("workers stopped")

	return runErr
}

func newMailer(cfg config.MailConfig, logger *zap.Logger) (port.Mailer, error) {
	if cfg.Driver == "log" {
		logger.Warn("emails are logged, not sent")
		return mail.NewLogMailer(logger), nil
	}
	mailer, err := mail.NewResendMailer(mail.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return mailer, nil
}
