package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/api"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/promo"
	"github.com/vladislavdragonenkov/storefront/internal/service/returns"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Пороги деградации backlog outbox для readiness-отчёта.
const (
	outboxBacklogMaxPending = 1000
	outboxBacklogMaxAge     = 5 * time.Minute
)

// Run запускает витрину: хранилище, фоновые воркеры, Kafka-публикацию outbox
// и два HTTP-сервера (публичный API и служебный с метриками). Блокируется до
// отмены ctx или падения API-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	limiter, closeLimiter := initAttemptLimiter(ctx, cfg, logger)
	defer func() {
		if closeLimiter != nil {
			if err := closeLimiter(); err != nil {
				logger.WithError(err).Warn("failed to close rate limiter")
			}
		}
	}()

	// Kafka опциональна: без брокеров outbox продолжает копиться в хранилище,
	// воркер просто не запускается.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, "")
		dlqPublisher := kafka.NewDLQPublisher(kafkaProducer)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("worker", "outbox")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(workersCtx)
	}

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanupWorker.Run(workersCtx)

	promoSvc := promo.NewService(
		deps.coupons,
		deps.orders,
		deps.customers,
		deps.outboxRepo,
		deps.idempotencyRepo,
		limiter,
		logger.WithField("component", "promo"),
	)
	returnsSvc := returns.NewService(
		deps.orders,
		deps.returns,
		deps.outboxRepo,
		logger.WithField("component", "returns"),
	)

	router := api.NewRouter(
		api.NewPromoHandler(promoSvc, logger.WithField("component", "api.promo")),
		api.NewReturnsHandler(returnsSvc, deps.orders, deps.customers, logger.WithField("component", "api.returns")),
		logger.WithField("component", "api"),
	)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewBacklogChecker(
		"outbox",
		func() (int, time.Time, error) {
			stats, err := deps.outboxRepo.Stats()
			if err != nil {
				return 0, time.Time{}, err
			}
			return stats.PendingCount, stats.OldestPendingAt, nil
		},
		outboxBacklogMaxPending,
		outboxBacklogMaxAge,
	))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает служебный HTTP: /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
