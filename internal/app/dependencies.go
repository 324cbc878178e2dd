package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — набор репозиториев, собранный по выбранному драйверу
// хранилища, плюс проверка его здоровья и функция освобождения ресурсов.
type runtimeDependencies struct {
	coupons         domain.CouponRepository
	orders          domain.OrderRepository
	customers       domain.CustomerRepository
	returns         domain.ReturnRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies собирает репозитории по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			coupons:         memory.NewCouponRepository(),
			orders:          memory.NewOrderRepository(),
			customers:       memory.NewCustomerRepository(),
			returns:         memory.NewReturnRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires PostgresDSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("init postgres storage: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return runtimeDependencies{
			coupons:         postgres.NewCouponRepository(store),
			orders:          postgres.NewOrderRepository(store),
			customers:       postgres.NewCustomerRepository(store),
			returns:         postgres.NewReturnRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return store.Ping(pingCtx)
			}),
			closeFn: store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initAttemptLimiter выбирает ограничитель попыток: Redis, если он настроен
// и отвечает, иначе in-memory. Возвращает ограничитель и функцию закрытия.
func initAttemptLimiter(ctx context.Context, cfg Config, logger *log.Entry) (domain.AttemptLimiter, func() error) {
	maxAttempts := cfg.RateLimitMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(maxAttempts, window), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis is unreachable, falling back to in-memory rate limiter")
		_ = client.Close()
		return ratelimit.NewMemoryLimiter(maxAttempts, window), nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("redis rate limiter initialized")
	return ratelimit.NewRedisLimiter(client, maxAttempts, window), client.Close
}
