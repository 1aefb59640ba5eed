package repositories

import (
	"context"

	"livemap/internal/core/ports"
	"livemap/internal/infrastructure/repositories/memory"
	pgrepo "livemap/internal/infrastructure/repositories/postgres"
	redisrepo "livemap/internal/infrastructure/repositories/redis"
	"livemap/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	usePostgres bool
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. A backend that
// fails to connect is logged and skipped, leaving the in-memory stores
// serving until the next restart.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis:    cfg.Redis.Enabled,
		usePostgres: cfg.Postgres.Enabled,
		logger:      logger,
	}

	if cfg.Postgres.Enabled {
		pool, err := pgrepo.NewPool(context.Background(), cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Warnw("failed to connect to Postgres, falling back to memory repositories",
				"error", err,
			)
			factory.usePostgres = false
		} else {
			factory.pgPool = pool
			logger.Info("using Postgres repositories")
		}
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis && !factory.usePostgres {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateConsentRepository creates a consent repository backed by the
// configured store.
func (f *RepositoryFactory) CreateConsentRepository() ports.ConsentRepository {
	if f.usePostgres && f.pgPool != nil {
		return pgrepo.NewPostgresConsentRepository(f.pgPool)
	}
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisConsentRepository(f.redisClient)
	}
	return memory.NewMemoryConsentRepository()
}

// CreateLocationRepository creates a location repository backed by the
// configured store.
func (f *RepositoryFactory) CreateLocationRepository() ports.LocationRepository {
	if f.usePostgres && f.pgPool != nil {
		return pgrepo.NewPostgresLocationRepository(f.pgPool)
	}
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisLocationRepository(f.redisClient)
	}
	return memory.NewMemoryLocationRepository()
}

// CreateUserDirectory creates a user directory backed by the configured
// store.
func (f *RepositoryFactory) CreateUserDirectory() ports.UserDirectory {
	if f.usePostgres && f.pgPool != nil {
		return pgrepo.NewPostgresUserDirectory(f.pgPool)
	}
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisUserDirectory(f.redisClient)
	}
	return memory.NewMemoryUserDirectory()
}

// Close closes backend connections if used
func (f *RepositoryFactory) Close() error {
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks backend connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.usePostgres && f.pgPool != nil {
		return f.pgPool.Ping(ctx)
	}
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
