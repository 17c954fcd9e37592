// Package app opens the infrastructure shared by the API and worker
// binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/cache"
	"github.com/michel-DC/Teamify-sub004/internal/config"
	"github.com/michel-DC/Teamify-sub004/internal/store"
	"github.com/michel-DC/Teamify-sub004/internal/store/memory"
	"github.com/michel-DC/Teamify-sub004/internal/store/postgres"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// OpenStore returns the configured store. The postgres driver applies the
// schema on start.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory", "":
		log.Warn("using in-memory store; state is lost on restart and not shared between instances")
		return memory.New(), nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to postgres")
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenCache returns the Redis unread cache, or nil when Redis is not
// configured or unreachable. The cache is an optimization only.
func OpenCache(ctx context.Context, cfg *config.Config, log *logger.Logger) cache.Cache {
	if cfg.RedisURL == "" {
		return nil
	}
	c, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, unread cache disabled", zap.Error(err))
		return nil
	}
	return c
}
