package cache

import (
	"github.com/agencykit/creditd/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient connects to redis when an address is configured. Every
// consumer treats a nil client as "cache disabled".
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info("redis configured", zap.String("addr", cfg.RedisAddr))
	return client
}

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewBalanceCache),
)
