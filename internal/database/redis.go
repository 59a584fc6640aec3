package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vpn-billing/internal/config"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
)

func ConnectRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, ierr.Wrap(err, "failed to connect to redis")
	}

	log.Infow("Connected to Redis", "addr", rdb.Options().Addr)
	return rdb, nil
}
