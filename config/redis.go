package config

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/pos-backend/utils"
)

// ConnectRedis returns nil clients when REDIS_ADDRESS is unset or the server
// does not answer within a few seconds. Redis only coordinates reconciler
// leases, so the orders service keeps running without it.
func ConnectRedis(ctx context.Context, cfg *Config) (*redis.Client, *redislock.Client) {
	if cfg.RedisAddress == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
		PoolSize: 20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"addr": cfg.RedisAddress,
		}).Warnf("redis unreachable, reconciler runs without a lease: %v", err)
		_ = rdb.Close()
		return nil, nil
	}

	utils.InfoLogger.WithField("addr", cfg.RedisAddress).Info("connected to redis")
	return rdb, redislock.New(rdb)
}
