package database

import (
	"context"
	"fmt"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	clientName     = "exam-portal"
	connectTimeout = 5 * time.Second
)

// NewRedisClient connects to Redis. The client serves session records when
// STORAGE_DRIVER=redis and always carries the attempt log queue.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}

	log.Info().
		Str("component", "database").
		Str("driver", "redis").
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Strs("serves", redisRoles(cfg)).
		Msg("Redis connected")

	return rdb, nil
}

func redisOptions(cfg *config.Config) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if opt.ClientName == "" {
		opt.ClientName = clientName
	}
	return opt, nil
}

func redisRoles(cfg *config.Config) []string {
	roles := []string{"attempt_log_queue"}
	if cfg.StorageDriver == config.StorageRedis {
		roles = append([]string{"session_records"}, roles...)
	}
	return roles
}
