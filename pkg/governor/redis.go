// Package governor implements the Resource & Quota Governor (spec
// §4.9): the single choke point every externally-costly operation
// (model call, tool dispatch, sandbox run) passes through for
// wall-clock timeout enforcement, concurrency limiting, and
// per-minute/hour/day/total quota counters. Quota state lives in Redis
// so it is shared across worker pods, the same way the teacher's
// workflow claims are shared across pods through Postgres row locks
// rather than an in-memory map.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/aard-ai/aard/pkg/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials the governor's counter store and verifies
// connectivity before returning, the same fail-fast-on-construction
// discipline database.NewClient applies to the Postgres pool.
func NewRedisClient(ctx context.Context, cfg *config.GovernorConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to governor redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
