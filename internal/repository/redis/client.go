// Package redis keeps the sequence ledger and the latest artifact in Redis so
// several hub processes can share them and counters survive restarts.
package redis

import (
	"context"
	"fmt"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	goredis "github.com/redis/go-redis/v9"
	nuts "github.com/vaudience/go-nuts"
)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to Redis: %w", err)
	}

	nuts.L.Infof("[Redis] Connected to %s:%d/%d", cfg.Host, cfg.Port, cfg.DB)
	return client, nil
}
