// Package redisclient connects to Redis from a URL
package redisclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Connect parses url ("redis://[:password@]host:port[/db]"), connects and verifies with PING
func Connect(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis",
		slog.String("addr", opt.Addr),
		slog.Int("db", opt.DB),
	)
	return rdb, nil
}
