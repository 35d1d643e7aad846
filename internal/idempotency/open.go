package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/shared/postgresql"
	"github.com/cuongbtq/content-publisher/shared/redisclient"
)

// Open builds the store selected by idem.Driver
func Open(ctx context.Context, idem *config.IdempotencyConfig, db *config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	switch idem.Driver {
	case config.DriverPostgres, "":
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			Database:        db.Database,
			SSLMode:         db.SSLMode,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store, err := NewPostgresStore(ctx, client, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil

	case config.DriverSQLite:
		return NewSQLiteStore(ctx, idem.SQLitePath, logger)

	case config.DriverRedis:
		rdb, err := redisclient.Connect(ctx, idem.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb, idem.RedisKeyPrefix, logger), nil

	case config.DriverMemory:
		logger.Warn("Using in-memory idempotency store; processed records are lost on restart")
		return NewMemoryStore(), nil
	}

	return nil, fmt.Errorf("unknown idempotency driver: %q", idem.Driver)
}
