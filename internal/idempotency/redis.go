package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "idempotency:"
	redisClassesKey = "idempotency-classes"
)

// RedisClassKey is the hash holding one field per processed content key of a class
func RedisClassKey(jobClass string) string {
	return redisKeyPrefix + jobClass
}

// RedisStore implements Store with one Redis hash per job class. HSETNX gives the idempotent write.
type RedisStore struct {
	rdb       *redis.Client
	logger    *slog.Logger
	now       func() time.Time
	keyPrefix string
}

// NewRedisStore wraps a connected client; keyPrefix is prepended to every key it touches
func NewRedisStore(rdb *redis.Client, keyPrefix string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		logger:    logger,
		now:       time.Now,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) classesKey() string {
	return s.keyPrefix + redisClassesKey
}

func (s *RedisStore) classKey(jobClass string) string {
	return s.keyPrefix + RedisClassKey(jobClass)
}

func (s *RedisStore) IsProcessed(ctx context.Context, contentKey, jobClass string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, s.classKey(jobClass), contentKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency record: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, contentKey, jobClass, taskID string) error {
	now := s.now().UTC()
	data, err := json.Marshal(Record{
		ContentKey: contentKey,
		JobClass:   jobClass,
		TaskID:     taskID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	var inserted *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		inserted = pipe.HSetNX(ctx, s.classKey(jobClass), contentKey, data)
		pipe.SAdd(ctx, s.classesKey(), jobClass)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}

	if !inserted.Val() {
		s.logger.Debug("Idempotency record already present",
			slog.String("content_key", contentKey),
			slog.String("job_class", jobClass),
			slog.String("task_id", taskID),
		)
	}
	return nil
}

func (s *RedisStore) ListProcessed(ctx context.Context, jobClass string) ([]Record, error) {
	classes := []string{jobClass}
	if jobClass == "" {
		var err error
		classes, err = s.rdb.SMembers(ctx, s.classesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list job classes: %w", err)
		}
	}

	records := []Record{}
	for _, class := range classes {
		fields, err := s.rdb.HGetAll(ctx, s.classKey(class)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list idempotency records: %w", err)
		}
		for key, raw := range fields {
			var rec Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				s.logger.Warn("Skipping malformed idempotency record",
					slog.String("job_class", class),
					slog.String("content_key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			records = append(records, rec)
		}
	}

	sortNewestFirst(records)
	return records, nil
}

func (s *RedisStore) Stats(ctx context.Context, jobClass string) (*Stats, error) {
	records, err := s.ListProcessed(ctx, jobClass)
	if err != nil {
		return nil, err
	}
	return statsFromRecords(records, startOfDay(s.now())), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
