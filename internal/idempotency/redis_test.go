package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/content-publisher/shared/redisclient"
)

// TestRedisStore runs against a live server; set REDIS_URL to enable it
func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	runStoreContract(t, func(t *testing.T, now func() time.Time) Store {
		ctx := context.Background()
		rdb, err := redisclient.Connect(ctx, url, testLogger())
		require.NoError(t, err)

		// isolate every subtest under its own key namespace
		prefix := uuid.NewString()
		store := NewRedisStore(rdb, prefix+":", testLogger())
		store.now = now

		t.Cleanup(func() {
			keys, _ := rdb.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				rdb.Del(ctx, keys...)
			}
			rdb.Close()
		})
		return store
	})
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	// keys are derived locally; no server is contacted
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { rdb.Close() })

	tests := []struct {
		name        string
		prefix      string
		wantClass   string
		wantClasses string
	}{
		{"no prefix", "", "idempotency:article-forward", "idempotency-classes"},
		{"tenant prefix", "tenant-a:", "tenant-a:idempotency:article-forward", "tenant-a:idempotency-classes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewRedisStore(rdb, tt.prefix, testLogger())
			assert.Equal(t, tt.wantClass, store.classKey("article-forward"))
			assert.Equal(t, tt.wantClasses, store.classesKey())
		})
	}
}
