package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/utils"
)

const recordsKey = "nodepool:records"

// RedisStore persists the registry as a Redis hash keyed by endpoint
// host:port. Saves retry with exponential backoff since a device waking from
// background often races its own connectivity.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects using environment variables (REDIS_HOST,
// REDIS_PORT, REDIS_PASSWORD, REDIS_DB).
func NewRedisStore(ctx context.Context, logger *zap.Logger) (*RedisStore, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     4,
		MinIdleConns: 1,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", addr), zap.Int("db", db))
	return &RedisStore{client: rdb, logger: logger}, nil
}

func (s *RedisStore) Load(ctx context.Context) ([]pool.NodeRecord, error) {
	raw, err := s.client.HGetAll(ctx, recordsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	records := make([]pool.NodeRecord, 0, len(raw))
	for key, blob := range raw {
		var rec pool.NodeRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			s.logger.Warn("skipping corrupt record", zap.String("key", key), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) Save(ctx context.Context, records []pool.NodeRecord) error {
	fields := make(map[string]any, len(records))
	for _, rec := range records {
		blob, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.Endpoint.Key(), err)
		}
		fields[rec.Endpoint.Key()] = blob
	}

	op := func() error {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, recordsKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, recordsKey, fields)
		}
		_, err := pipe.Exec(ctx)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("save %d records: %w", len(records), err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
