package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "loom:"

// RedisRunStore persists run records in Redis, one JSON value per run
// plus an index set for listing.
type RedisRunStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRunStore connects to Redis and verifies the connection.
func NewRedisRunStore(opts Options, logger *zap.Logger) (*RedisRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := opts.Redis.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Redis.Addr,
		Password: opts.Redis.Password,
		DB:       opts.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisRunStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_run_store")),
	}, nil
}

func (s *RedisRunStore) runKey(runID string) string { return s.prefix + "run:" + runID }
func (s *RedisRunStore) indexKey() string           { return s.prefix + "runs" }

func (s *RedisRunStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil || record.RunID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(record.RunID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.RunID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *RedisRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	// Newest first from the sorted set; status/topology filters are
	// applied on the decoded records.
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var records []*RunRecord
	for _, id := range ids {
		record, err := s.GetRun(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matchesFilter(record, filter) {
			continue
		}
		records = append(records, record)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	return records, nil
}

func (s *RedisRunStore) DeleteRun(ctx context.Context, runID string) error {
	deleted, err := s.client.Del(ctx, s.runKey(runID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return s.client.ZRem(ctx, s.indexKey(), runID).Err()
}

func (s *RedisRunStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisRunStore) Close() error {
	return s.client.Close()
}
