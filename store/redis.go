package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisRunKeyPrefix = "stepflow:run:"
	redisRunIndexKey  = "stepflow:runs"
)

// RedisConfig configures the Redis-backed run store.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	// TTL expires run records; zero keeps them forever.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379"}
}

// RedisStore persists run records in Redis, one JSON value per run plus a
// set indexing run ids.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    config.TTL,
		logger: logger.With(zap.String("component", "redis_store")),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client (used by tests).
func NewRedisStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger.With(zap.String("component", "redis_store"))}
}

func (s *RedisStore) Save(ctx context.Context, record *RunRecord) error {
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisRunKeyPrefix+record.RunID, payload, s.ttl)
	pipe.SAdd(ctx, redisRunIndexKey, record.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run %s: %w", record.RunID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	payload, err := s.client.Get(ctx, redisRunKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	var record RunRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &record, nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, redisRunIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	deleted, err := s.client.Del(ctx, redisRunKeyPrefix+runID).Result()
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if deleted == 0 {
		return ErrRunNotFound
	}
	if err := s.client.SRem(ctx, redisRunIndexKey, runID).Err(); err != nil {
		return fmt.Errorf("unindex run %s: %w", runID, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
