package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/ragflow/common/cache"
	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/workflow"
)

// localTTL bounds the in-process copy of a stored execution. Executions
// are only written after they finish, so the payload is immutable and a
// short local window is safe.
const localTTL = time.Minute

// RedisStore keeps finished execution contexts in Redis with a TTL, so
// status lookups survive after the engine drops an execution from its
// live map. A small in-process cache fronts Redis for the common case
// of a client polling right after submission. Implements
// providers.Persistence.
type RedisStore struct {
	client *redis.Client
	local  cache.Cache
	log    *logger.Logger
	ttl    time.Duration
}

// NewRedisStore connects a Redis client and verifies it
func NewRedisStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("redis execution store connected", "addr", cfg.Redis.Addr)

	return &RedisStore{
		client: client,
		local:  cache.NewMemoryCache(),
		log:    log,
		ttl:    cfg.Redis.TTL,
	}, nil
}

// Client exposes the underlying connection for components that share it
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func executionKey(executionID string) string {
	return "execution:" + executionID
}

// SaveExecution stores the execution context JSON under its id
func (s *RedisStore) SaveExecution(ctx context.Context, ec *workflow.ExecutionContext, tenantID, executorID string, debug, parallel bool) error {
	payload, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	if err := s.client.Set(ctx, executionKey(ec.ExecutionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store execution: %w", err)
	}

	s.local.Set(ctx, ec.ExecutionID, payload, localTTL)
	return nil
}

// GetExecution loads a stored execution context, or nil when absent
func (s *RedisStore) GetExecution(ctx context.Context, executionID string) (*workflow.ExecutionContext, error) {
	if payload, hit, _ := s.local.Get(ctx, executionID); hit {
		return decodeExecution(payload)
	}

	payload, err := s.client.Get(ctx, executionKey(executionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	s.local.Set(ctx, executionID, []byte(payload), localTTL)
	return decodeExecution([]byte(payload))
}

func decodeExecution(payload []byte) (*workflow.ExecutionContext, error) {
	var ec workflow.ExecutionContext
	if err := json.Unmarshal(payload, &ec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &ec, nil
}

// Close closes the local cache and the Redis client
func (s *RedisStore) Close() error {
	s.local.Close()
	return s.client.Close()
}
