package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisLister interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisEmitter appends each output, JSON encoded, to a Redis list.
type RedisEmitter[O any] struct {
	client redisLister
	key    string
}

func NewRedisEmitter[O any](client redisLister, key string) (*RedisEmitter[O], error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if key == "" {
		return nil, errors.New("redis list key is required")
	}
	return &RedisEmitter[O]{client: client, key: key}, nil
}

func (e *RedisEmitter[O]) Emit(ctx context.Context, out O) error {
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if err := e.client.RPush(ctx, e.key, b).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", e.key, err)
	}
	return nil
}
