package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, one key per (kind, id, stateName).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an already-connected redis client. prefix namespaces
// every key this store touches.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grain:state"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(kind, id, stateName string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, kind, id, stateName)
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, kind, id, stateName string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(kind, id, stateName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: redis load: %w", err)
	}
	return data, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, kind, id, stateName string, data []byte) error {
	if err := s.client.Set(ctx, s.key(kind, id, stateName), data, 0).Err(); err != nil {
		return fmt.Errorf("statestore: redis save: %w", err)
	}
	return nil
}
