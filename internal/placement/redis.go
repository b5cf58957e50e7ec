package placement

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Each placement entry is a string
// key; a parallel set per server address lets CleanServer find every
// object hosted by a dead server without a full key scan.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Store            = (*RedisStore)(nil)
	_ ConditionalStore = (*RedisStore)(nil)
)

// NewRedisStore wraps an already-connected redis client. prefix namespaces
// every key this store touches, so a single Redis instance can back
// multiple grain clusters.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grain:placement"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) objectKey(id objectid.ID) string {
	return fmt.Sprintf("%s:obj:%s:%s", s.prefix, id.Kind, id.ID)
}

func (s *RedisStore) serverSetKey(addr objectid.Address) string {
	return fmt.Sprintf("%s:srv:%s", s.prefix, addr)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, id objectid.ID, addr fn.Option[objectid.Address]) error {
	if addr.IsNone() {
		return s.Remove(ctx, id)
	}
	newAddr := addr.UnwrapOr("")

	// Clear any stale server-set membership left from a previous
	// placement before writing the new one.
	if err := s.Remove(ctx, id); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.objectKey(id), string(newAddr), 0)
	pipe.SAdd(ctx, s.serverSetKey(newAddr), s.objectKey(id))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("placement: redis update: %w", err)
	}
	return nil
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, id objectid.ID) (fn.Option[objectid.Address], error) {
	addr, err := s.client.Get(ctx, s.objectKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return fn.None[objectid.Address](), nil
	}
	if err != nil {
		return fn.None[objectid.Address](), fmt.Errorf("placement: redis lookup: %w", err)
	}

	return fn.Some(objectid.Address(addr)), nil
}

// CleanServer implements Store. It removes every key tracked in addr's
// server set, then the set itself, as one pipelined batch rather than a
// SCAN over the whole keyspace.
func (s *RedisStore) CleanServer(ctx context.Context, addr objectid.Address) error {
	setKey := s.serverSetKey(addr)

	keys, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("placement: redis clean_server smembers: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, setKey)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("placement: redis clean_server: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, id objectid.ID) error {
	key := s.objectKey(id)

	addr, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("placement: redis remove get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.serverSetKey(objectid.Address(addr)), key)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("placement: redis remove: %w", err)
	}
	return nil
}

// UpdateIfAbsent implements ConditionalStore via Redis's SETNX, which
// atomically combines the existence check and the claim.
func (s *RedisStore) UpdateIfAbsent(ctx context.Context, id objectid.ID, addr objectid.Address) (bool, error) {
	key := s.objectKey(id)

	ok, err := s.client.SetNX(ctx, key, string(addr), 0).Result()
	if err != nil {
		return false, fmt.Errorf("placement: redis setnx: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := s.client.SAdd(ctx, s.serverSetKey(addr), key).Err(); err != nil {
		return false, fmt.Errorf("placement: redis setnx sadd: %w", err)
	}
	return true, nil
}
