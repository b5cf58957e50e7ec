package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Each member is one JSON-encoded
// string key per address, indexed by a set of addresses; failures are a
// bounded, time-ordered list per address via LPUSH + LTRIM.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an already-connected redis client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grain:membership"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) membersKey() string {
	return s.prefix + ":members"
}

func (s *RedisStore) memberKey(addr string) string {
	return s.prefix + ":member:" + addr
}

func (s *RedisStore) failuresKey(addr string) string {
	return s.prefix + ":failures:" + addr
}

// Push implements Store.
func (s *RedisStore) Push(ctx context.Context, member Member) error {
	if member.LastSeen.IsZero() {
		member.LastSeen = time.Now()
	}

	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("membership: redis push marshal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.membersKey(), member.Addr)
	pipe.Set(ctx, s.memberKey(member.Addr), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("membership: redis push: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, addr string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.membersKey(), addr)
	pipe.Del(ctx, s.memberKey(addr))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("membership: redis remove: %w", err)
	}
	return nil
}

// SetActive implements Store.
func (s *RedisStore) SetActive(ctx context.Context, addr string, active bool) error {
	member, ok, err := s.getMember(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	member.Active = active
	member.LastSeen = time.Now()

	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("membership: redis set_active marshal: %w", err)
	}

	if err := s.client.Set(ctx, s.memberKey(addr), data, 0).Err(); err != nil {
		return fmt.Errorf("membership: redis set_active: %w", err)
	}
	return nil
}

func (s *RedisStore) getMember(ctx context.Context, addr string) (Member, bool, error) {
	data, err := s.client.Get(ctx, s.memberKey(addr)).Bytes()
	if err == redis.Nil {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("membership: redis get member: %w", err)
	}

	var member Member
	if err := json.Unmarshal(data, &member); err != nil {
		return Member{}, false, fmt.Errorf("membership: redis unmarshal member: %w", err)
	}
	return member, true, nil
}

// Members implements Store.
func (s *RedisStore) Members(ctx context.Context) ([]Member, error) {
	addrs, err := s.client.SMembers(ctx, s.membersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("membership: redis members: %w", err)
	}

	members := make([]Member, 0, len(addrs))
	for _, addr := range addrs {
		member, ok, err := s.getMember(ctx, addr)
		if err != nil {
			return nil, err
		}
		if ok {
			members = append(members, member)
		}
	}
	return members, nil
}

// ActiveMembers implements Store.
func (s *RedisStore) ActiveMembers(ctx context.Context) ([]Member, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}

	active := members[:0]
	for _, m := range members {
		if m.Active {
			active = append(active, m)
		}
	}
	return active, nil
}

// IsActive implements Store.
func (s *RedisStore) IsActive(ctx context.Context, addr string) (bool, error) {
	member, ok, err := s.getMember(ctx, addr)
	if err != nil {
		return false, err
	}
	return ok && member.Active, nil
}

// NotifyFailure implements Store.
func (s *RedisStore) NotifyFailure(ctx context.Context, addr string) error {
	now, err := time.Now().MarshalBinary()
	if err != nil {
		return fmt.Errorf("membership: redis marshal failure timestamp: %w", err)
	}

	key := s.failuresKey(addr)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, now)
	pipe.LTrim(ctx, key, 0, MaxFailureHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("membership: redis notify_failure: %w", err)
	}
	return nil
}

// MemberFailures implements Store.
func (s *RedisStore) MemberFailures(ctx context.Context, addr string) ([]time.Time, error) {
	raw, err := s.client.LRange(ctx, s.failuresKey(addr), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("membership: redis member_failures: %w", err)
	}

	// LPush-ed entries come back newest-first; restore chronological
	// order to match the other backends.
	failures := make([]time.Time, len(raw))
	for i, entry := range raw {
		var t time.Time
		if err := t.UnmarshalBinary([]byte(entry)); err != nil {
			return nil, fmt.Errorf("membership: redis unmarshal failure timestamp: %w", err)
		}
		failures[len(raw)-1-i] = t
	}
	return failures, nil
}
