package collections

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key so the store can share a redis database
// with other tenants.
const keyPrefix = "agentrun:"

type redisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by the redis server at addr. Every
// worker pointed at the same server observes the same collections, which
// is what makes multi-worker deployments safe.
func NewRedisStore(addr, password string, db int) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) Queue(name string) Queue {
	return &redisQueue{client: s.client, key: keyPrefix + "queue:" + name}
}

func (s *redisStore) Set(name string) Set {
	return &redisSet{client: s.client, key: keyPrefix + "set:" + name}
}

func (s *redisStore) Map(name string) Map {
	return &redisMap{client: s.client, key: keyPrefix + "map:" + name}
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

type redisQueue struct {
	client *redis.Client
	key    string
}

func (q *redisQueue) Push(ctx context.Context, val string) error {
	if err := q.client.RPush(ctx, q.key, val).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", q.key, err)
	}
	return nil
}

func (q *redisQueue) Pop(ctx context.Context) (string, bool, error) {
	val, err := q.client.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to pop from queue %s: %w", q.key, err)
	}
	return val, true, nil
}

func (q *redisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length %s: %w", q.key, err)
	}
	return int(n), nil
}

type redisSet struct {
	client *redis.Client
	key    string
}

// Add relies on SADD's return value for atomic test-and-set: 1 means this
// call inserted the member, 0 means another worker got there first.
func (s *redisSet) Add(ctx context.Context, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, s.key, member).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add to set %s: %w", s.key, err)
	}
	return n == 1, nil
}

func (s *redisSet) Remove(ctx context.Context, member string) error {
	if err := s.client.SRem(ctx, s.key, member).Err(); err != nil {
		return fmt.Errorf("failed to remove from set %s: %w", s.key, err)
	}
	return nil
}

func (s *redisSet) Contains(ctx context.Context, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, member).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check set %s: %w", s.key, err)
	}
	return ok, nil
}

func (s *redisSet) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read set size %s: %w", s.key, err)
	}
	return int(n), nil
}

type redisMap struct {
	client *redis.Client
	key    string
}

func (m *redisMap) Set(ctx context.Context, key, val string) error {
	if err := m.client.HSet(ctx, m.key, key, val).Err(); err != nil {
		return fmt.Errorf("failed to set map entry %s/%s: %w", m.key, key, err)
	}
	return nil
}

func (m *redisMap) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := m.client.HGet(ctx, m.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get map entry %s/%s: %w", m.key, key, err)
	}
	return val, true, nil
}

func (m *redisMap) Delete(ctx context.Context, key string) error {
	if err := m.client.HDel(ctx, m.key, key).Err(); err != nil {
		return fmt.Errorf("failed to delete map entry %s/%s: %w", m.key, key, err)
	}
	return nil
}

func (m *redisMap) Keys(ctx context.Context) ([]string, error) {
	keys, err := m.client.HKeys(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list map keys %s: %w", m.key, err)
	}
	return keys, nil
}

func (m *redisMap) Len(ctx context.Context) (int, error) {
	n, err := m.client.HLen(ctx, m.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read map size %s: %w", m.key, err)
	}
	return int(n), nil
}
