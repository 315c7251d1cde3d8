package cachert

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store keeps encoded results by key. Get reports a miss with ok == false
// and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type lruEntry struct {
	value   []byte
	expires time.Time
}

// LRUStore is an in-process Store bounded by entry count. Entries expire
// after their own TTL or the store TTL, whichever comes first.
type LRUStore struct {
	cache *expirable.LRU[string, lruEntry]
	now   func() time.Time
}

var _ Store = (*LRUStore)(nil)

// NewLRUStore creates an LRUStore holding at most size entries, none kept
// longer than maxTTL.
func NewLRUStore(size int, maxTTL time.Duration) *LRUStore {
	return &LRUStore{
		cache: expirable.NewLRU[string, lruEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.cache.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *LRUStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
	return nil
}

func (s *LRUStore) Len() int { return s.cache.Len() }

// RedisStore is a Store shared between processes through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore stores entries under prefix + key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}
