// Package redisstore is the Redis-backed kv.Store.
package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Store persists keys under a namespace prefix with no TTL; the controller
// owns key lifecycle explicitly.
type Store struct {
	rdb   *redis.Client
	keyNS string
}

// New creates a Store. An empty keyPrefix defaults to "adkit:".
func New(rdb *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "adkit:"
	}
	return &Store{rdb: rdb, keyNS: keyPrefix}
}

func (s *Store) key(k string) string { return s.keyNS + k }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}
