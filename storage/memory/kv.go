// Package memorystore is the in-memory kv.Store. It backs tests and
// single-session use where persistence across restarts is not needed.
package memorystore

import (
	"context"
	"sync"
)

// Store is a map-backed kv.Store.
type Store struct {
	mu   sync.Mutex
	data map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
