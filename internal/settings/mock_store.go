package settings

import (
	"context"
	"strconv"
	"sync"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMockStore() *MockStore {
	return &MockStore{values: make(map[string]string)}
}

func (s *MockStore) Get(_ context.Context, key, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

func (s *MockStore) GetInt(ctx context.Context, key string, fallback int) int {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (s *MockStore) GetBool(ctx context.Context, key string, fallback bool) bool {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (s *MockStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}
