package keystore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore keeps keys for the life of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Put(_ context.Context, userID, key string) error {
	userID, key, err := normalize(userID, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = Record{UserID: userID, Key: key, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[strings.TrimSpace(userID)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, strings.TrimSpace(userID))
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
