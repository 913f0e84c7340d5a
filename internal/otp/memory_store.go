package otp

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	hash      string
	expiresAt time.Time
}

// MemoryStore keeps hashed codes in process memory. Expired entries are
// swept on access; the store is built at startup and owned by the otp
// service, never shared as a package global.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) SaveCode(_ context.Context, phone, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = memoryEntry{hash: hash, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetCode(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[phone]
	if !ok {
		return "", ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.codes, phone)
		return "", ErrNotFound
	}
	return entry.hash, nil
}

func (s *MemoryStore) DeleteCode(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, phone)
	return nil
}
