package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	ownerID   string
	token     string
	expiresAt time.Time
}

// MemoryStore is a single-process Store for tests and one-shot CLI runs.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]*lease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[string]*lease)}
}

func (s *MemoryStore) Acquire(_ context.Context, jobName, ownerID, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, ok := s.leases[jobName]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	s.leases[jobName] = &lease{ownerID: ownerID, token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Refresh(_ context.Context, jobName, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[jobName]
	if !ok || l.token != token {
		return false, nil
	}
	l.expiresAt = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, jobName, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[jobName]; ok && l.token == token {
		delete(s.leases, jobName)
	}
	return nil
}

func (s *MemoryStore) Owner(_ context.Context, jobName string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[jobName]
	if !ok || !time.Now().Before(l.expiresAt) {
		return "", false, nil
	}
	return l.ownerID, true, nil
}
