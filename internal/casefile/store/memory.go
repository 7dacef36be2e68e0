package store

import (
	"context"
	"sync"
	"time"

	"debtgate/internal/casefile"
	"debtgate/pkg/platform/sentinel"
)

// MemoryStore mirrors PostgresStore for unit tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	cases map[string]*casefile.Case
}

func NewMemory() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*casefile.Case)}
}

// SeedCase registers a case record.
func (s *MemoryStore) SeedCase(c *casefile.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = cloneCase(c)
}

func (s *MemoryStore) Find(_ context.Context, caseID string) (*casefile.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCase(c), nil
}

func (s *MemoryStore) RecordFailureAtomic(_ context.Context, caseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	c.VerificationAttempts++
	return c.VerificationAttempts, nil
}

func (s *MemoryStore) ApplyLockAtomic(_ context.Context, caseID string, lockedUntil time.Time, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return false, nil
	}
	if c.VerificationAttempts < threshold {
		return false, nil
	}
	if c.VerificationLockedUntil != nil && time.Now().Before(*c.VerificationLockedUntil) {
		return false, nil
	}
	t := lockedUntil
	c.VerificationLockedUntil = &t
	return true, nil
}

func (s *MemoryStore) ResetVerification(_ context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cases[caseID]; ok {
		c.VerificationAttempts = 0
		c.VerificationLockedUntil = nil
	}
	return nil
}

func (s *MemoryStore) LinkDebtor(_ context.Context, caseID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.DebtorUserID != nil {
		return sentinel.ErrConflict
	}
	id := userID
	c.DebtorUserID = &id
	return nil
}

func cloneCase(c *casefile.Case) *casefile.Case {
	out := *c
	if c.VerificationLockedUntil != nil {
		t := *c.VerificationLockedUntil
		out.VerificationLockedUntil = &t
	}
	if c.DebtorUserID != nil {
		id := *c.DebtorUserID
		out.DebtorUserID = &id
	}
	return &out
}
