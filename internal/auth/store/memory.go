package store

import (
	"context"
	"strings"
	"sync"

	"debtgate/internal/auth"
	"debtgate/pkg/platform/sentinel"
)

// MemoryUserStore mirrors PostgresUserStore for unit tests and local runs.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]*auth.User
	byEmail map[string]*auth.User
}

func NewMemoryUsers() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*auth.User),
		byEmail: make(map[string]*auth.User),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, exists := s.byEmail[key]; exists {
		return sentinel.ErrConflict
	}
	u := *user
	s.byID[user.ID] = &u
	s.byEmail[key] = &u
	return nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *u
	return &out, nil
}

// MemoryProfileStore mirrors PostgresProfileStore.
type MemoryProfileStore struct {
	mu     sync.Mutex
	byCase map[string]*auth.DebtorProfile
}

func NewMemoryProfiles() *MemoryProfileStore {
	return &MemoryProfileStore{byCase: make(map[string]*auth.DebtorProfile)}
}

func (s *MemoryProfileStore) Create(_ context.Context, profile *auth.DebtorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCase[profile.CaseID]; exists {
		return sentinel.ErrConflict
	}
	p := *profile
	s.byCase[profile.CaseID] = &p
	return nil
}

func (s *MemoryProfileStore) FindByCase(_ context.Context, caseID string) (*auth.DebtorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byCase[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *p
	return &out, nil
}

// MemorySessionStore mirrors PostgresSessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func NewMemorySessions() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*auth.Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := *session
	s.sessions[session.ID] = &sess
	return nil
}

func (s *MemorySessionStore) FindByID(_ context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *sess
	return &out, nil
}
