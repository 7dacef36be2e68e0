package store

import (
	"context"
	"sync"
	"time"

	"debtgate/internal/invite"
	"debtgate/pkg/platform/sentinel"
)

// letterRecord is one case-letter row: identity plus an optional invitation.
type letterRecord struct {
	letterID       string
	caseID         string
	organizationID string
	invitation     *invite.Invitation
}

// MemoryStore mirrors PostgresStore for unit tests and local runs. The mutex
// stands in for the database's row-level atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	letters map[string]*letterRecord
	byToken map[string]string // tokenID -> letterID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		letters: make(map[string]*letterRecord),
		byToken: make(map[string]string),
	}
}

// SeedLetter registers a case-letter row so invitations can attach to it.
func (s *MemoryStore) SeedLetter(letterID, caseID, organizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters[letterID] = &letterRecord{
		letterID:       letterID,
		caseID:         caseID,
		organizationID: organizationID,
	}
}

func (s *MemoryStore) FindLetter(_ context.Context, letterID string) (*invite.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.letters[letterID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &invite.Letter{
		ID:             rec.letterID,
		CaseID:         rec.caseID,
		OrganizationID: rec.organizationID,
		Invitation:     cloneInvitation(rec.invitation),
	}, nil
}

func (s *MemoryStore) FindByTokenID(_ context.Context, tokenID string) (*invite.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	letterID, ok := s.byToken[tokenID]
	if !ok {
		return nil, nil
	}
	rec := s.letters[letterID]
	if rec == nil || rec.invitation == nil || rec.invitation.TokenID != tokenID {
		return nil, nil
	}
	return cloneInvitation(rec.invitation), nil
}

func (s *MemoryStore) CreateIfInactive(_ context.Context, inv *invite.Invitation, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.letters[inv.LetterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cur := rec.invitation; cur != nil && cur.StatusAt(now) == invite.StatusActive {
		return sentinel.ErrConflict
	}
	stored := cloneInvitation(inv)
	stored.CaseID = rec.caseID
	stored.OrganizationID = rec.organizationID
	stored.UsageCount = 0
	stored.RevokedAt = nil
	rec.invitation = stored
	s.byToken[inv.TokenID] = inv.LetterID
	return nil
}

func (s *MemoryStore) RedeemAtomic(_ context.Context, tokenID string, now time.Time) (*invite.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	letterID, ok := s.byToken[tokenID]
	if !ok {
		return nil, sentinel.ErrInvalidState
	}
	rec := s.letters[letterID]
	if rec == nil || rec.invitation == nil || rec.invitation.TokenID != tokenID {
		return nil, sentinel.ErrInvalidState
	}
	inv := rec.invitation
	if inv.StatusAt(now) != invite.StatusActive {
		return nil, sentinel.ErrInvalidState
	}
	inv.UsageCount++
	return cloneInvitation(inv), nil
}

func (s *MemoryStore) RevokeAtomic(_ context.Context, letterID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.letters[letterID]
	if !ok || rec.invitation == nil || rec.invitation.RevokedAt != nil {
		return sentinel.ErrInvalidState
	}
	t := now
	rec.invitation.RevokedAt = &t
	return nil
}

func cloneInvitation(inv *invite.Invitation) *invite.Invitation {
	if inv == nil {
		return nil
	}
	out := *inv
	if inv.RevokedAt != nil {
		t := *inv.RevokedAt
		out.RevokedAt = &t
	}
	out.EncryptedPayload = append([]byte(nil), inv.EncryptedPayload...)
	return &out
}
