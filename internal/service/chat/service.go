package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

var (
	ErrRoleRequired    = errors.New("role id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Service manages the session registry. Message history lives in the
// memory store, not here.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewService bootstraps the in-memory session registry.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
	}
}

// CreateSession provisions an anonymous session bound to a role.
func (s *Service) CreateSession(_ context.Context, roleID string) (chat.Session, error) {
	if roleID == "" {
		return chat.Session{}, ErrRoleRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		RoleID:    roleID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// DropSession removes a session from the registry. Missing sessions are
// not an error so history clears stay idempotent.
func (s *Service) DropSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
