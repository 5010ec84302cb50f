package authz

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memberKey struct {
	actorID uuid.UUID
	orgID   uuid.UUID
}

// Static is an in-memory Source for tests and local development.
type Static struct {
	mu    sync.RWMutex
	roles map[memberKey]Role
}

func NewStatic() *Static {
	return &Static{roles: map[memberKey]Role{}}
}

// Grant records the actor's role in the organization, replacing any
// previous grant.
func (s *Static) Grant(actorID, orgID uuid.UUID, role Role) {
	s.mu.Lock()
	s.roles[memberKey{actorID, orgID}] = role
	s.mu.Unlock()
}

func (s *Static) RoleOf(_ context.Context, actorID, orgID uuid.UUID) (Role, error) {
	s.mu.RLock()
	role, ok := s.roles[memberKey{actorID, orgID}]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNoRole
	}
	return role, nil
}
