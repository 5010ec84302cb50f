// Package authz resolves an actor's role within an organization and
// gates operations on a role allow-list.
//
// Roles can come from more than one backing record. The gate consults
// its sources in a single fixed order and the first source that yields
// a usable role wins; later sources are never allowed to override an
// earlier answer.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is an actor's function within an organization.
type Role string

const (
	RoleTenant    Role = "tenant"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
	RoleCaretaker Role = "caretaker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RoleManager, RoleAdmin, RoleCaretaker:
		return true
	}
	return false
}

var (
	// ErrUnauthenticated means the actor's identity could not be
	// established in the organization at all.
	ErrUnauthenticated = errors.New("actor identity can not be established")

	// ErrForbidden means the actor was resolved but their role is not
	// in the allow-list for the requested operation.
	ErrForbidden = errors.New("actor role is not authorized for this operation")

	// ErrNoRole is returned by a Source that holds no usable role for
	// the actor. The gate then moves on to the next source.
	ErrNoRole = errors.New("no role recorded for actor")
)

// Source yields an actor's role in an organization from one backing
// record. A source that has no answer returns ErrNoRole; any other
// error aborts resolution.
type Source interface {
	RoleOf(ctx context.Context, actorID, orgID uuid.UUID) (Role, error)
}

// Gate resolves roles through an ordered source chain and enforces
// allow-lists.
type Gate struct {
	sources []Source
}

// NewGate returns a gate consulting sources in the given order.
func NewGate(sources ...Source) *Gate {
	return &Gate{sources: sources}
}

// Resolve returns the actor's role in the organization, trying each
// source in order and taking the first usable answer.
func (g *Gate) Resolve(ctx context.Context, actorID, orgID uuid.UUID) (Role, error) {
	if actorID == uuid.Nil {
		return "", ErrUnauthenticated
	}
	for _, src := range g.sources {
		role, err := src.RoleOf(ctx, actorID, orgID)
		if errors.Is(err, ErrNoRole) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !role.Valid() {
			return "", fmt.Errorf("%w: source yielded unknown role %q", ErrUnauthenticated, role)
		}
		return role, nil
	}
	return "", ErrUnauthenticated
}

// RequireRole resolves the actor's role and checks it against the
// allow-list. It returns the resolved role so callers can audit which
// capacity the actor acted in.
func (g *Gate) RequireRole(ctx context.Context, actorID, orgID uuid.UUID, allowed ...Role) (Role, error) {
	role, err := g.Resolve(ctx, actorID, orgID)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if role == a {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: role %s", ErrForbidden, role)
}
