package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type errorSource struct{ err error }

func (s errorSource) RoleOf(context.Context, uuid.UUID, uuid.UUID) (Role, error) {
	return "", s.err
}

func TestGateResolveOrder(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()
	org := uuid.New()

	membership := NewStatic()
	profile := NewStatic()
	gate := NewGate(membership, profile)

	// No source knows the actor.
	if _, err := gate.Resolve(ctx, actor, org); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Resolve unknown actor = %v, want ErrUnauthenticated", err)
	}

	// Only the secondary source knows the actor.
	profile.Grant(actor, org, RoleTenant)
	role, err := gate.Resolve(ctx, actor, org)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if role != RoleTenant {
		t.Errorf("Resolve = %s, want tenant", role)
	}

	// A membership answer takes precedence over the profile.
	membership.Grant(actor, org, RoleManager)
	role, err = gate.Resolve(ctx, actor, org)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if role != RoleManager {
		t.Errorf("Resolve = %s, want manager", role)
	}
}

func TestGateResolveScopedToOrg(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()
	orgA := uuid.New()
	orgB := uuid.New()

	src := NewStatic()
	src.Grant(actor, orgA, RoleManager)
	gate := NewGate(src)

	if _, err := gate.Resolve(ctx, actor, orgB); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Resolve in foreign org = %v, want ErrUnauthenticated", err)
	}
}

func TestGateSourceErrorAborts(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()
	org := uuid.New()

	backendErr := errors.New("backend down")
	fallback := NewStatic()
	fallback.Grant(actor, org, RoleManager)
	gate := NewGate(errorSource{err: backendErr}, fallback)

	if _, err := gate.Resolve(ctx, actor, org); !errors.Is(err, backendErr) {
		t.Errorf("Resolve = %v, want backend error to abort resolution", err)
	}
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()
	org := uuid.New()

	src := NewStatic()
	src.Grant(actor, org, RoleCaretaker)
	gate := NewGate(src)

	if _, err := gate.RequireRole(ctx, actor, org, RoleManager, RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Errorf("RequireRole caretaker = %v, want ErrForbidden", err)
	}

	role, err := gate.RequireRole(ctx, actor, org, RoleCaretaker)
	if err != nil {
		t.Fatalf("RequireRole: %v", err)
	}
	if role != RoleCaretaker {
		t.Errorf("RequireRole = %s, want caretaker", role)
	}

	if _, err := gate.RequireRole(ctx, uuid.Nil, org, RoleManager); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("RequireRole nil actor = %v, want ErrUnauthenticated", err)
	}
}
