package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipSource resolves roles from organization membership records.
// This is the primary source: an explicit membership row is the
// authoritative statement of an actor's role.
type MembershipSource struct {
	pool *pgxpool.Pool
}

func NewMembershipSource(pool *pgxpool.Pool) *MembershipSource {
	return &MembershipSource{pool: pool}
}

func (s *MembershipSource) RoleOf(ctx context.Context, actorID, orgID uuid.UUID) (Role, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM org_members WHERE user_id = $1 AND org_id = $2`,
		actorID, orgID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoRole
	}
	if err != nil {
		return "", fmt.Errorf("membership lookup: %w", err)
	}
	if role == "" {
		return "", ErrNoRole
	}
	return Role(role), nil
}

// ProfileSource resolves roles from profile records scoped to an
// organization. Tenants are sometimes tracked only this way, so the
// gate consults it after membership.
type ProfileSource struct {
	pool *pgxpool.Pool
}

func NewProfileSource(pool *pgxpool.Pool) *ProfileSource {
	return &ProfileSource{pool: pool}
}

func (s *ProfileSource) RoleOf(ctx context.Context, actorID, orgID uuid.UUID) (Role, error) {
	var role *string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM profiles WHERE id = $1 AND org_id = $2`,
		actorID, orgID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoRole
	}
	if err != nil {
		return "", fmt.Errorf("profile lookup: %w", err)
	}
	if role == nil || *role == "" {
		return "", ErrNoRole
	}
	return Role(*role), nil
}
