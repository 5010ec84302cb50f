// Package renewal implements the lease renewal signing workflow: a
// strictly ordered two-party signing protocol over a stored PDF, with
// role-gated transitions and an append-only audit trail.
package renewal

import (
	"time"

	"github.com/google/uuid"
)

// Status is the signing state of a renewal. Statuses are monotonic:
// created -> tenant_signed -> fully_signed. A renewal never regresses.
type Status string

const (
	// StatusCreated is the initial state; only the unsigned document exists.
	StatusCreated Status = "created"
	// StatusTenantSigned indicates the tenant's signature has been applied.
	StatusTenantSigned Status = "tenant_signed"
	// StatusFullySigned is the terminal state; both parties have signed.
	StatusFullySigned Status = "fully_signed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusTenantSigned, StatusFullySigned:
		return true
	}
	return false
}

// Next returns the status that follows s in the signing order.
// ok is false for the terminal status.
func (s Status) Next() (next Status, ok bool) {
	switch s {
	case StatusCreated:
		return StatusTenantSigned, true
	case StatusTenantSigned:
		return StatusFullySigned, true
	}
	return "", false
}

// Renewal is one lease renewal signing cycle. Document pointers are
// storage object paths, never inline blobs. A pointer, once set, is
// immutable; re-signing produces a new renewal, not a path overwrite.
type Renewal struct {
	ID       uuid.UUID
	OrgID    uuid.UUID
	LeaseID  uuid.UUID
	TenantID uuid.UUID

	Status Status

	UnsignedPath     string
	TenantSignedPath *string
	FullySignedPath  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one append-only audit record. Events are write-once and
// ordered by creation time; they outlive interest in the renewal itself.
type Event struct {
	ID        uuid.UUID
	RenewalID uuid.UUID
	OrgID     uuid.UUID

	// ActorID is nil for system-initiated events.
	ActorID *uuid.UUID

	Action   string
	Metadata map[string]any

	ClientIP  string
	UserAgent string

	CreatedAt time.Time
}

// Audit action labels.
const (
	ActionRenewalCreated    = "renewal_created"
	ActionTenantSigned      = "tenant_signed"
	ActionManagerSigned     = "manager_signed"
	ActionTenantSignDenied  = "tenant_sign_denied"
	ActionManagerSignDenied = "manager_sign_denied"
)

// Actor identifies the caller of an operation together with the request
// metadata recorded in the audit trail.
type Actor struct {
	ID        uuid.UUID
	ClientIP  string
	UserAgent string
}

// RenewalWithEvents bundles a renewal with its ordered audit trail.
type RenewalWithEvents struct {
	Renewal *Renewal
	Events  []Event
}

// Links holds time-limited signed download URLs for each document stage.
// Stages not yet produced are empty strings.
type Links struct {
	Unsigned     string
	TenantSigned string
	FullySigned  string
	ExpiresIn    time.Duration
}
