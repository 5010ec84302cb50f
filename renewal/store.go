package renewal

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the renewal does not exist.
	ErrNotFound = errors.New("renewal not found")

	// ErrConflict means a status precondition no longer holds. The
	// caller should refetch state; retrying the same transition will
	// not succeed.
	ErrConflict = errors.New("renewal status conflict")
)

// Store persists renewals. Status moves only through Transition, which
// is compare-and-set: the update applies only if the stored status
// still equals the expected one, so concurrent signers race to exactly
// one winner.
type Store interface {
	// Create persists a new renewal in the created status.
	Create(ctx context.Context, r *Renewal) error

	// Get returns the renewal by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Renewal, error)

	// Transition advances the renewal from the expected status to the
	// next one and sets the stage document pointer in the same write.
	// It returns ErrConflict when the stored status differs from
	// expected, and ErrNotFound when the renewal does not exist.
	Transition(ctx context.Context, id uuid.UUID, expected Status, docPath string) (*Renewal, error)
}

// EventStore is the append-only audit trail. Events are never updated
// or deleted.
type EventStore interface {
	// Append records one audit event.
	Append(ctx context.Context, e *Event) error

	// List returns the renewal's events oldest first.
	List(ctx context.Context, renewalID uuid.UUID) ([]Event, error)
}
