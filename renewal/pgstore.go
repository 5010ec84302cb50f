package renewal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the tables backing PgStore. Renewals are never deleted
// and events are append-only.
const Schema = `
CREATE TABLE IF NOT EXISTS renewals (
	id                UUID PRIMARY KEY,
	org_id            UUID NOT NULL,
	lease_id          UUID NOT NULL,
	tenant_id         UUID NOT NULL,
	status            TEXT NOT NULL,
	unsigned_path     TEXT NOT NULL,
	tenant_signed_path TEXT,
	fully_signed_path  TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS renewal_events (
	id         UUID PRIMARY KEY,
	renewal_id UUID NOT NULL REFERENCES renewals (id),
	org_id     UUID NOT NULL,
	actor_id   UUID,
	action     TEXT NOT NULL,
	metadata   JSONB,
	client_ip  TEXT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS renewal_events_renewal_id_idx
	ON renewal_events (renewal_id, created_at);
`

// PgStore persists renewals and audit events in PostgreSQL. Status
// transitions use a conditional update keyed on the expected status so
// concurrent signers resolve to exactly one winner without row locks
// held across the signing work.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, r *Renewal) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO renewals (id, org_id, lease_id, tenant_id, status, unsigned_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		r.ID, r.OrgID, r.LeaseID, r.TenantID, StatusCreated, r.UnsignedPath,
	)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("insert renewal: %w", err)
	}
	r.Status = StatusCreated
	return nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Renewal, error) {
	r := &Renewal{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, lease_id, tenant_id, status,
		       unsigned_path, tenant_signed_path, fully_signed_path,
		       created_at, updated_at
		FROM renewals WHERE id = $1`,
		id,
	).Scan(
		&r.ID, &r.OrgID, &r.LeaseID, &r.TenantID, &r.Status,
		&r.UnsignedPath, &r.TenantSignedPath, &r.FullySignedPath,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select renewal: %w", err)
	}
	return r, nil
}

func (s *PgStore) Transition(ctx context.Context, id uuid.UUID, expected Status, docPath string) (*Renewal, error) {
	next, ok := expected.Next()
	if !ok {
		return nil, fmt.Errorf("%w: no transition out of %s", ErrConflict, expected)
	}

	var pathColumn string
	switch next {
	case StatusTenantSigned:
		pathColumn = "tenant_signed_path"
	case StatusFullySigned:
		pathColumn = "fully_signed_path"
	default:
		return nil, fmt.Errorf("%w: no document pointer for %s", ErrConflict, next)
	}

	r := &Renewal{}
	// The WHERE clause carries the compare-and-set: zero rows updated
	// means another transition got there first or the row is gone.
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE renewals
		SET status = $1, %s = $2, updated_at = now()
		WHERE id = $3 AND status = $4
		RETURNING id, org_id, lease_id, tenant_id, status,
		          unsigned_path, tenant_signed_path, fully_signed_path,
		          created_at, updated_at`, pathColumn),
		next, docPath, id, expected,
	).Scan(
		&r.ID, &r.OrgID, &r.LeaseID, &r.TenantID, &r.Status,
		&r.UnsignedPath, &r.TenantSignedPath, &r.FullySignedPath,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: status moved past %s", ErrConflict, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("update renewal: %w", err)
	}
	return r, nil
}

func (s *PgStore) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var metadata []byte
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO renewal_events (id, renewal_id, org_id, actor_id, action, metadata, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		e.ID, e.RenewalID, e.OrgID, e.ActorID, e.Action, metadata, nullable(e.ClientIP), nullable(e.UserAgent),
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, renewalID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, renewal_id, org_id, actor_id, action, metadata, client_ip, user_agent, created_at
		FROM renewal_events
		WHERE renewal_id = $1
		ORDER BY created_at, id`,
		renewalID,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			metadata []byte
			clientIP *string
			agent    *string
		)
		if err := rows.Scan(&e.ID, &e.RenewalID, &e.OrgID, &e.ActorID, &e.Action, &metadata, &clientIP, &agent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		if clientIP != nil {
			e.ClientIP = *clientIP
		}
		if agent != nil {
			e.UserAgent = *agent
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
