package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/havenpoint/leasesign/authz"
	"github.com/havenpoint/leasesign/docstore"
	"github.com/havenpoint/leasesign/sign"
)

// Signature field names. Each signing pass uses its own field so both
// signatures coexist in the document and verify independently.
const (
	TenantFieldName  = "TenantSignature"
	ManagerFieldName = "ManagerSignature"
)

// SignerProvider resolves the signing identity for a role. Resolution
// fails closed: a role without a complete configured identity yields an
// error instead of a partial signer.
type SignerProvider interface {
	SignerFor(role authz.Role) (sign.Signer, error)
}

// Service drives the renewal signing workflow. Every mutating
// operation authorizes the actor, performs the document work, commits
// the status transition by compare-and-set, and appends an audit
// event. Document state is written before the pointer commit so a
// failure at any step leaves the renewal unchanged and retryable.
type Service struct {
	store   Store
	events  EventStore
	docs    docstore.Store
	gate    *authz.Gate
	engine  *sign.Engine
	signers SignerProvider
	logger  *zap.Logger
}

func NewService(
	store Store,
	events EventStore,
	docs docstore.Store,
	gate *authz.Gate,
	engine *sign.Engine,
	signers SignerProvider,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		events:  events,
		docs:    docs,
		gate:    gate,
		engine:  engine,
		signers: signers,
		logger:  logger,
	}
}

// CreateParams carries the inputs for starting a renewal cycle.
type CreateParams struct {
	OrgID    uuid.UUID
	LeaseID  uuid.UUID
	TenantID uuid.UUID

	// Document is the unsigned lease document produced upstream.
	Document []byte
}

// Create starts a renewal cycle: it stores the unsigned document under
// the renewal's derived path and persists the renewal in the created
// status. Only managers and admins of the organization may initiate.
func (s *Service) Create(ctx context.Context, actor Actor, p CreateParams) (*Renewal, error) {
	role, err := s.gate.RequireRole(ctx, actor.ID, p.OrgID, authz.RoleManager, authz.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if len(p.Document) == 0 {
		return nil, fmt.Errorf("%w: empty document", sign.ErrMalformedPDF)
	}

	id := uuid.New()
	path, err := ObjectPath(p.OrgID, p.LeaseID, id, StageUnsigned)
	if err != nil {
		return nil, err
	}

	if err := s.docs.Upload(ctx, path, p.Document); err != nil {
		return nil, err
	}

	r := &Renewal{
		ID:           id,
		OrgID:        p.OrgID,
		LeaseID:      p.LeaseID,
		TenantID:     p.TenantID,
		UnsignedPath: path,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	s.audit(ctx, r, actor, ActionRenewalCreated, map[string]any{
		"role":          string(role),
		"unsigned_path": path,
	})
	return r, nil
}

// TenantSign applies the tenant's signature, advancing the renewal
// from created to tenant_signed. Only the renewal's own tenant may
// sign, and only while the renewal is still in the created status.
func (s *Service) TenantSign(ctx context.Context, actor Actor, renewalID uuid.UUID) (*Renewal, error) {
	r, err := s.store.Get(ctx, renewalID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gate.RequireRole(ctx, actor.ID, r.OrgID, authz.RoleTenant); err != nil {
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}
	if actor.ID != r.TenantID {
		err := fmt.Errorf("%w: actor is not this renewal's tenant", authz.ErrForbidden)
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}
	if r.Status != StatusCreated {
		err := fmt.Errorf("%w: status is %s", ErrConflict, r.Status)
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}

	signed, path, err := s.signStage(ctx, r, authz.RoleTenant, TenantFieldName, r.UnsignedPath, StageTenantSigned)
	if err != nil {
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}

	if err := s.docs.Upload(ctx, path, signed); err != nil {
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}

	updated, err := s.store.Transition(ctx, r.ID, StatusCreated, path)
	if err != nil {
		s.auditDenied(ctx, r, actor, ActionTenantSignDenied, err)
		return nil, err
	}

	s.audit(ctx, updated, actor, ActionTenantSigned, map[string]any{
		"tenant_signed_path": path,
		"field_name":         TenantFieldName,
	})
	return updated, nil
}

// ManagerSign applies the manager countersignature, advancing the
// renewal from tenant_signed to fully_signed. The signature is applied
// as an incremental update so the tenant's signature stays verifiable.
func (s *Service) ManagerSign(ctx context.Context, actor Actor, renewalID uuid.UUID) (*Renewal, error) {
	r, err := s.store.Get(ctx, renewalID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gate.RequireRole(ctx, actor.ID, r.OrgID, authz.RoleManager, authz.RoleAdmin); err != nil {
		s.auditDenied(ctx, r, actor, ActionManagerSignDenied, err)
		return nil, err
	}
	if r.Status != StatusTenantSigned {
		err := fmt.Errorf("%w: status is %s", ErrConflict, r.Status)
		s.auditDenied(ctx, r, actor, ActionManagerSignDenied, err)
		return nil, err
	}
	if r.TenantSignedPath == nil {
		return nil, fmt.Errorf("%w: tenant signed document pointer", ErrNotFound)
	}

	signed, path, err := s.signStage(ctx, r, authz.RoleManager, ManagerFieldName, *r.TenantSignedPath, StageFullySigned)
	if err != nil {
		s.auditDenied(ctx, r, actor, ActionManagerSignDenied, err)
		return nil, err
	}

	if err := s.docs.Upload(ctx, path, signed); err != nil {
		s.auditDenied(ctx, r, actor, ActionManagerSignDenied, err)
		return nil, err
	}

	updated, err := s.store.Transition(ctx, r.ID, StatusTenantSigned, path)
	if err != nil {
		s.auditDenied(ctx, r, actor, ActionManagerSignDenied, err)
		return nil, err
	}

	s.audit(ctx, updated, actor, ActionManagerSigned, map[string]any{
		"fully_signed_path": path,
		"field_name":        ManagerFieldName,
	})
	return updated, nil
}

// signStage downloads the source stage document, signs it with the
// role's identity and returns the signed bytes with their destination
// path. Nothing is persisted here.
func (s *Service) signStage(ctx context.Context, r *Renewal, role authz.Role, fieldName, srcPath string, dst Stage) ([]byte, string, error) {
	signer, err := s.signers.SignerFor(role)
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolve %s signing identity: %w", sign.ErrSigningFailure, role, err)
	}

	input, err := s.docs.Download(ctx, srcPath)
	if err != nil {
		return nil, "", err
	}

	signed, err := s.engine.Sign(input, signer, sign.Options{
		FieldName: fieldName,
		Reason:    "Lease renewal " + string(dst),
	})
	if err != nil {
		return nil, "", err
	}

	path, err := ObjectPath(r.OrgID, r.LeaseID, r.ID, dst)
	if err != nil {
		return nil, "", err
	}
	return signed, path, nil
}

// Get returns the renewal together with its audit trail. Tenants may
// only read their own renewal; managers and admins read any renewal in
// their organization.
func (s *Service) Get(ctx context.Context, actor Actor, renewalID uuid.UUID) (*RenewalWithEvents, error) {
	r, err := s.store.Get(ctx, renewalID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, r); err != nil {
		return nil, err
	}

	events, err := s.events.List(ctx, renewalID)
	if err != nil {
		return nil, err
	}
	return &RenewalWithEvents{Renewal: r, Events: events}, nil
}

// DownloadLinks issues time-limited signed URLs for the renewal's
// produced document stages. Stages not yet produced are omitted rather
// than reported as errors.
func (s *Service) DownloadLinks(ctx context.Context, actor Actor, renewalID uuid.UUID, ttl time.Duration) (*Links, error) {
	r, err := s.store.Get(ctx, renewalID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, actor, r); err != nil {
		return nil, err
	}

	ttl, err = docstore.ClampTTL(ttl)
	if err != nil {
		return nil, err
	}

	links := &Links{ExpiresIn: ttl}
	links.Unsigned, err = s.docs.SignedURL(r.UnsignedPath, ttl)
	if err != nil {
		return nil, err
	}
	if r.TenantSignedPath != nil {
		links.TenantSigned, err = s.docs.SignedURL(*r.TenantSignedPath, ttl)
		if err != nil {
			return nil, err
		}
	}
	if r.FullySignedPath != nil {
		links.FullySigned, err = s.docs.SignedURL(*r.FullySignedPath, ttl)
		if err != nil {
			return nil, err
		}
	}
	return links, nil
}

func (s *Service) authorizeRead(ctx context.Context, actor Actor, r *Renewal) error {
	role, err := s.gate.RequireRole(ctx, actor.ID, r.OrgID, authz.RoleTenant, authz.RoleManager, authz.RoleAdmin)
	if err != nil {
		return err
	}
	if role == authz.RoleTenant && actor.ID != r.TenantID {
		return fmt.Errorf("%w: actor is not this renewal's tenant", authz.ErrForbidden)
	}
	return nil
}

// audit appends an event. An audit write failure never masks the
// outcome of the transition it records; it is logged and the
// transition's own result stands.
func (s *Service) audit(ctx context.Context, r *Renewal, actor Actor, action string, metadata map[string]any) {
	e := &Event{
		RenewalID: r.ID,
		OrgID:     r.OrgID,
		Action:    action,
		Metadata:  metadata,
		ClientIP:  actor.ClientIP,
		UserAgent: actor.UserAgent,
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		e.ActorID = &id
	}
	if err := s.events.Append(ctx, e); err != nil {
		s.logger.Error("audit event write failed",
			zap.String("renewal_id", r.ID.String()),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *Service) auditDenied(ctx context.Context, r *Renewal, actor Actor, action string, cause error) {
	s.audit(ctx, r, actor, action, map[string]any{
		"reason": cause.Error(),
	})
}
