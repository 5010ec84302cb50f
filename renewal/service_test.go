package renewal

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/havenpoint/leasesign/authz"
	"github.com/havenpoint/leasesign/docstore"
	"github.com/havenpoint/leasesign/sign"
)

// leasePDF builds a one-page PDF with a classic cross-reference table.
func leasePDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")

	offsets := make([]int64, 4)
	writeObj := func(num int, body string) {
		offsets[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 4\n")
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= 3; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	buf.WriteString("trailer\n<< /Size 4 /Root 1 0 R /ID [<6c9ea5e1> <6c9ea5e1>] >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

type testSigners struct {
	byRole map[authz.Role]sign.Signer
}

func (p *testSigners) SignerFor(role authz.Role) (sign.Signer, error) {
	s, ok := p.byRole[role]
	if !ok {
		return nil, fmt.Errorf("no signing identity configured for role %s", role)
	}
	return s, nil
}

func newSigner(t *testing.T, cn string) sign.Signer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Havenpoint Test"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return sign.NewIdentitySigner(cert, key, nil)
}

type fixture struct {
	svc     *Service
	store   *MemStore
	docs    *docstore.Memory
	roles   *authz.Static
	orgID   uuid.UUID
	leaseID uuid.UUID

	tenant    Actor
	manager   Actor
	caretaker Actor
	stranger  Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   NewMemStore(),
		docs:    docstore.NewMemory(),
		roles:   authz.NewStatic(),
		orgID:   uuid.New(),
		leaseID: uuid.New(),

		tenant:    Actor{ID: uuid.New(), ClientIP: "10.0.0.10", UserAgent: "test-tenant"},
		manager:   Actor{ID: uuid.New(), ClientIP: "10.0.0.20", UserAgent: "test-manager"},
		caretaker: Actor{ID: uuid.New()},
		stranger:  Actor{ID: uuid.New()},
	}

	f.roles.Grant(f.tenant.ID, f.orgID, authz.RoleTenant)
	f.roles.Grant(f.manager.ID, f.orgID, authz.RoleManager)
	f.roles.Grant(f.caretaker.ID, f.orgID, authz.RoleCaretaker)
	f.roles.Grant(f.stranger.ID, f.orgID, authz.RoleTenant)

	signers := &testSigners{byRole: map[authz.Role]sign.Signer{
		authz.RoleTenant:  newSigner(t, "Tenant Signing Identity"),
		authz.RoleManager: newSigner(t, "Manager Signing Identity"),
	}}

	f.svc = NewService(
		f.store, f.store, f.docs,
		authz.NewGate(f.roles),
		sign.NewEngine(),
		signers,
		zap.NewNop(),
	)
	return f
}

func (f *fixture) create(t *testing.T) *Renewal {
	t.Helper()
	r, err := f.svc.Create(context.Background(), f.manager, CreateParams{
		OrgID:    f.orgID,
		LeaseID:  f.leaseID,
		TenantID: f.tenant.ID,
		Document: leasePDF(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func TestEndToEndSigningFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r := f.create(t)
	if r.Status != StatusCreated {
		t.Fatalf("status after create = %s", r.Status)
	}
	if r.UnsignedPath == "" || r.TenantSignedPath != nil || r.FullySignedPath != nil {
		t.Fatalf("pointers after create: %+v", r)
	}

	r, err := f.svc.TenantSign(ctx, f.tenant, r.ID)
	if err != nil {
		t.Fatalf("TenantSign: %v", err)
	}
	if r.Status != StatusTenantSigned {
		t.Errorf("status after tenant sign = %s", r.Status)
	}
	if r.TenantSignedPath == nil {
		t.Fatal("tenant_signed_path not set")
	}
	if r.FullySignedPath != nil {
		t.Error("fully_signed_path set early")
	}

	r, err = f.svc.ManagerSign(ctx, f.manager, r.ID)
	if err != nil {
		t.Fatalf("ManagerSign: %v", err)
	}
	if r.Status != StatusFullySigned {
		t.Errorf("status after manager sign = %s", r.Status)
	}
	if r.FullySignedPath == nil {
		t.Fatal("fully_signed_path not set")
	}

	// The final document carries two independently verifiable
	// signatures and the tenant's signature survived the manager's.
	final, err := f.docs.Download(ctx, *r.FullySignedPath)
	if err != nil {
		t.Fatalf("Download final: %v", err)
	}
	infos, err := sign.Verify(final)
	if err != nil {
		t.Fatalf("Verify final: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("final document has %d signatures, want 2", len(infos))
	}
	byField := map[string]sign.SignatureInfo{}
	for _, info := range infos {
		byField[info.FieldName] = info
	}
	tenantSig, ok := byField[TenantFieldName]
	if !ok {
		t.Fatalf("missing %s in %v", TenantFieldName, infos)
	}
	managerSig, ok := byField[ManagerFieldName]
	if !ok {
		t.Fatalf("missing %s in %v", ManagerFieldName, infos)
	}
	if tenantSig.CoversWholeDocument {
		t.Error("tenant signature claims to cover the countersigned document")
	}
	if !managerSig.CoversWholeDocument {
		t.Error("manager signature does not cover the whole document")
	}

	// The tenant stage document is a strict prefix of the final one.
	tenantDoc, err := f.docs.Download(ctx, *r.TenantSignedPath)
	if err != nil {
		t.Fatalf("Download tenant stage: %v", err)
	}
	if !bytes.HasPrefix(final, tenantDoc) {
		t.Error("manager signing rewrote bytes covered by the tenant signature")
	}

	// Audit trail: created, tenant_signed, manager_signed, in order.
	got, err := f.svc.Get(ctx, f.manager, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var actions []string
	for _, e := range got.Events {
		actions = append(actions, e.Action)
	}
	want := []string{ActionRenewalCreated, ActionTenantSigned, ActionManagerSigned}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", actions, want)
		}
	}

	// All three download links are issued, distinct, with the TTL.
	links, err := f.svc.DownloadLinks(ctx, f.manager, r.ID, 2*time.Minute)
	if err != nil {
		t.Fatalf("DownloadLinks: %v", err)
	}
	if links.Unsigned == "" || links.TenantSigned == "" || links.FullySigned == "" {
		t.Fatalf("missing links: %+v", links)
	}
	if links.Unsigned == links.TenantSigned || links.TenantSigned == links.FullySigned {
		t.Errorf("links are not distinct: %+v", links)
	}
	if links.ExpiresIn != 2*time.Minute {
		t.Errorf("ExpiresIn = %s", links.ExpiresIn)
	}
}

func TestTenantSignWrongTenantForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t)

	// The stranger holds a tenant role in the org but is not this
	// renewal's tenant.
	if _, err := f.svc.TenantSign(ctx, f.stranger, r.ID); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("TenantSign by wrong tenant = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.DownloadLinks(ctx, f.stranger, r.ID, 0); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("DownloadLinks by wrong tenant = %v, want ErrForbidden", err)
	}

	// The denied attempt is on the audit trail.
	got, err := f.svc.Get(ctx, f.manager, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var denied bool
	for _, e := range got.Events {
		if e.Action == ActionTenantSignDenied {
			denied = true
		}
	}
	if !denied {
		t.Error("denied tenant sign attempt not audited")
	}

	// State is untouched.
	cur, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != StatusCreated {
		t.Errorf("status after denied attempt = %s", cur.Status)
	}
}

func TestManagerSignRoleChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t)

	if _, err := f.svc.TenantSign(ctx, f.tenant, r.ID); err != nil {
		t.Fatalf("TenantSign: %v", err)
	}

	if _, err := f.svc.ManagerSign(ctx, f.caretaker, r.ID); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("ManagerSign by caretaker = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.ManagerSign(ctx, f.tenant, r.ID); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("ManagerSign by tenant = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.ManagerSign(ctx, Actor{}, r.ID); !errors.Is(err, authz.ErrUnauthenticated) {
		t.Errorf("ManagerSign by anonymous = %v, want ErrUnauthenticated", err)
	}

	if _, err := f.svc.ManagerSign(ctx, f.manager, r.ID); err != nil {
		t.Fatalf("ManagerSign: %v", err)
	}
}

func TestTransitionOrderEnforced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t)

	// Manager can not sign before the tenant.
	if _, err := f.svc.ManagerSign(ctx, f.manager, r.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("ManagerSign before tenant = %v, want ErrConflict", err)
	}

	if _, err := f.svc.TenantSign(ctx, f.tenant, r.ID); err != nil {
		t.Fatalf("TenantSign: %v", err)
	}

	// Tenant can not sign twice.
	if _, err := f.svc.TenantSign(ctx, f.tenant, r.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second TenantSign = %v, want ErrConflict", err)
	}

	if _, err := f.svc.ManagerSign(ctx, f.manager, r.ID); err != nil {
		t.Fatalf("ManagerSign: %v", err)
	}

	// Terminal state rejects everything.
	if _, err := f.svc.TenantSign(ctx, f.tenant, r.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("TenantSign on fully_signed = %v, want ErrConflict", err)
	}
	if _, err := f.svc.ManagerSign(ctx, f.manager, r.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("ManagerSign on fully_signed = %v, want ErrConflict", err)
	}
}

func TestConcurrentTenantSignOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.TenantSign(ctx, f.tenant, r.ID)
		}(i)
	}
	wg.Wait()

	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || conflicted != 1 {
		t.Fatalf("winners = %d, conflicts = %d, want 1 and 1", won, conflicted)
	}

	cur, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != StatusTenantSigned {
		t.Errorf("status = %s, want tenant_signed", cur.Status)
	}
}

func TestDownloadLinksOmitUnproducedStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t)

	links, err := f.svc.DownloadLinks(ctx, f.tenant, r.ID, 0)
	if err != nil {
		t.Fatalf("DownloadLinks: %v", err)
	}
	if links.Unsigned == "" {
		t.Error("unsigned link missing")
	}
	if links.TenantSigned != "" || links.FullySigned != "" {
		t.Errorf("links issued for unproduced stages: %+v", links)
	}
	if links.ExpiresIn != docstore.DefaultURLTTL {
		t.Errorf("ExpiresIn = %s, want default", links.ExpiresIn)
	}
}

func TestGetUnknownRenewal(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get(context.Background(), f.manager, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresManagerRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.tenant, CreateParams{
		OrgID:    f.orgID,
		LeaseID:  f.leaseID,
		TenantID: f.tenant.ID,
		Document: leasePDF(),
	})
	if !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("Create by tenant = %v, want ErrForbidden", err)
	}
}

func TestSigningFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r, err := f.svc.Create(ctx, f.manager, CreateParams{
		OrgID:    f.orgID,
		LeaseID:  f.leaseID,
		TenantID: f.tenant.ID,
		Document: []byte("%PDF-1.7\nnot really a pdf"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.TenantSign(ctx, f.tenant, r.ID); !errors.Is(err, sign.ErrSigningFailure) {
		t.Fatalf("TenantSign on malformed document = %v, want ErrSigningFailure", err)
	}

	cur, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != StatusCreated || cur.TenantSignedPath != nil {
		t.Errorf("state changed after failed signing: %+v", cur)
	}
}

// failingEvents wraps an EventStore and fails every append.
type failingEvents struct {
	EventStore
}

func (f failingEvents) Append(context.Context, *Event) error {
	return errors.New("audit backend unavailable")
}

func TestAuditFailureDoesNotMaskOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	signers := &testSigners{byRole: map[authz.Role]sign.Signer{
		authz.RoleTenant:  newSigner(t, "Tenant Signing Identity"),
		authz.RoleManager: newSigner(t, "Manager Signing Identity"),
	}}
	svc := NewService(
		f.store, failingEvents{f.store}, f.docs,
		authz.NewGate(f.roles),
		sign.NewEngine(),
		signers,
		zap.NewNop(),
	)

	r, err := svc.Create(ctx, f.manager, CreateParams{
		OrgID:    f.orgID,
		LeaseID:  f.leaseID,
		TenantID: f.tenant.ID,
		Document: leasePDF(),
	})
	if err != nil {
		t.Fatalf("Create with failing audit: %v", err)
	}

	updated, err := svc.TenantSign(ctx, f.tenant, r.ID)
	if err != nil {
		t.Fatalf("TenantSign with failing audit: %v", err)
	}
	if updated.Status != StatusTenantSigned {
		t.Errorf("status = %s, want tenant_signed", updated.Status)
	}
}
