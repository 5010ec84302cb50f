package renewal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Bucket is the canonical bucket holding renewal documents. All stages
// of a renewal live as siblings under one renewal directory.
const Bucket = "lease-renewals"

// Stage identifies a document stage within a renewal cycle.
type Stage string

const (
	// StageUnsigned is the original, unsigned lease document.
	StageUnsigned Stage = "unsigned"
	// StageTenantSigned carries the tenant's signature.
	StageTenantSigned Stage = "tenant_signed"
	// StageFullySigned carries both signatures.
	StageFullySigned Stage = "fully_signed"
)

// Path derivation errors.
var (
	ErrUnknownStage = errors.New("unknown document stage")
	ErrInvalidPath  = errors.New("invalid document path")
	ErrMissingID    = errors.New("path derivation requires non-zero identifiers")
)

// ObjectPath derives the storage object path for one stage of a renewal.
// Derivation is pure and deterministic: the same identifiers always
// yield the same path. Stages are keyed by the identity fields directly
// rather than by transforming a prior stage's path string.
func ObjectPath(orgID, leaseID, renewalID uuid.UUID, stage Stage) (string, error) {
	switch stage {
	case StageUnsigned, StageTenantSigned, StageFullySigned:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	if orgID == uuid.Nil || leaseID == uuid.Nil || renewalID == uuid.Nil {
		return "", ErrMissingID
	}
	return fmt.Sprintf("org/%s/lease/%s/renewal/%s/%s.pdf", orgID, leaseID, renewalID, stage), nil
}

// StageFromPath recovers the stage from an object path. The path must
// end in one of the expected stage suffixes; anything else fails loudly
// instead of yielding a malformed derivation.
func StageFromPath(path string) (Stage, error) {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	name, ok := strings.CutSuffix(base, ".pdf")
	if !ok {
		return "", fmt.Errorf("%w: %q does not end in .pdf", ErrInvalidPath, path)
	}
	stage := Stage(name)
	switch stage {
	case StageUnsigned, StageTenantSigned, StageFullySigned:
		return stage, nil
	}
	return "", fmt.Errorf("%w: unexpected suffix %q in %q", ErrInvalidPath, base, path)
}

// StageForStatus returns the document stage produced when a renewal
// reaches the given status.
func StageForStatus(s Status) (Stage, error) {
	switch s {
	case StatusCreated:
		return StageUnsigned, nil
	case StatusTenantSigned:
		return StageTenantSigned, nil
	case StatusFullySigned:
		return StageFullySigned, nil
	}
	return "", fmt.Errorf("%w: no stage for status %q", ErrUnknownStage, s)
}
