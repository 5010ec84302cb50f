// Package sign applies incremental cryptographic signatures to PDF
// documents. Each call appends one signature as an incremental update,
// leaving every byte of the prior revisions untouched so that earlier
// signatures keep verifying after later ones are added.
package sign

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/digitorus/pkcs7"
)

// Signing errors. ErrSigningFailure is the root of the taxonomy; the
// more specific sentinels wrap it so callers can branch on either.
var (
	ErrSigningFailure = errors.New("pdf signing failure")

	// ErrMalformedPDF indicates the input could not be parsed as a PDF.
	// The document is rejected before any placeholder is inserted.
	ErrMalformedPDF = fmt.Errorf("%w: malformed input pdf", ErrSigningFailure)

	// ErrPlaceholderTooSmall indicates the produced CMS object did not
	// fit in the reserved Contents region.
	ErrPlaceholderTooSmall = fmt.Errorf("%w: signature exceeds reserved placeholder", ErrSigningFailure)

	// ErrNoCertificate indicates the signer has no usable certificate.
	ErrNoCertificate = fmt.Errorf("%w: signer certificate missing", ErrSigningFailure)

	// ErrDuplicateField indicates the document already contains a
	// signature field with the requested name.
	ErrDuplicateField = fmt.Errorf("%w: duplicate signature field name", ErrSigningFailure)
)

// Signer produces a detached CMS signature over arbitrary data and
// exposes the certificate material embedded alongside it.
type Signer interface {
	// Sign returns a detached PKCS#7/CMS SignedData object over data.
	Sign(data []byte) ([]byte, error)
	// Certificate returns the end-entity signing certificate.
	Certificate() *x509.Certificate
	// CertificateChain returns intermediate and root certificates.
	CertificateChain() []*x509.Certificate
	// SignatureSize estimates an upper bound for the encoded signature.
	SignatureSize() int
}

// IdentitySigner signs with an in-memory private key and certificate
// chain, producing adbe.pkcs7.detached signatures with SHA-256 signed
// attributes.
type IdentitySigner struct {
	cert  *x509.Certificate
	chain []*x509.Certificate
	key   crypto.PrivateKey
}

// NewIdentitySigner creates a signer from a certificate, its private key
// and an optional chain of CA certificates.
func NewIdentitySigner(cert *x509.Certificate, key crypto.PrivateKey, chain []*x509.Certificate) *IdentitySigner {
	return &IdentitySigner{cert: cert, chain: chain, key: key}
}

// Sign implements Signer.
func (s *IdentitySigner) Sign(data []byte) ([]byte, error) {
	if s.cert == nil {
		return nil, ErrNoCertificate
	}

	sd, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: building signed data: %v", ErrSigningFailure, err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	if err := sd.AddSignerChain(s.cert, s.key, s.chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("%w: adding signer: %v", ErrSigningFailure, err)
	}

	// Detached signature: the covered bytes live in the PDF, not in
	// the CMS object.
	sd.Detach()

	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding signature: %v", ErrSigningFailure, err)
	}
	return der, nil
}

// Certificate implements Signer.
func (s *IdentitySigner) Certificate() *x509.Certificate { return s.cert }

// CertificateChain implements Signer.
func (s *IdentitySigner) CertificateChain() []*x509.Certificate { return s.chain }

// SignatureSize implements Signer. The estimate leaves generous room
// for the certificate chain; undersizing makes signing fail, oversizing
// only wastes placeholder bytes.
func (s *IdentitySigner) SignatureSize() int {
	size := 8192
	if s.cert != nil {
		size += len(s.cert.Raw)
	}
	for _, c := range s.chain {
		size += len(c.Raw)
	}
	return size
}
