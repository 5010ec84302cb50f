// Package keys loads signing identities from PKCS#12 bundles and from
// PEM and DER encoded certificate and key material.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt bundle")
)

// PrivateKey represents a private key that can be used for signing.
type PrivateKey interface {
	crypto.Signer
}

// Identity is a signing identity: the end-entity certificate, its
// private key and any CA chain shipped with the bundle. Instances hold
// live key material and must never be logged.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	CAChain     []*x509.Certificate
}

// LoadIdentityFromPKCS12 decodes a PKCS#12 bundle into an identity.
// The format requires a passphrase even when it is empty.
func LoadIdentityFromPKCS12(data []byte, passphrase string) (*Identity, error) {
	key, cert, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: incorrect passphrase", ErrDecryptionFailed)
		}
		return nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}
	if cert == nil {
		return nil, ErrNoCertFound
	}
	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Identity{Certificate: cert, PrivateKey: signer, CAChain: chain}, nil
}

// LoadIdentityFromPKCS12Base64 decodes a base64-encoded PKCS#12 bundle,
// the form bundles take when supplied through environment variables.
func LoadIdentityFromPKCS12Base64(encoded, passphrase string) (*Identity, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 bundle: %w", err)
	}
	return LoadIdentityFromPKCS12(data, passphrase)
}

// LoadIdentityFromPKCS12File decodes a PKCS#12 bundle read from a file.
func LoadIdentityFromPKCS12File(filename, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadIdentityFromPKCS12(data, passphrase)
}

// LoadIdentityFromPEM assembles an identity from PEM or DER encoded
// certificate and key data. The first certificate is the end entity;
// any further certificates form the CA chain.
func LoadIdentityFromPEM(certData, keyData []byte, passphrase []byte) (*Identity, error) {
	certs, err := LoadCertsFromPEMDERData(certData)
	if err != nil {
		return nil, err
	}
	key, err := LoadPrivateKeyFromPEMDERData(keyData, passphrase)
	if err != nil {
		return nil, err
	}
	id := &Identity{Certificate: certs[0], PrivateKey: key}
	if len(certs) > 1 {
		id.CAChain = certs[1:]
	}
	return id, nil
}

// LoadCertsFromPEMDERData loads certificates from PEM or DER encoded data.
func LoadCertsFromPEMDERData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	// Try to detect if it's PEM encoded
	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}

			// Only process CERTIFICATE blocks
			if block.Type == "CERTIFICATE" {
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("failed to parse certificate: %w", err)
				}
				certs = append(certs, cert)
			}
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadPrivateKeyFromPEMDERData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPEMDERData(data []byte, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}

	var keyBytes []byte
	var err error

	// Check if the key is encrypted
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	} else {
		keyBytes = block.Bytes
	}

	return parsePrivateKeyByType(block.Type, keyBytes)
}

func loadPrivateKeyFromDER(data []byte) (PrivateKey, error) {
	// Try PKCS#8 first
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}

	// Try PKCS#1 RSA
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}

	// Try EC
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}

	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, keyBytes []byte) (PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
		// PKCS#8; encrypted blocks were decrypted by the caller
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case crypto.Signer:
		return k, nil
	case nil:
		return nil, ErrNoKeyFound
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
