package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/havenpoint/leasesign/authz"
	"github.com/havenpoint/leasesign/keys"
	"github.com/havenpoint/leasesign/sign"
)

// IdentitySet resolves signing identities per role. Identities are
// loaded lazily on first use and cached for the process lifetime; a
// role without a complete configuration fails closed without touching
// the other roles.
type IdentitySet struct {
	configs map[string]*SignerConfig

	mu     sync.Mutex
	loaded map[string]*sign.IdentitySigner
}

// NewIdentitySet builds an identity set over the configured signers.
func NewIdentitySet(signers map[string]*SignerConfig) *IdentitySet {
	return &IdentitySet{
		configs: signers,
		loaded:  map[string]*sign.IdentitySigner{},
	}
}

// SignerFor returns the signing identity for the role, loading and
// caching it on first use.
func (s *IdentitySet) SignerFor(role authz.Role) (sign.Signer, error) {
	name := string(role)
	if role == authz.RoleAdmin {
		// Admins countersign with the manager identity.
		name = string(authz.RoleManager)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if signer, ok := s.loaded[name]; ok {
		return signer, nil
	}

	cfg, ok := s.configs[name]
	if !ok || !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotConfigured, name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identity, err := loadIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading %s signing identity: %w", name, err)
	}

	signer := sign.NewIdentitySigner(identity.Certificate, identity.PrivateKey, identity.CAChain)
	s.loaded[name] = signer
	return signer, nil
}

func loadIdentity(cfg *SignerConfig) (*keys.Identity, error) {
	switch {
	case cfg.PKCS12Base64 != "":
		return keys.LoadIdentityFromPKCS12Base64(cfg.PKCS12Base64, cfg.Passphrase)
	case cfg.PKCS12File != "":
		return keys.LoadIdentityFromPKCS12File(cfg.PKCS12File, cfg.Passphrase)
	case cfg.CertFile != "":
		certData, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", cfg.CertFile, err)
		}
		keyData, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", cfg.KeyFile, err)
		}
		var passphrase []byte
		if cfg.Passphrase != "" {
			passphrase = []byte(cfg.Passphrase)
		}
		return keys.LoadIdentityFromPEM(certData, keyData, passphrase)
	}
	return nil, NewConfigError("signer", "no identity source configured")
}
