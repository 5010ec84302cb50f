// Package config loads and validates the application configuration:
// per-role signing identities, document storage, database and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")

	// ErrIdentityNotConfigured means no signing identity is configured
	// for the requested role. The corresponding transition fails
	// closed; other roles are unaffected.
	ErrIdentityNotConfigured = errors.New("no signing identity configured for role")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// SignerConfig configures one role's signing identity. Exactly one
// bundle form must be present: an inline base64 PKCS#12 bundle, a
// PKCS#12 file, or a PEM/DER certificate and key file pair.
type SignerConfig struct {
	// PKCS12Base64 is a base64-encoded PKCS#12 bundle, the form used
	// when the bundle arrives through an environment variable.
	PKCS12Base64 string `yaml:"pkcs12-base64" json:"pkcs12_base64,omitempty"`

	// PKCS12File is the path to a PKCS#12 bundle file.
	PKCS12File string `yaml:"pkcs12-file" json:"pkcs12_file,omitempty"`

	// Passphrase decrypts the PKCS#12 bundle or the PEM private key.
	// Never logged.
	Passphrase string `yaml:"passphrase" json:"passphrase,omitempty"`

	// CertFile and KeyFile configure a PEM/DER identity instead of a
	// PKCS#12 bundle.
	CertFile string `yaml:"cert-file" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key-file" json:"key_file,omitempty"`
}

// Configured reports whether any bundle form is present.
func (c *SignerConfig) Configured() bool {
	return c != nil && (c.PKCS12Base64 != "" || c.PKCS12File != "" || c.CertFile != "")
}

// Validate checks that the configuration names exactly one bundle form.
func (c *SignerConfig) Validate() error {
	forms := 0
	if c.PKCS12Base64 != "" {
		forms++
	}
	if c.PKCS12File != "" {
		forms++
	}
	if c.CertFile != "" {
		forms++
	}
	if forms == 0 {
		return NewConfigError("signer", "no identity source configured")
	}
	if forms > 1 {
		return NewConfigError("signer", "more than one identity source configured")
	}
	if c.CertFile != "" && c.KeyFile == "" {
		return NewConfigError("key-file", "required field is missing")
	}
	return nil
}

// StorageConfig configures the document store.
type StorageConfig struct {
	// Endpoint is the S3-compatible service endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// AccessKeyID and SecretKey authenticate requests.
	AccessKeyID string `yaml:"access-key-id" json:"access_key_id,omitempty"`
	SecretKey   string `yaml:"secret-key" json:"secret_key,omitempty"`

	// Bucket holds all renewal documents.
	Bucket string `yaml:"bucket" json:"bucket,omitempty"`

	// Location is the service region, required for request signing.
	Location string `yaml:"location" json:"location,omitempty"`

	// Prefix roots all object paths inside the bucket.
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`

	// URLTTL is the default lifetime for issued download links.
	URLTTL time.Duration `yaml:"url-ttl" json:"url_ttl,omitempty"`
}

// SetDefaults sets default values for storage configuration.
func (c *StorageConfig) SetDefaults() {
	if c.Bucket == "" {
		c.Bucket = "lease-renewals"
	}
	if c.URLTTL == 0 {
		c.URLTTL = 60 * time.Second
	}
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Endpoint == "" {
		return NewConfigError("endpoint", "required field is missing")
	}
	if c.Location == "" {
		return NewConfigError("location", "required field is missing")
	}
	return nil
}

// DatabaseConfig configures the renewal store backend.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" json:"dsn"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return NewConfigError("dsn", "required field is missing")
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Signers maps role names ("tenant", "manager") to signing
	// identity configurations.
	Signers map[string]*SignerConfig `yaml:"signers" json:"signers,omitempty"`

	// Storage contains document store configuration.
	Storage *StorageConfig `yaml:"storage" json:"storage,omitempty"`

	// Database contains renewal store configuration.
	Database *DatabaseConfig `yaml:"database" json:"database,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// LoadAppConfig loads the application configuration from a YAML file
// and overlays environment variables on top.
func LoadAppConfig(filename string) (*AppConfig, error) {
	var config AppConfig
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.ApplyEnv(os.Getenv)
	config.SetDefaults()
	return &config, nil
}

// ParseAppConfig parses configuration from YAML data without touching
// the environment.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	return &config, nil
}

// SetDefaults sets defaults across all sections.
func (c *AppConfig) SetDefaults() {
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	c.Storage.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

// Environment variable names. Signer bundles use the role-templated
// pair LEASESIGN_<ROLE>_PKCS12 and LEASESIGN_<ROLE>_PASSPHRASE.
const (
	EnvDatabaseURL  = "LEASESIGN_DATABASE_URL"
	EnvS3AccessKey  = "LEASESIGN_S3_ACCESS_KEY"
	EnvS3SecretKey  = "LEASESIGN_S3_SECRET_KEY"
	envSignerPrefix = "LEASESIGN_"
)

// ApplyEnv overlays environment variables onto the configuration.
// Environment values win over file values.
func (c *AppConfig) ApplyEnv(getenv func(string) string) {
	for _, role := range []string{"tenant", "manager"} {
		upper := strings.ToUpper(role)
		bundle := getenv(envSignerPrefix + upper + "_PKCS12")
		passphrase := getenv(envSignerPrefix + upper + "_PASSPHRASE")
		if bundle == "" && passphrase == "" {
			continue
		}
		if c.Signers == nil {
			c.Signers = map[string]*SignerConfig{}
		}
		sc := c.Signers[role]
		if sc == nil {
			sc = &SignerConfig{}
			c.Signers[role] = sc
		}
		if bundle != "" {
			sc.PKCS12Base64 = bundle
		}
		if passphrase != "" {
			sc.Passphrase = passphrase
		}
	}

	if dsn := getenv(EnvDatabaseURL); dsn != "" {
		if c.Database == nil {
			c.Database = &DatabaseConfig{}
		}
		c.Database.DSN = dsn
	}
	if key := getenv(EnvS3AccessKey); key != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.AccessKeyID = key
	}
	if secret := getenv(EnvS3SecretKey); secret != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.SecretKey = secret
	}
}
