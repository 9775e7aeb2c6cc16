// Package config holds operator-level configuration for a warden installation.
//
// This is infrastructure config set by whoever deploys warden, not tenant
// or end-user configuration. It is resolved from env vars (WARDEN_*) or a
// warden.config.yaml file via viper. Tenant-level material (provider API
// keys) lives only in the encrypted credentials vault
// (internal/credentials) and must never appear here.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/warden-ai/warden/internal/trust"
)

// Viper keys. Each maps to an env var with the WARDEN_ prefix
// (e.g. "signing_key" → WARDEN_SIGNING_KEY) and to a YAML field in
// warden.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeySecretsKey       = "secrets_key"
	KeySigningKey       = "signing_key"
	KeyTrustPolicy      = "trust_policy"
	KeyIsolation        = "isolation_enabled"
	KeyQuarantineOnFail = "quarantine_on_failure"
	KeyQuarantineModel  = "quarantine_model"
	KeyPrivilegedModel  = "privileged_model"
	KeyCatalogURL       = "pricing_catalog_url"
	KeyCatalogSchedule  = "pricing_sync_schedule"
)

// Defaults that do not involve crypto material. Crypto keys intentionally
// have no baked-in defaults — when unset we derive a per-machine fallback
// and warn loudly.
const (
	DefaultTrustPolicy     = "warden.trust.yaml"
	DefaultCatalogURL      = "https://models.dev/api.json"
	DefaultCatalogSchedule = "0 */6 * * *" // every six hours
	DefaultQuarantineModel = "gpt-4o-mini"
	DefaultPrivilegedModel = "gpt-4o"
)

// Quarantine failure modes, canonical in internal/trust. "block" replaces
// the tool result with a placeholder when isolation fails; "flag" delivers
// it but marks the context untrusted. Silent pass-through as trusted is
// never an option.
const (
	OnFailureBlock = trust.OnFailureBlock
	OnFailureFlag  = trust.OnFailureFlag
)

// Config holds resolved operator-level configuration for a warden process.
type Config struct {
	DataDir          string // Base directory for all state (~/.warden)
	SecretsKey       string // AES-256 key for the credentials vault (32 bytes or 64 hex chars)
	SigningKey       string // HMAC-SHA256 key for interaction record signing (≥32 bytes)
	TrustPolicyPath  string // Trust policy YAML filename
	IsolationEnabled bool   // Run the quarantine protocol for untrusted tool results
	OnFailure        string // OnFailureBlock or OnFailureFlag
	QuarantineModel  string // Model used for the quarantined hop
	PrivilegedModel  string // Model used for question generation and synthesis
	CatalogURL       string // Pricing catalog endpoint (models.dev-style JSON)
	CatalogSchedule  string // Cron spec for periodic pricing sync

	usingDefaultSecretsKey bool
	usingDefaultSigningKey bool
}

// QuarantineDBPath returns the full path to the quarantine results SQLite database.
func (c *Config) QuarantineDBPath() string {
	return filepath.Join(c.DataDir, "quarantine.db")
}

// PricingDBPath returns the full path to the pricing SQLite database.
func (c *Config) PricingDBPath() string {
	return filepath.Join(c.DataDir, "pricing.db")
}

// InteractionDBPath returns the full path to the interaction records SQLite database.
func (c *Config) InteractionDBPath() string {
	return filepath.Join(c.DataDir, "interactions.db")
}

// CredentialsDBPath returns the full path to the credentials vault SQLite database.
func (c *Config) CredentialsDBPath() string {
	return filepath.Join(c.DataDir, "credentials.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// UsingDefaultKeys reports whether either crypto key fell back to a derived
// default. Commands should warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSecretsKey || c.usingDefaultSigningKey
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSecretsKey {
		log.Warn().Msg("Using generated default WARDEN_SECRETS_KEY — set via env var or config file for production")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default WARDEN_SIGNING_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetDefault(KeyTrustPolicy, DefaultTrustPolicy)
	viper.SetDefault(KeyIsolation, true)
	viper.SetDefault(KeyQuarantineOnFail, OnFailureFlag)
	viper.SetDefault(KeyQuarantineModel, DefaultQuarantineModel)
	viper.SetDefault(KeyPrivilegedModel, DefaultPrivilegedModel)
	viper.SetDefault(KeyCatalogURL, DefaultCatalogURL)
	viper.SetDefault(KeyCatalogSchedule, DefaultCatalogSchedule)
}

// Load reads configuration from viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		SecretsKey:       viper.GetString(KeySecretsKey),
		SigningKey:       viper.GetString(KeySigningKey),
		TrustPolicyPath:  viper.GetString(KeyTrustPolicy),
		IsolationEnabled: viper.GetBool(KeyIsolation),
		OnFailure:        viper.GetString(KeyQuarantineOnFail),
		QuarantineModel:  viper.GetString(KeyQuarantineModel),
		PrivilegedModel:  viper.GetString(KeyPrivilegedModel),
		CatalogURL:       viper.GetString(KeyCatalogURL),
		CatalogSchedule:  viper.GetString(KeyCatalogSchedule),
	}

	if cfg.SecretsKey == "" {
		cfg.SecretsKey = deriveDefaultKey(cfg.DataDir, "credentials-vault")
		cfg.usingDefaultSecretsKey = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "interaction-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. Not cryptographically strong — it exists
// solely so `warden serve` works out of the box while still encrypting
// data at rest with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("warden:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSecretsKey(c.SecretsKey); err != nil {
		return err
	}
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.OnFailure != OnFailureBlock && c.OnFailure != OnFailureFlag {
		return fmt.Errorf("quarantine_on_failure must be %q or %q (got %q)", OnFailureBlock, OnFailureFlag, c.OnFailure)
	}
	return nil
}

// validateSecretsKey accepts either 32 raw bytes or 64 hex characters
// (decoding to 32 bytes for AES-256).
func validateSecretsKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("secrets_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("secrets_key must be exactly 32 bytes or 64 hex characters (got %d); set WARDEN_SECRETS_KEY", n)
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters.
// Hex is checked first so hex keys are validated as hex; raw is accepted
// otherwise when n ≥ 32.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set WARDEN_SIGNING_KEY", n)
}

func isHexString(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
