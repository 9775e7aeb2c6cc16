package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-ai/warden/internal/trust"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("WARDEN")
	viper.SetDefault(KeyTrustPolicy, DefaultTrustPolicy)
	viper.SetDefault(KeyIsolation, true)
	viper.SetDefault(KeyQuarantineOnFail, OnFailureFlag)
	viper.SetDefault(KeyQuarantineModel, DefaultQuarantineModel)
	viper.SetDefault(KeyPrivilegedModel, DefaultPrivilegedModel)
	viper.SetDefault(KeyCatalogURL, DefaultCatalogURL)
	viper.SetDefault(KeyCatalogSchedule, DefaultCatalogSchedule)
	viper.Set(KeyDataDir, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultTrustPolicy, cfg.TrustPolicyPath)
	assert.True(t, cfg.IsolationEnabled)
	assert.Equal(t, OnFailureFlag, cfg.OnFailure)
	assert.Equal(t, DefaultQuarantineModel, cfg.QuarantineModel)
	assert.True(t, cfg.UsingDefaultKeys(), "derived keys expected when none set")
	assert.Len(t, cfg.SecretsKey, 64, "derived key is hex SHA-256")
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data/warden"}
	assert.Equal(t, filepath.Join("/data/warden", "quarantine.db"), cfg.QuarantineDBPath())
	assert.Equal(t, filepath.Join("/data/warden", "pricing.db"), cfg.PricingDBPath())
	assert.Equal(t, filepath.Join("/data/warden", "interactions.db"), cfg.InteractionDBPath())
	assert.Equal(t, filepath.Join("/data/warden", "credentials.db"), cfg.CredentialsDBPath())
}

func TestValidateSecretsKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"raw 32 bytes", strings.Repeat("k", 32), false},
		{"64 hex chars", strings.Repeat("ab", 32), false},
		{"too short", "short", true},
		{"64 non-hex chars", strings.Repeat("zz", 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSecretsKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSigningKey(t *testing.T) {
	t.Run("raw 32 bytes ok", func(t *testing.T) {
		assert.NoError(t, validateSigningKey(strings.Repeat("s", 32)))
	})
	t.Run("raw 40 bytes ok", func(t *testing.T) {
		assert.NoError(t, validateSigningKey(strings.Repeat("s", 40)))
	})
	t.Run("64 hex chars ok", func(t *testing.T) {
		assert.NoError(t, validateSigningKey(strings.Repeat("0f", 32)))
	})
	t.Run("short rejected", func(t *testing.T) {
		assert.Error(t, validateSigningKey("tiny"))
	})
}

func TestValidateOnFailure(t *testing.T) {
	cfg := &Config{
		SecretsKey: strings.Repeat("k", 32),
		SigningKey: strings.Repeat("s", 32),
		OnFailure:  "ignore",
	}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quarantine_on_failure")

	for _, mode := range []string{trust.OnFailureBlock, trust.OnFailureFlag} {
		cfg.OnFailure = mode
		assert.NoError(t, cfg.validate(), mode)
	}
}
