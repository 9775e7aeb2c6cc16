package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-ai/warden/internal/config"
)

func withDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	viper.Set(config.KeyDataDir, dir)
	t.Cleanup(func() { viper.Set(config.KeyDataDir, "") })
	return dir
}

func TestRunHealthyInstall(t *testing.T) {
	dir := withDataDir(t)
	viper.Set(config.KeyTrustPolicy, filepath.Join(dir, "absent.yaml"))

	report := Run(context.Background())

	// Default keys and an empty policy mean warnings, never failures.
	assert.Equal(t, "warn", report.Status)
	assert.Zero(t, report.Summary.Fail)
	assert.NotZero(t, report.Summary.Pass)
}

func TestRunBrokenTrustPolicy(t *testing.T) {
	dir := withDataDir(t)
	policyPath := filepath.Join(dir, "warden.trust.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("{{{"), 0o600))
	viper.Set(config.KeyTrustPolicy, policyPath)

	report := Run(context.Background())

	assert.Equal(t, "fail", report.Status)
	var found bool
	for _, c := range report.Checks {
		if c.Name == "trust_policy" {
			found = true
			assert.Equal(t, "fail", c.Status)
		}
	}
	assert.True(t, found)
}
