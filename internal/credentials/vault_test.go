package credentials

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	vault, err := NewVault(filepath.Join(t.TempDir(), "credentials.db"), testVaultKey)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })
	return vault
}

func TestVaultKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"32 raw bytes", testVaultKey, false},
		{"64 hex chars", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", false},
		{"too short", "short", true},
		{"33 bytes", testVaultKey + "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVault(filepath.Join(t.TempDir(), "v.db"), tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEncryptionKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVaultSetGetRoundTrip(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "sk-live-abc123"))

	key, err := vault.GetKey(ctx, "tenant-1", "openai", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", key)
}

func TestVaultSetKeyReplaces(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "sk-old"))
	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "sk-new"))

	key, err := vault.GetKey(ctx, "tenant-1", "openai", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", key)
}

func TestVaultTenantScoping(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "sk-tenant1"))

	_, err := vault.GetKey(ctx, "tenant-2", "openai", "agent-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVaultDeleteKey(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "groq", "gsk-abc"))
	require.NoError(t, vault.DeleteKey(ctx, "tenant-1", "groq"))

	_, err := vault.GetKey(ctx, "tenant-1", "groq", "agent-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVaultListProviders(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "a"))
	require.NoError(t, vault.SetKey(ctx, "tenant-1", "groq", "b"))
	require.NoError(t, vault.SetKey(ctx, "tenant-2", "mistral", "c"))

	providers, err := vault.ListProviders(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"groq", "openai"}, providers)
}

func TestVaultAuditLog(t *testing.T) {
	vault := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.SetKey(ctx, "tenant-1", "openai", "sk-abc"))

	_, err := vault.GetKey(ctx, "tenant-1", "openai", "agent-1")
	require.NoError(t, err)
	_, err = vault.GetKey(ctx, "tenant-1", "groq", "agent-2")
	require.Error(t, err)

	records, err := vault.AuditLog(ctx, "tenant-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	found := 0
	for _, r := range records {
		if r.Found {
			found++
			assert.Equal(t, "openai", r.Provider)
			assert.Equal(t, "agent-1", r.AgentID)
		}
	}
	assert.Equal(t, 1, found)
}
