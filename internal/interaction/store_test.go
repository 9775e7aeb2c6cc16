package interaction

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "interactions.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleInteraction(agentID string, at time.Time, cost float64, known bool) *Interaction {
	return &Interaction{
		Timestamp:      at,
		TenantID:       "tenant-1",
		AgentID:        agentID,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    1000,
		OutputTokens:   1000,
		Cost:           cost,
		CostKnown:      known,
		ContextTrusted: true,
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := sampleInteraction("agent-1", time.Now().UTC(), 0.0125, true)
	require.NoError(t, store.Save(ctx, in))

	assert.True(t, strings.HasPrefix(in.ID, "int_"))
	assert.True(t, strings.HasPrefix(in.Signature, "hmac-sha256:"))

	got, err := store.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0125, got.Cost)
	assert.True(t, got.CostKnown)
	assert.Equal(t, in.Signature, got.Signature)
}

func TestStoreVerify(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := sampleInteraction("agent-1", time.Now().UTC(), 0.01, true)
	require.NoError(t, store.Save(ctx, in))

	ok, err := store.Verify(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "int_nope")
	assert.Error(t, err)
}

func TestSignerRejectsShortKey(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "x.db"), "short")
	assert.Error(t, err)
}

func TestCostTotalHalfOpenWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-1", base, 0.01, true)))
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-1", base.Add(time.Hour), 0.02, true)))
	// Exactly at the upper bound: excluded.
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-1", base.Add(2*time.Hour), 0.04, true)))
	// Cost unknown: counted separately, not summed.
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-1", base.Add(time.Hour), 0, false)))

	sum, err := store.CostTotal(ctx, "tenant-1", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.03, sum.Total, 1e-9)
	assert.Equal(t, 2, sum.KnownCount)
	assert.Equal(t, 1, sum.UnknownCount)
}

func TestCostByAgent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-a", base, 0.01, true)))
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-a", base, 0.01, true)))
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-b", base, 0, false)))

	byAgent, err := store.CostByAgent(ctx, "tenant-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	assert.InDelta(t, 0.02, byAgent["agent-a"].Total, 1e-9)
	assert.Equal(t, 0, byAgent["agent-b"].KnownCount)
	assert.Equal(t, 1, byAgent["agent-b"].UnknownCount)
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-a", base, 0.01, true)))
	require.NoError(t, store.Save(ctx, sampleInteraction("agent-b", base.Add(time.Minute), 0.02, true)))

	all, err := store.List(ctx, "tenant-1", "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, "agent-b", all[0].AgentID)

	onlyA, err := store.List(ctx, "tenant-1", "agent-a", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "agent-a", onlyA[0].AgentID)

	limited, err := store.List(ctx, "", "", time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
