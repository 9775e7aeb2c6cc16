package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "pricing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("missing record returns nil", func(t *testing.T) {
		rec, err := store.Get(ctx, "openai", "gpt-4o")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("custom and synced coexist", func(t *testing.T) {
		require.NoError(t, store.UpsertSynced(ctx, "openai", "gpt-4o", 0.000005, 0.000015))
		require.NoError(t, store.SetCustom(ctx, "openai", "gpt-4o", 10, 30))

		rec, err := store.Get(ctx, "openai", "gpt-4o")
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.NotNil(t, rec.CustomInputPerMillion)
		assert.Equal(t, 10.0, *rec.CustomInputPerMillion)
		require.NotNil(t, rec.SyncedInputPerToken)
		assert.Equal(t, 0.000005, *rec.SyncedInputPerToken)
	})

	t.Run("clear custom keeps synced", func(t *testing.T) {
		require.NoError(t, store.ClearCustom(ctx, "openai", "gpt-4o"))
		rec, err := store.Get(ctx, "openai", "gpt-4o")
		require.NoError(t, err)
		assert.Nil(t, rec.CustomInputPerMillion)
		assert.NotNil(t, rec.SyncedInputPerToken)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.UpsertSynced(ctx, "anthropic", "claude-sonnet-4", 0.000003, 0.000015))
		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "anthropic", records[0].Provider)
	})
}

func TestResolvePriority(t *testing.T) {
	store := newTestStore(t)
	resolver := NewResolver(store)
	ctx := context.Background()

	t.Run("default tier when no record", func(t *testing.T) {
		resolved := resolver.Resolve(ctx, "openai", "gpt-4o")
		assert.Equal(t, SourceDefault, resolved.Source)
		assert.Equal(t, DefaultInputPerMillion, resolved.InputPerMillion)
	})

	t.Run("lightweight default for mini models", func(t *testing.T) {
		resolved := resolver.Resolve(ctx, "openai", "gpt-4o-mini")
		assert.Equal(t, SourceDefault, resolved.Source)
		assert.Equal(t, LightweightInputPerMillion, resolved.InputPerMillion)
		assert.Equal(t, LightweightOutputPerMillion, resolved.OutputPerMillion)
	})

	t.Run("synced beats default", func(t *testing.T) {
		require.NoError(t, store.UpsertSynced(ctx, "openai", "gpt-4o", 0.000005, 0.000015))
		resolved := resolver.Resolve(ctx, "openai", "gpt-4o")
		assert.Equal(t, SourceModelsDev, resolved.Source)
		assert.InDelta(t, 5.0, resolved.InputPerMillion, 1e-9)
		assert.InDelta(t, 15.0, resolved.OutputPerMillion, 1e-9)
	})

	t.Run("custom beats synced", func(t *testing.T) {
		require.NoError(t, store.SetCustom(ctx, "openai", "gpt-4o", 10, 30))
		resolved := resolver.Resolve(ctx, "openai", "gpt-4o")
		assert.Equal(t, SourceCustom, resolved.Source)
		assert.Equal(t, 10.0, resolved.InputPerMillion)
		assert.Equal(t, 30.0, resolved.OutputPerMillion)
	})
}

func TestCalculateCost(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(NewResolver(store))
	ctx := context.Background()

	require.NoError(t, store.UpsertSynced(ctx, "openai", "gpt-4o", 0.000005, 0.000015))

	t.Run("synced price scenario", func(t *testing.T) {
		cost, ok := calc.CalculateCost(ctx, "gpt-4o", "openai", 1000, 500)
		require.True(t, ok)
		assert.InDelta(t, 0.0125, cost, 1e-9)
	})

	t.Run("zero input tokens undefined", func(t *testing.T) {
		_, ok := calc.CalculateCost(ctx, "gpt-4o", "openai", 0, 100)
		assert.False(t, ok)
	})

	t.Run("zero output tokens undefined", func(t *testing.T) {
		_, ok := calc.CalculateCost(ctx, "gpt-4o", "openai", 100, 0)
		assert.False(t, ok)
	})

	t.Run("negative tokens undefined", func(t *testing.T) {
		_, ok := calc.CalculateCost(ctx, "gpt-4o", "openai", -1, 100)
		assert.False(t, ok)
	})

	t.Run("custom override takes priority", func(t *testing.T) {
		require.NoError(t, store.SetCustom(ctx, "openai", "gpt-4o", 10, 30))
		cost, ok := calc.CalculateCost(ctx, "gpt-4o", "openai", 1000, 1000)
		require.True(t, ok)
		assert.InDelta(t, 0.04, cost, 1e-9)
	})
}

func TestProviderDisambiguation(t *testing.T) {
	// The same model id under two providers must never be conflated.
	store := newTestStore(t)
	calc := NewCalculator(NewResolver(store))
	ctx := context.Background()

	require.NoError(t, store.SetCustom(ctx, "openai", "shared-model", 10, 30))
	require.NoError(t, store.SetCustom(ctx, "anthropic", "shared-model", 1, 3))

	openaiCost, ok := calc.CalculateCost(ctx, "shared-model", "openai", 1000, 1000)
	require.True(t, ok)
	anthropicCost, ok := calc.CalculateCost(ctx, "shared-model", "anthropic", 1000, 1000)
	require.True(t, ok)

	assert.InDelta(t, 0.04, openaiCost, 1e-9)
	assert.InDelta(t, 0.004, anthropicCost, 1e-9)
	assert.NotEqual(t, openaiCost, anthropicCost)
}

func TestSync(t *testing.T) {
	catalog := `{
		"openai": {
			"models": {
				"gpt-4o":      {"cost": {"input": 5, "output": 15}},
				"gpt-4o-mini": {"cost": {"input": 0.15, "output": 0.6}}
			}
		},
		"ollama": {
			"models": {
				"llama3.1": {}
			}
		}
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(catalog))
	}))
	t.Cleanup(server.Close)

	store := newTestStore(t)
	syncer := NewSyncer(store, server.URL)
	ctx := context.Background()

	written, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, written, "models without cost data are skipped")

	rec, err := store.Get(ctx, "openai", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.SyncedInputPerToken)
	assert.InDelta(t, 0.000005, *rec.SyncedInputPerToken, 1e-12)
	assert.InDelta(t, 0.000015, *rec.SyncedOutputPerToken, 1e-12)

	t.Run("sync preserves custom overrides", func(t *testing.T) {
		require.NoError(t, store.SetCustom(ctx, "openai", "gpt-4o", 99, 99))
		_, err := syncer.Sync(ctx)
		require.NoError(t, err)
		rec, err := store.Get(ctx, "openai", "gpt-4o")
		require.NoError(t, err)
		require.NotNil(t, rec.CustomInputPerMillion)
		assert.Equal(t, 99.0, *rec.CustomInputPerMillion)
	})
}

func TestSyncErrors(t *testing.T) {
	store := newTestStore(t)

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)

		_, err := NewSyncer(store, server.URL).Sync(context.Background())
		assert.Error(t, err)
	})

	t.Run("malformed catalog", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		t.Cleanup(server.Close)

		_, err := NewSyncer(store, server.URL).Sync(context.Background())
		assert.Error(t, err)
	})
}
