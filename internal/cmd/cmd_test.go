package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-ai/warden/internal/interaction"
)

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"bare key", "wk-abc", map[string]string{"wk-abc": "default"}},
		{"key with tenant", "wk-abc:acme", map[string]string{"wk-abc": "acme"}},
		{"mixed with spaces", " wk-a , wk-b:acme ", map[string]string{"wk-a": "default", "wk-b": "acme"}},
		{"trailing comma", "wk-a,", map[string]string{"wk-a": "default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAPIKeys(tt.env))
		})
	}
}

func TestRenderCostsByAgent(t *testing.T) {
	var buf bytes.Buffer
	renderCostsByAgent(&buf, "acme", map[string]*interaction.CostSummary{
		"agent-b": {Total: 0.5, KnownCount: 10},
		"agent-a": {Total: 1.25, KnownCount: 20, UnknownCount: 2},
	})

	out := buf.String()
	assert.Contains(t, out, "agent-a")
	assert.Contains(t, out, "$1.2500")
	assert.Contains(t, out, "2 with unknown cost")
	// Sorted output: agent-a before agent-b.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("agent-a")), bytes.Index(buf.Bytes(), []byte("agent-b")))
}

func TestRenderCostsByAgentEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderCostsByAgent(&buf, "acme", nil)
	assert.Contains(t, buf.String(), "no interactions recorded")
}

func TestCostSummaryRoundTrip(t *testing.T) {
	// Sanity check that the store the costs command opens aggregates the
	// way the renderer expects.
	store, err := interaction.NewStore(filepath.Join(t.TempDir(), "i.db"), "test-signing-key-0123456789abcdef")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, &interaction.Interaction{
		Timestamp: now, TenantID: "default", AgentID: "agent-1",
		Provider: "openai", Model: "gpt-4o", Cost: 0.01, CostKnown: true,
	}))

	sum, err := store.CostTotal(ctx, "default", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.KnownCount)
}
