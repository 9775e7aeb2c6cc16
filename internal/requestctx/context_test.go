package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TenantID(ctx))

	ctx = SetTenantID(ctx, "acme")
	assert.Equal(t, "acme", TenantID(ctx))
}

func TestAgentID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, AgentID(ctx))

	ctx = SetAgentID(ctx, "support-bot")
	assert.Equal(t, "support-bot", AgentID(ctx))

	t.Run("tenant and agent do not collide", func(t *testing.T) {
		ctx := SetTenantID(SetAgentID(context.Background(), "a"), "t")
		assert.Equal(t, "a", AgentID(ctx))
		assert.Equal(t, "t", TenantID(ctx))
	})
}
