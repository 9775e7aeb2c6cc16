// Package requestctx provides request-scoped identity values set by middleware.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	tenantIDKey = &contextKey{"tenant_id"}
	agentIDKey  = &contextKey{"agent_id"}
)

// SetTenantID stores tenant_id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant_id from context, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// SetAgentID stores agent_id in the context.
func SetAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID returns the agent_id from context, or "" if not set.
func AgentID(ctx context.Context) string {
	v, _ := ctx.Value(agentIDKey).(string)
	return v
}
