package server

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/warden-ai/warden/internal/requestctx"
)

// RateLimiter enforces per-tenant and global request rates using token
// buckets.
type RateLimiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	tenants   map[string]*rate.Limiter
	perTenant rate.Limit
	burst     int
}

// NewRateLimiter builds a limiter from requests-per-minute figures.
func NewRateLimiter(globalRPM, perTenantRPM int) *RateLimiter {
	globalBurst := globalRPM
	if globalBurst < 1 {
		globalBurst = 1
	}
	tenantBurst := perTenantRPM
	if tenantBurst < 1 {
		tenantBurst = 1
	}
	return &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(float64(globalRPM)/60.0), globalBurst),
		tenants:   make(map[string]*rate.Limiter),
		perTenant: rate.Limit(float64(perTenantRPM) / 60.0),
		burst:     tenantBurst,
	}
}

// Allow reports whether a request from the tenant may proceed.
func (rl *RateLimiter) Allow(tenantID string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.tenants[tenantID]
	if !ok {
		limiter = rate.NewLimiter(rl.perTenant, rl.burst)
		rl.tenants[tenantID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// RateLimitMiddleware returns 429 when the tenant exceeds its rate. A nil
// limiter disables limiting.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := requestctx.TenantID(r.Context())
			if tenantID != "" && !rl.Allow(tenantID) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "request rate exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
