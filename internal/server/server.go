package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warden-ai/warden/internal/credentials"
	"github.com/warden-ai/warden/internal/interaction"
	"github.com/warden-ai/warden/internal/llm"
	"github.com/warden-ai/warden/internal/pricing"
	"github.com/warden-ai/warden/internal/quarantine"
	"github.com/warden-ai/warden/internal/trust"
)

const defaultTimeout = 60 * time.Second

// ProviderFactory builds a model provider from a provider name and API
// key. Overridable in tests to point at a mock endpoint.
type ProviderFactory func(providerName, apiKey string) (llm.Provider, error)

// Server holds all dependencies for the HTTP API.
type Server struct {
	router          *chi.Mux
	engine          *trust.Engine
	quarantineStore *quarantine.Store
	pricingStore    *pricing.Store
	resolver        *pricing.Resolver
	calculator      *pricing.Calculator
	syncer          *pricing.Syncer
	interactions    *interaction.Store
	vault           *credentials.Vault

	apiKeys          map[string]string
	limiter          *RateLimiter
	corsOrigins      []string
	providerFactory  ProviderFactory
	isolationEnabled bool
	onFailure        string
	privilegedModel  string
	quarantineModel  string
	startTime        time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter enables request rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithCORSOrigins sets allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithProviderFactory overrides how model providers are constructed.
func WithProviderFactory(f ProviderFactory) Option {
	return func(s *Server) { s.providerFactory = f }
}

// WithSyncer enables the POST /v1/pricing/sync endpoint.
func WithSyncer(sy *pricing.Syncer) Option {
	return func(s *Server) { s.syncer = sy }
}

// WithIsolation configures the quarantine pipeline: whether it runs at
// all, how a protocol failure is handled, and which models it uses.
func WithIsolation(enabled bool, onFailure, privilegedModel, quarantineModel string) Option {
	return func(s *Server) {
		s.isolationEnabled = enabled
		s.onFailure = onFailure
		s.privilegedModel = privilegedModel
		s.quarantineModel = quarantineModel
	}
}

// NewServer builds a Server. apiKeys maps API key -> tenant_id.
func NewServer(
	engine *trust.Engine,
	quarantineStore *quarantine.Store,
	pricingStore *pricing.Store,
	interactions *interaction.Store,
	vault *credentials.Vault,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	resolver := pricing.NewResolver(pricingStore)
	s := &Server{
		router:          chi.NewRouter(),
		engine:          engine,
		quarantineStore: quarantineStore,
		pricingStore:    pricingStore,
		resolver:        resolver,
		calculator:      pricing.NewCalculator(resolver),
		interactions:    interactions,
		vault:           vault,
		apiKeys:         apiKeys,
		corsOrigins:     []string{"*"},
		onFailure:       trust.OnFailureBlock,
		startTime:       time.Now(),
		providerFactory: func(name, key string) (llm.Provider, error) {
			return llm.NewProvider(name, key)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured chi router.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))

		// The filter route runs quarantine protocols; no request timeout
		// here, the protocol carries its own deadline.
		r.Post("/v1/context/filter", s.handleContextFilter)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))

			r.Get("/v1/pricing", s.handlePricingList)
			r.Get("/v1/pricing/{provider}/{model}", s.handlePricingGet)
			r.Put("/v1/pricing/{provider}/{model}", s.handlePricingSet)
			r.Delete("/v1/pricing/{provider}/{model}", s.handlePricingClear)
			r.Post("/v1/pricing/sync", s.handlePricingSync)

			r.Get("/v1/interactions", s.handleInteractionsList)
			r.Get("/v1/interactions/{id}", s.handleInteractionGet)
			r.Get("/v1/interactions/{id}/verify", s.handleInteractionVerify)
			r.Get("/v1/costs", s.handleCosts)
			r.Get("/v1/costs/by-agent", s.handleCostsByAgent)

			r.Get("/v1/credentials", s.handleCredentialsList)
			r.Get("/v1/credentials/audit", s.handleCredentialsAudit)
			r.Put("/v1/credentials/{provider}", s.handleCredentialsSet)
			r.Delete("/v1/credentials/{provider}", s.handleCredentialsDelete)
		})
	})

	return r
}
