package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/warden-ai/warden/internal/credentials"
	"github.com/warden-ai/warden/internal/interaction"
	"github.com/warden-ai/warden/internal/llm"
	"github.com/warden-ai/warden/internal/message"
	"github.com/warden-ai/warden/internal/quarantine"
	"github.com/warden-ai/warden/internal/requestctx"
	"github.com/warden-ai/warden/internal/trust"
)

// apiMessage is the wire form of a conversation message.
type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type filterRequest struct {
	AgentID  string       `json:"agent_id"`
	Provider string       `json:"provider"`
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Usage    *apiUsage    `json:"usage,omitempty"`
}

type filterResponse struct {
	InteractionID  string       `json:"interaction_id"`
	Messages       []apiMessage `json:"messages"`
	ContextTrusted bool         `json:"context_trusted"`
	QuarantineRuns int          `json:"quarantine_runs"`
	CacheHits      int          `json:"cache_hits"`
	BlockedResults int          `json:"blocked_results"`
	Cost           float64      `json:"cost"`
	CostKnown      bool         `json:"cost_known"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// handleContextFilter runs the trust pipeline over a conversation and
// records the interaction in the signed ledger.
func (s *Server) handleContextFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.AgentID == "" || req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "agent_id, provider and model are required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return
	}

	ctx := requestctx.SetAgentID(r.Context(), req.AgentID)
	tenantID := requestctx.TenantID(ctx)

	msgs := toMessages(req.Messages)

	aggregator, err := s.buildAggregator(ctx, tenantID, req.AgentID, req.Provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	out, err := aggregator.Process(ctx, msgs, req.AgentID)
	if err != nil {
		log.Error().Err(err).Str("agent_id", req.AgentID).Msg("context_filter_failed")
		writeError(w, http.StatusInternalServerError, "internal", "context filtering failed")
		return
	}

	cost, costKnown := s.interactionCost(ctx, &req, out)

	rec := &interaction.Interaction{
		TenantID:       tenantID,
		AgentID:        req.AgentID,
		Provider:       req.Provider,
		Model:          req.Model,
		Cost:           cost,
		CostKnown:      costKnown,
		ContextTrusted: out.ContextTrusted,
		QuarantineRuns: out.QuarantineRuns,
		BlockedResults: out.BlockedCount,
	}
	if req.Usage != nil {
		rec.InputTokens = req.Usage.InputTokens
		rec.OutputTokens = req.Usage.OutputTokens
	}
	if err := s.interactions.Save(ctx, rec); err != nil {
		log.Error().Err(err).Str("agent_id", req.AgentID).Msg("interaction_record_failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to record interaction")
		return
	}

	writeJSON(w, http.StatusOK, filterResponse{
		InteractionID:  rec.ID,
		Messages:       fromMessages(out.Messages),
		ContextTrusted: out.ContextTrusted,
		QuarantineRuns: out.QuarantineRuns,
		CacheHits:      out.CacheHits,
		BlockedResults: out.BlockedCount,
		Cost:           cost,
		CostKnown:      costKnown,
	})
}

// buildAggregator assembles the pipeline for one request. When no key is
// stored for the provider the subagent still gets built; its calls fail
// and the configured on-failure strictness applies.
func (s *Server) buildAggregator(ctx context.Context, tenantID, agentID, providerName string) (*trust.Aggregator, error) {
	var subagent trust.SubagentRunner
	if s.isolationEnabled {
		apiKey, err := s.vault.GetKey(ctx, tenantID, providerName, agentID)
		if err != nil && !errors.Is(err, credentials.ErrKeyNotFound) {
			return nil, err
		}
		provider, err := s.providerFactory(providerName, apiKey)
		if err != nil {
			if !errors.Is(err, llm.ErrUnknownProvider) {
				return nil, err
			}
			provider = nil
		}
		if provider != nil {
			subagent = quarantine.NewSubagent(provider, provider, s.privilegedModel, s.quarantineModel)
		}
	}
	if subagent == nil {
		subagent = failingSubagent{}
	}
	return trust.NewAggregator(s.engine, s.quarantineStore, subagent, s.isolationEnabled, s.onFailure), nil
}

// failingSubagent stands in when no provider can be built; every run
// fails and the on-failure mode decides the outcome.
type failingSubagent struct{}

func (failingSubagent) Run(ctx context.Context, history []message.Message, untrusted message.Message, toolName, agentID string) (*quarantine.RunResult, error) {
	return nil, errors.New("no provider available for quarantine")
}

// interactionCost prices the request usage plus any quarantine overhead.
// Quarantine tokens are billed at the privileged model's rate. Cost is
// unknown whenever any component cannot be priced; unknown cost is zeroed
// so it can never leak into sums.
func (s *Server) interactionCost(ctx context.Context, req *filterRequest, out *trust.Outcome) (float64, bool) {
	cost := 0.0
	known := true

	if req.Usage != nil {
		c, ok := s.calculator.CalculateCost(ctx, req.Model, req.Provider, req.Usage.InputTokens, req.Usage.OutputTokens)
		cost += c
		known = known && ok
	} else {
		known = false
	}

	if out.QuarantineRuns > 0 {
		c, ok := s.calculator.CalculateCost(ctx, s.privilegedModel, req.Provider, out.InputTokens, out.OutputTokens)
		cost += c
		known = known && ok
	}

	if !known {
		return 0, false
	}
	return cost, true
}

func toMessages(in []apiMessage) []message.Message {
	out := make([]message.Message, len(in))
	for i, m := range in {
		msg := message.Message{
			Role:    message.Role(m.Role),
			Content: m.Content,
			CallID:  m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, message.ToolCallRecord{
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		out[i] = msg
	}
	return out
}

func fromMessages(in []message.Message) []apiMessage {
	out := make([]apiMessage, len(in))
	for i, m := range in {
		am := apiMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.CallID,
		}
		for _, tc := range m.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, apiToolCall{
				ID:        tc.CallID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		out[i] = am
	}
	return out
}

type pricingSetRequest struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

func (s *Server) handlePricingList(w http.ResponseWriter, r *http.Request) {
	records, err := s.pricingStore.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pricing": records})
}

func (s *Server) handlePricingGet(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	model := chi.URLParam(r, "model")

	resolved := s.resolver.Resolve(r.Context(), provider, model)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":           provider,
		"model":              model,
		"input_per_million":  resolved.InputPerMillion,
		"output_per_million": resolved.OutputPerMillion,
		"source":             resolved.Source,
	})
}

func (s *Server) handlePricingSet(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	model := chi.URLParam(r, "model")

	var req pricingSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.InputPerMillion < 0 || req.OutputPerMillion < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "prices must not be negative")
		return
	}

	if err := s.pricingStore.SetCustom(r.Context(), provider, model, req.InputPerMillion, req.OutputPerMillion); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePricingClear(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	model := chi.URLParam(r, "model")

	if err := s.pricingStore.ClearCustom(r.Context(), provider, model); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePricingSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync_unavailable", "pricing sync is not configured")
		return
	}
	n, err := s.syncer.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"models_synced": n})
}

func (s *Server) handleInteractionsList(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	agentID := r.URL.Query().Get("agent_id")
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
	}

	records, err := s.interactions.List(r.Context(), tenantID, agentID, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interactions": records})
}

func (s *Server) handleInteractionGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.interactions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if rec.TenantID != requestctx.TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "interaction not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInteractionVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.interactions.Get(r.Context(), id)
	if err != nil || rec.TenantID != requestctx.TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "interaction not found")
		return
	}
	ok, err := s.interactions.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "valid": ok})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sum, err := s.interactions.CostTotal(r.Context(), tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCostsByAgent(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	byAgent, err := s.interactions.CostByAgent(r.Context(), tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": byAgent})
}

type credentialsSetRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleCredentialsSet(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	var req credentialsSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "api_key is required")
		return
	}
	tenantID := requestctx.TenantID(r.Context())
	if err := s.vault.SetKey(r.Context(), tenantID, provider, req.APIKey); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleCredentialsDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	if err := s.vault.DeleteKey(r.Context(), tenantID, chi.URLParam(r, "provider")); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	providers, err := s.vault.ListProviders(r.Context(), requestctx.TenantID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

func (s *Server) handleCredentialsAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.vault.AuditLog(r.Context(), requestctx.TenantID(r.Context()), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// parseWindow reads optional RFC 3339 from/to query params. Defaults to
// the last 30 days ending now; the window is half-open [from, to).
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = t
	}
	return from, to, nil
}
