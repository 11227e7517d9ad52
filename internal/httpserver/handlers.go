package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aiorchestrator/orchestrator/internal/breaker"
	"github.com/aiorchestrator/orchestrator/internal/cache"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/health"
	"github.com/aiorchestrator/orchestrator/internal/orchestrator"
	"github.com/aiorchestrator/orchestrator/internal/quota"
	"github.com/aiorchestrator/orchestrator/internal/telemetry"
)

// Server holds the collaborators the demo routes call straight into.
// Nothing here does business logic; every handler is a thin JSON
// marshal/unmarshal wrapper around an existing public method.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Monitor
	Breakers     *breaker.Registry
	Telemetry    *telemetry.Collector
	Quota        *quota.Service
	QuotaCfg     quota.Limits
	Cache        *cache.Cache
}

type generateRequest struct {
	Prompt           string   `json:"prompt" validate:"required"`
	Model            string   `json:"model"`
	UserID           string   `json:"userId"`
	SessionID        string   `json:"sessionId"`
	RequestID        string   `json:"requestId"`
	UseCache         bool     `json:"useCache"`
	RecordQuota      bool     `json:"recordQuota"`
	Fallback         bool     `json:"fallback"`
	Temperature      *float64 `json:"temperature"`
	MaxTokens        *int     `json:"maxTokens"`
	TopP             *float64 `json:"topP"`
	FrequencyPenalty *float64 `json:"frequencyPenalty"`
	PresencePenalty  *float64 `json:"presencePenalty"`
}

func (g generateRequest) toOptions() domain.RequestOptions {
	return domain.RequestOptions{
		Model:            g.Model,
		UserID:           g.UserID,
		SessionID:        g.SessionID,
		RequestID:        g.RequestID,
		UseCache:         g.UseCache,
		RecordQuota:      g.RecordQuota,
		Temperature:      g.Temperature,
		MaxTokens:        g.MaxTokens,
		TopP:             g.TopP,
		FrequencyPenalty: g.FrequencyPenalty,
		PresencePenalty:  g.PresencePenalty,
	}
}

// GenerateHandler serves POST /generate. Setting "fallback": true in the
// body routes through GenerateWithFallback (never errors, may return the
// static degraded response); otherwise it calls Generate directly.
func (s *Server) GenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "malformed json body", Err: err})
			return
		}
		if req.Prompt == "" {
			writeError(w, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "prompt is required"})
			return
		}

		options := req.toOptions()
		if req.Fallback {
			resp := s.Orchestrator.GenerateWithFallback(r.Context(), req.Prompt, options)
			writeJSON(w, http.StatusOK, resp)
			return
		}

		resp, err := s.Orchestrator.Generate(r.Context(), req.Prompt, options)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HealthHandler serves GET /health: the health monitor's current view of
// every provider.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"providers": s.Health.All(),
		})
	}
}

// StatsHandler serves GET /stats: the in-memory telemetry snapshot plus
// per-circuit breaker stats.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"requests": s.Telemetry.Snapshot(),
			"circuits": s.Breakers.AllStats(),
		})
	}
}

type cacheInvalidateRequest struct {
	Key     string `json:"key"`
	Tag     string `json:"tag"`
	Pattern string `json:"pattern"`
}

// CacheInvalidateHandler serves POST /admin/cache/invalidate, dispatching
// on whichever of key/tag/pattern the caller supplied.
func (s *Server) CacheInvalidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cacheInvalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "malformed json body", Err: err})
			return
		}

		var err error
		switch {
		case req.Key != "":
			err = s.Cache.Invalidate(r.Context(), req.Key)
		case req.Tag != "":
			err = s.Cache.InvalidateByTag(r.Context(), req.Tag)
		case req.Pattern != "":
			err = s.Cache.InvalidateByPattern(r.Context(), req.Pattern)
		default:
			writeError(w, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "one of key, tag, or pattern is required"})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
	}
}

// QuotaHandler serves GET /admin/quota/{userId}: a read-only peek at the
// user's current usage, implemented by calling Enforce with zero limits
// so no dimension ever denies.
func (s *Server) QuotaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if userID == "" {
			writeError(w, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "userId is required"})
			return
		}
		snapshot, err := s.Quota.Enforce(r.Context(), userID, r.URL.Query().Get("sessionId"), quota.Limits{})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}
