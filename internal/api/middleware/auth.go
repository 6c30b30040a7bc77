package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type contextKey string

const agentContextKey contextKey = "carbonpit.agent"

// RequireAgent returns middleware that resolves the caller's Bearer API key
// to a registered agent, stores the agent in the request context, and
// refreshes the agent's last-active timestamp. Requests without a valid key
// are rejected with a 401 in the standard response envelope.
func RequireAgent(s store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := extractAPIKey(r)
			if apiKey == "" {
				respondUnauthorized(w, "Provide your API key as Authorization: Bearer <api_key>")
				return
			}

			agent, err := s.GetAgentByAPIKey(r.Context(), apiKey)
			if err != nil {
				if store.IsNotFound(err) {
					respondUnauthorized(w, "Unknown API key. Register first via POST /api/v1/agents/register")
					return
				}
				log.Error().Err(err).Msg("API key lookup failed")
				respondUnauthorized(w, "Authentication unavailable, retry shortly")
				return
			}

			// Every authenticated action counts as activity.
			agent.LastActive = time.Now().UTC()
			if err := s.UpdateAgent(r.Context(), agent); err != nil {
				log.Warn().Err(err).Str("agent", agent.Name).Msg("Failed to refresh last_active")
			}

			ctx := context.WithValue(r.Context(), agentContextKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext returns the authenticated agent placed by RequireAgent,
// or nil on unauthenticated routes.
func AgentFromContext(ctx context.Context) *models.Agent {
	agent, _ := ctx.Value(agentContextKey).(*models.Agent)
	return agent
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

func respondUnauthorized(w http.ResponseWriter, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="carbonpit"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "Unauthorized",
		"hint":    hint,
	})
}
