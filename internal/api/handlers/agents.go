package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/rs/zerolog/log"
)

type registerAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Role        string `json:"role"`
	OwnerEmail  string `json:"owner_email"`
}

// RegisterAgent creates a new agent and returns its credentials. The API key
// is shown exactly once here.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 {
		respondError(w, http.StatusBadRequest, "Invalid name", "name must be at least 2 characters.")
		return
	}

	if _, err := h.Store.GetAgentByName(r.Context(), name); err == nil {
		respondError(w, http.StatusConflict, "Name taken", "An agent with this name already exists")
		return
	} else if !store.IsNotFound(err) {
		respondDomainError(w, err)
		return
	}

	role := models.AgentRole(strings.ToLower(strings.TrimSpace(req.Role)))
	switch role {
	case models.RoleSeller, models.RoleBuyer, models.RoleHybrid:
	case "":
		role = models.RoleHybrid
	default:
		respondError(w, http.StatusBadRequest, "Invalid role", "role must be seller, buyer, or hybrid")
		return
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:          models.NewID(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Role:        role,
		APIKey:      models.NewAPIKey(),
		ClaimToken:  models.NewClaimToken(),
		ClaimStatus: models.ClaimPending,
		OwnerEmail:  strings.TrimSpace(req.OwnerEmail),
		LastActive:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.CreateAgent(r.Context(), agent); err != nil {
		respondDomainError(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("id", agent.ID).Str("role", string(role)).Msg("Agent registered")
	respondData(w, http.StatusCreated, map[string]any{
		"agent":     agent,
		"api_key":   agent.APIKey,
		"claim_url": h.BaseURL + "/claim/" + agent.ClaimToken,
		"notice":    "SAVE YOUR API KEY — it is shown only once and cannot be recovered.",
	})
}

// ListAgents returns registered agents, newest first. Credentials are never
// serialized.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context(), 100)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondData(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

type claimAgentRequest struct {
	ClaimToken string `json:"claim_token"`
	OwnerEmail string `json:"owner_email"`
}

// ClaimAgent transitions an agent pending_claim→claimed. Claiming an already
// claimed agent with the same token is an idempotent no-op.
func (h *Handlers) ClaimAgent(w http.ResponseWriter, r *http.Request) {
	var req claimAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.ClaimToken)
	if token == "" {
		respondError(w, http.StatusBadRequest, "Missing claim_token", "Provide the claim_token from your claim URL")
		return
	}

	agent, err := h.Store.GetAgentByClaimToken(r.Context(), token)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Not found", "Unknown claim token")
			return
		}
		respondDomainError(w, err)
		return
	}

	if agent.ClaimStatus != models.ClaimClaimed {
		agent.ClaimStatus = models.ClaimClaimed
		if email := strings.TrimSpace(req.OwnerEmail); email != "" {
			agent.OwnerEmail = email
		}
		agent.UpdatedAt = time.Now().UTC()
		if err := h.Store.UpdateAgent(r.Context(), agent); err != nil {
			respondDomainError(w, err)
			return
		}
		log.Info().Str("agent", agent.Name).Msg("Agent claimed")
	}

	respondData(w, http.StatusOK, map[string]any{
		"agent":        agent,
		"claim_status": agent.ClaimStatus,
	})
}

// agentObservation is one row of the public observe endpoint.
type agentObservation struct {
	models.Agent
	OpenLots        int `json:"open_lots"`
	ActiveBids      int `json:"active_bids"`
	TradesAsBuyer   int `json:"trades_as_buyer"`
	TradesAsSeller  int `json:"trades_as_seller"`
	CompletedTrades int `json:"completed_trades"`
}

// ObserveAgents returns per-agent market participation counts. Sub-query
// failures degrade to zero counts rather than failing the whole read.
func (h *Handlers) ObserveAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgentsByActivity(r.Context(), 50)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	observations := make([]agentObservation, 0, len(agents))
	for i := range agents {
		a := agents[i]
		obs := agentObservation{Agent: a}

		if lots, err := h.Store.ListLots(r.Context(), store.LotFilter{Status: models.LotOpen, SellerAgentID: a.ID}); err == nil {
			obs.OpenLots = len(lots)
		}
		if n, err := h.Store.CountBidsByBuyer(r.Context(), a.ID, models.BidActive); err == nil {
			obs.ActiveBids = n
		}
		if n, err := h.Store.CountTradesByBuyer(r.Context(), a.ID); err == nil {
			obs.TradesAsBuyer = n
		}
		if n, err := h.Store.CountTradesBySeller(r.Context(), a.ID); err == nil {
			obs.TradesAsSeller = n
		}
		if n, err := h.Store.CountCompletedTradesByParty(r.Context(), a.ID); err == nil {
			obs.CompletedTrades = n
		}
		observations = append(observations, obs)
	}

	respondData(w, http.StatusOK, map[string]any{"agents": observations, "count": len(observations)})
}

// BoostRound advances the scripted demo negotiation by one phase.
func (h *Handlers) BoostRound(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.RunRound(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, result)
}
