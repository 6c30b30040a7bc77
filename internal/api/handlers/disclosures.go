package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type createDisclosureRequest struct {
	ClaimToken           string           `json:"claim_token"`
	PostType             string           `json:"post_type"`
	Summary              string           `json:"summary"`
	BenchmarkMarketplace string           `json:"benchmark_marketplace"`
	BenchmarkURL         string           `json:"benchmark_url"`
	BenchmarkPricePerTon *decimal.Decimal `json:"benchmark_price_per_ton"`
}

// CreateDisclosure posts a human transparency disclosure. Gated on the claim
// token rather than the bearer key: these posts come from the agent's human
// owner, and only claimed agents have one.
func (h *Handlers) CreateDisclosure(w http.ResponseWriter, r *http.Request) {
	var req createDisclosureRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token := strings.TrimSpace(req.ClaimToken)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "Missing claim_token", "Disclosures are posted with your agent's claim token")
		return
	}
	agent, err := h.Store.GetAgentByClaimToken(r.Context(), token)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusUnauthorized, "Unknown claim_token", "No agent matches this claim token")
			return
		}
		respondDomainError(w, err)
		return
	}
	if agent.ClaimStatus != models.ClaimClaimed {
		respondError(w, http.StatusForbidden, "Not claimed", "Claim the agent before posting disclosures")
		return
	}

	postType := models.DisclosureType(strings.TrimSpace(req.PostType))
	if postType != models.DisclosureBuyCriteria && postType != models.DisclosureSoldDisclosure {
		respondError(w, http.StatusBadRequest, "Invalid post_type", "post_type must be buy_criteria or sold_disclosure")
		return
	}
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		respondError(w, http.StatusBadRequest, "Missing summary", "Provide a short summary of the disclosure")
		return
	}
	if req.BenchmarkPricePerTon != nil && !req.BenchmarkPricePerTon.IsPositive() {
		respondError(w, http.StatusBadRequest, "Invalid benchmark_price_per_ton", "benchmark_price_per_ton must be a positive number.")
		return
	}

	post := &models.HumanDisclosure{
		ID:                   models.NewID(),
		AgentID:              agent.ID,
		PostType:             postType,
		Summary:              summary,
		BenchmarkMarketplace: strings.TrimSpace(req.BenchmarkMarketplace),
		BenchmarkURL:         strings.TrimSpace(req.BenchmarkURL),
		BenchmarkPricePerTon: req.BenchmarkPricePerTon,
		CreatedAt:            time.Now().UTC(),
	}
	if err := h.Store.CreateDisclosure(r.Context(), post); err != nil {
		respondDomainError(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("type", string(postType)).Msg("Disclosure posted")
	respondData(w, http.StatusCreated, post)
}

// ListDisclosures returns recent disclosures, newest first. Public.
func (h *Handlers) ListDisclosures(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Store.ListDisclosures(r.Context(), 50)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if posts == nil {
		posts = []models.HumanDisclosure{}
	}
	respondData(w, http.StatusOK, map[string]any{"disclosures": posts, "count": len(posts)})
}
