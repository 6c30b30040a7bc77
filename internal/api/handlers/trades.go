package handlers

import (
	"net/http"

	"github.com/carbonpit/carbonpit/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

// AcceptBid accepts a bid on behalf of the authenticated seller, closing the
// lot and creating the settlement trade.
func (h *Handlers) AcceptBid(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	bidID := chi.URLParam(r, "bidID")

	trade, err := h.Engine.AcceptBid(r.Context(), agent, bidID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, trade)
}

// CompleteTrade settles a pending trade. Either trade party may call it.
func (h *Handlers) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := h.Engine.CompleteTrade(r.Context(), agent, tradeID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, trade)
}
