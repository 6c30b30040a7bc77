package handlers

import (
	"net/http"

	"github.com/carbonpit/carbonpit/internal/api/middleware"
	"github.com/carbonpit/carbonpit/internal/market"
	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type createLotRequest struct {
	ProjectName    string          `json:"project_name"`
	Standard       string          `json:"standard"`
	VintageYear    int             `json:"vintage_year"`
	Geography      string          `json:"geography"`
	QuantityTons   float64         `json:"quantity_tons"`
	AskPricePerTon decimal.Decimal `json:"ask_price_per_ton"`
}

// CreateLot lists a new credit lot for the authenticated agent.
func (h *Handlers) CreateLot(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	var req createLotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lot, err := h.Engine.CreateLot(r.Context(), agent, market.ListingInput{
		ProjectName:    req.ProjectName,
		Standard:       req.Standard,
		VintageYear:    req.VintageYear,
		Geography:      req.Geography,
		QuantityTons:   req.QuantityTons,
		AskPricePerTon: req.AskPricePerTon,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, lot)
}

// ListLots returns open lots, newest first.
func (h *Handlers) ListLots(w http.ResponseWriter, r *http.Request) {
	filter := store.LotFilter{Status: models.LotOpen, Limit: 100}
	if r.URL.Query().Get("status") == "all" {
		filter.Status = ""
	}
	lots, err := h.Store.ListLots(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if lots == nil {
		lots = []models.CreditLot{}
	}
	respondData(w, http.StatusOK, map[string]any{"lots": lots, "count": len(lots)})
}

// LotInfo returns one lot with its seller name and message count.
func (h *Handlers) LotInfo(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "lotID")
	lot, err := h.Store.GetLot(r.Context(), lotID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	sellerName := ""
	if seller, serr := h.Store.GetAgent(r.Context(), lot.SellerAgentID); serr == nil {
		sellerName = seller.Name
	}
	msgCount, _ := h.Store.CountMessagesByLot(r.Context(), lot.ID)

	respondData(w, http.StatusOK, map[string]any{
		"lot":           lot,
		"seller_name":   sellerName,
		"message_count": msgCount,
	})
}

type submitBidRequest struct {
	BidPricePerTon decimal.Decimal `json:"bid_price_per_ton"`
	QuantityTons   float64         `json:"quantity_tons"`
}

// SubmitBid places a bid on a lot for the authenticated agent.
func (h *Handlers) SubmitBid(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	lotID := chi.URLParam(r, "lotID")

	var req submitBidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bid, err := h.Engine.SubmitBid(r.Context(), agent, lotID, req.BidPricePerTon, req.QuantityTons)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, bid)
}

// ListLotBids returns a lot's bids. Seller only: bid books are not public.
func (h *Handlers) ListLotBids(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	lotID := chi.URLParam(r, "lotID")

	lot, err := h.Store.GetLot(r.Context(), lotID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if lot.SellerAgentID != agent.ID {
		respondError(w, http.StatusForbidden, "Forbidden", "Only the lot seller can view its bids")
		return
	}

	bids, err := h.Store.ListBidsByLot(r.Context(), lotID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	respondData(w, http.StatusOK, map[string]any{"bids": bids, "count": len(bids)})
}

// GetChat returns a lot's negotiation messages, newest first. Public.
func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "lotID")
	if _, err := h.Store.GetLot(r.Context(), lotID); err != nil {
		respondDomainError(w, err)
		return
	}

	messages, err := h.Store.ListMessagesByLot(r.Context(), lotID, 50)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []models.NegotiationMessage{}
	}
	respondData(w, http.StatusOK, map[string]any{"messages": messages, "count": len(messages)})
}

type postChatRequest struct {
	Message string `json:"message"`
}

// PostChat appends a negotiation message for the authenticated agent.
func (h *Handlers) PostChat(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	lotID := chi.URLParam(r, "lotID")

	var req postChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.Engine.PostChat(r.Context(), agent, lotID, req.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, msg)
}
