package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/internal/market"
	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
)

// referenceMarkets are external marketplaces linked from the public credits
// view so observers can compare prices.
var referenceMarkets = []map[string]string{
	{"name": "Xpansiv CBL", "url": "https://xpansiv.com/cbl"},
	{"name": "AirCarbon Exchange", "url": "https://acx.net"},
	{"name": "Carbon Trade Exchange", "url": "https://ctxglobal.com"},
}

// creditListing is one row of the public market view.
type creditListing struct {
	Lot        models.CreditLot `json:"lot"`
	SellerName string           `json:"seller_name"`
	BidCount   int              `json:"bid_count"`
	TopBid     string           `json:"top_bid,omitempty"`
}

// MarketCredits returns the public market view: open lots that pass the
// strict canonical-consistency check and whose seller resolves to a real,
// non-placeholder name. Permissively validated but non-canonical lots stay
// biddable through /lots; they are only hidden from this curated view.
func (h *Handlers) MarketCredits(w http.ResponseWriter, r *http.Request) {
	lots, err := h.Store.ListLots(r.Context(), store.LotFilter{Status: models.LotOpen, Limit: 100})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	consistent := lots[:0]
	lotIDs := make([]string, 0, len(lots))
	for i := range lots {
		if market.IsCanonicallyConsistent(&lots[i]) {
			consistent = append(consistent, lots[i])
			lotIDs = append(lotIDs, lots[i].ID)
		}
	}

	stats, err := h.Store.BidStatsByLot(r.Context(), lotIDs)
	if err != nil {
		stats = nil
	}

	listings := make([]creditListing, 0, len(consistent))
	for i := range consistent {
		lot := consistent[i]
		seller, serr := h.Store.GetAgent(r.Context(), lot.SellerAgentID)
		if serr != nil || !resolvableSellerName(seller.Name) {
			continue
		}
		row := creditListing{Lot: lot, SellerName: seller.Name}
		if st, ok := stats[lot.ID]; ok {
			row.BidCount = st.Count
			if st.Count > 0 {
				row.TopBid = st.TopBid.StringFixed(2)
			}
		}
		listings = append(listings, row)
	}

	respondData(w, http.StatusOK, map[string]any{
		"credits":           listings,
		"count":             len(listings),
		"reference_markets": referenceMarkets,
	})
}

func resolvableSellerName(name string) bool {
	n := strings.TrimSpace(strings.ToLower(name))
	return n != "" && n != "unknown" && n != "unknown seller"
}

// activityItem is one entry of the merged activity feed.
type activityItem struct {
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	RefID     string    `json:"ref_id"`
}

// Activity merges recent lots, bids, trades, messages, and disclosures into
// one feed sorted newest-first, capped at 20 entries. Each source that fails
// contributes nothing rather than failing the merge.
func (h *Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	const feedCap = 20
	var items []activityItem

	if lots, err := h.Store.ListLots(r.Context(), store.LotFilter{Limit: feedCap}); err == nil {
		for _, lot := range lots {
			items = append(items, activityItem{
				Type:      "lot_listed",
				Summary:   lot.ProjectName + " — " + lot.Standard,
				Timestamp: lot.CreatedAt,
				RefID:     lot.ID,
			})
		}
	}
	if bids, err := h.Store.ListRecentBids(r.Context(), feedCap); err == nil {
		for _, b := range bids {
			items = append(items, activityItem{
				Type:      "bid_" + string(b.Status),
				Summary:   "Bid at $" + b.BidPricePerTon.StringFixed(2) + "/ton",
				Timestamp: b.CreatedAt,
				RefID:     b.ID,
			})
		}
	}
	if trades, err := h.Store.ListRecentTrades(r.Context(), "", feedCap); err == nil {
		for _, t := range trades {
			items = append(items, activityItem{
				Type:      "trade_" + string(t.Status),
				Summary:   "Trade at $" + t.AgreedPricePerTon.StringFixed(2) + "/ton",
				Timestamp: t.UpdatedAt,
				RefID:     t.ID,
			})
		}
	}
	if messages, err := h.Store.ListRecentMessages(r.Context(), feedCap); err == nil {
		for _, m := range messages {
			items = append(items, activityItem{
				Type:      "negotiation",
				Summary:   m.Message,
				Timestamp: m.CreatedAt,
				RefID:     m.LotID,
			})
		}
	}
	if posts, err := h.Store.ListDisclosures(r.Context(), feedCap); err == nil {
		for _, p := range posts {
			items = append(items, activityItem{
				Type:      "disclosure_" + string(p.PostType),
				Summary:   p.Summary,
				Timestamp: p.CreatedAt,
				RefID:     p.ID,
			})
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > feedCap {
		items = items[:feedCap]
	}
	if items == nil {
		items = []activityItem{}
	}

	respondData(w, http.StatusOK, map[string]any{"activity": items, "count": len(items)})
}

// feedMessage is one tagged entry of the negotiations feed.
type feedMessage struct {
	models.NegotiationMessage
	Tag string `json:"tag"`
}

// NegotiationsFeed returns recent chat messages tagged by topic.
func (h *Handlers) NegotiationsFeed(w http.ResponseWriter, r *http.Request) {
	messages, err := h.Store.ListRecentMessages(r.Context(), 30)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	feed := make([]feedMessage, 0, len(messages))
	for _, m := range messages {
		feed = append(feed, feedMessage{NegotiationMessage: m, Tag: inferTag(m.Message)})
	}

	respondData(w, http.StatusOK, map[string]any{"feed": feed, "count": len(feed)})
}

// inferTag classifies a negotiation message by keyword. Price wins over
// quality and project when several match, since most phases mention money.
func inferTag(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "$") || strings.Contains(m, "bid") ||
		strings.Contains(m, "price") || strings.Contains(m, "offer"):
		return "price"
	case strings.Contains(m, "vintage") || strings.Contains(m, "standard") ||
		strings.Contains(m, "verif") || strings.Contains(m, "certif") ||
		strings.Contains(m, "quality"):
		return "quality"
	case strings.Contains(m, "project") || strings.Contains(m, "developed") ||
		strings.Contains(m, "co-benefit"):
		return "project"
	default:
		return "general"
	}
}
