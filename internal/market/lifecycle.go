package market

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Engine enforces the lot/bid/trade lifecycle and drives automated
// negotiation rounds. It holds no state of its own: every operation reloads
// current entities from the store, mutates, and persists before returning.
type Engine struct {
	store store.Store
	now   func() time.Time
	rng   *rand.Rand
}

// NewEngine creates a market engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateLot validates and persists a new open lot for the seller.
func (e *Engine) CreateLot(ctx context.Context, seller *models.Agent, in ListingInput) (*models.CreditLot, error) {
	if verr := ValidateListing(in); verr != nil {
		return nil, verr
	}
	now := e.now()
	lot := &models.CreditLot{
		ID:             models.NewID(),
		SellerAgentID:  seller.ID,
		ProjectName:    strings.TrimSpace(in.ProjectName),
		Standard:       strings.TrimSpace(in.Standard),
		VintageYear:    in.VintageYear,
		Geography:      strings.TrimSpace(in.Geography),
		QuantityTons:   in.QuantityTons,
		AskPricePerTon: in.AskPricePerTon,
		Status:         models.LotOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateLot(ctx, lot); err != nil {
		return nil, err
	}
	log.Info().Str("lot", lot.ID).Str("project", lot.ProjectName).Str("seller", seller.Name).Msg("Lot listed")
	return lot, nil
}

// SubmitBid places an active full-quantity bid on an open lot and appends the
// opening-bid announcement to the lot's negotiation chat.
//
// Preconditions: lot exists and is open; caller is not the seller; quantity
// exactly equals the lot quantity (partial-volume bids are not supported).
func (e *Engine) SubmitBid(ctx context.Context, buyer *models.Agent, lotID string, price decimal.Decimal, quantity float64) (*models.Bid, error) {
	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Not found", "Lot not found")
		}
		return nil, err
	}
	if lot.Status != models.LotOpen {
		return nil, conflict("Lot closed", "This lot is not open for bids")
	}
	if lot.SellerAgentID == buyer.ID {
		return nil, invalidInput("Invalid action", "Seller cannot bid on own lot")
	}
	if quantity != lot.QuantityTons {
		return nil, invalidInput("Quantity mismatch",
			fmt.Sprintf("Easy mode requires quantity_tons == %g", lot.QuantityTons))
	}
	if !price.IsPositive() {
		return nil, invalidInput("Invalid bid_price_per_ton", "bid_price_per_ton must be a positive number.")
	}

	now := e.now()
	bid := &models.Bid{
		ID:             models.NewID(),
		LotID:          lot.ID,
		BuyerAgentID:   buyer.ID,
		BidPricePerTon: price,
		QuantityTons:   quantity,
		Status:         models.BidActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateBid(ctx, bid); err != nil {
		return nil, err
	}

	announcement := &models.NegotiationMessage{
		ID:        models.NewID(),
		LotID:     lot.ID,
		AgentID:   buyer.ID,
		Message:   fmt.Sprintf("Opening bid: %g tons @ $%s/ton. Open to counter-offers.", quantity, price.StringFixed(2)),
		CreatedAt: now,
	}
	if err := e.store.CreateMessage(ctx, announcement); err != nil {
		return nil, err
	}

	log.Info().Str("bid", bid.ID).Str("lot", lot.ID).Str("buyer", buyer.Name).Msg("Bid submitted")
	return bid, nil
}

// AcceptBid performs the three-way acceptance transition as an ordered
// sequence gated on a compare-and-swap: the lot is closed first via a
// conditional update, so concurrent accepts on the same lot resolve to
// exactly one winner. Then the bid is accepted, sibling active bids are
// rejected, and the settlement trade is created.
func (e *Engine) AcceptBid(ctx context.Context, caller *models.Agent, bidID string) (*models.Trade, error) {
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Not found", "Bid not found")
		}
		return nil, err
	}
	if bid.Status != models.BidActive {
		return nil, conflict("Not active", "Only active bids can be accepted")
	}

	lot, err := e.store.GetLot(ctx, bid.LotID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Not found", "Lot not found")
		}
		return nil, err
	}
	if lot.SellerAgentID != caller.ID {
		return nil, forbidden("Forbidden", "Only the seller can accept a bid")
	}
	if lot.Status != models.LotOpen {
		return nil, conflict("Lot closed", "Lot is not open")
	}

	// CAS: only one concurrent accept can flip the lot to sold.
	matched, err := e.store.MarkLotSold(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, conflict("Lot closed", "Lot is not open")
	}

	bid.Status = models.BidAccepted
	if err := e.store.UpdateBid(ctx, bid); err != nil {
		return nil, err
	}
	if _, err := e.store.RejectOtherActiveBids(ctx, lot.ID, bid.ID); err != nil {
		return nil, err
	}

	now := e.now()
	trade := &models.Trade{
		ID:                models.NewID(),
		LotID:             lot.ID,
		BuyerAgentID:      bid.BuyerAgentID,
		SellerAgentID:     lot.SellerAgentID,
		AgreedPricePerTon: bid.BidPricePerTon,
		QuantityTons:      bid.QuantityTons,
		Status:            models.TradePendingSettlement,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}

	log.Info().
		Str("trade", trade.ID).
		Str("lot", lot.ID).
		Str("bid", bid.ID).
		Str("price", trade.AgreedPricePerTon.StringFixed(2)).
		Msg("Bid accepted, lot sold")
	return trade, nil
}

// CompleteTrade marks a pending_settlement trade completed. Either trade
// party may trigger it.
func (e *Engine) CompleteTrade(ctx context.Context, caller *models.Agent, tradeID string) (*models.Trade, error) {
	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Not found", "Trade not found")
		}
		return nil, err
	}
	if caller.ID != trade.BuyerAgentID && caller.ID != trade.SellerAgentID {
		return nil, forbidden("Forbidden", "Only buyer or seller can complete a trade")
	}
	if trade.Status != models.TradePendingSettlement {
		return nil, conflict("Not allowed", "Only pending_settlement trades can be completed")
	}

	trade.Status = models.TradeCompleted
	if err := e.store.UpdateTrade(ctx, trade); err != nil {
		return nil, err
	}
	log.Info().Str("trade", trade.ID).Msg("Trade completed")
	return trade, nil
}

// PostChat appends one negotiation message to a lot's chat. Only the lot's
// seller and agents holding at least one bid on the lot may post.
func (e *Engine) PostChat(ctx context.Context, caller *models.Agent, lotID, message string) (*models.NegotiationMessage, error) {
	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Not found", "Lot not found")
		}
		return nil, err
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalidInput("Missing message", `Provide "message" text to post chat`)
	}
	if len(message) > models.MaxMessageLen {
		return nil, invalidInput("Message too long", fmt.Sprintf("Max %d characters", models.MaxMessageLen))
	}

	if lot.SellerAgentID != caller.ID {
		count, err := e.store.CountBidsByLotAndBuyer(ctx, lot.ID, caller.ID)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, forbidden("Forbidden", "Only lot seller and agents with bids on this lot can chat")
		}
	}

	msg := &models.NegotiationMessage{
		ID:        models.NewID(),
		LotID:     lot.ID,
		AgentID:   caller.ID,
		Message:   message,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
