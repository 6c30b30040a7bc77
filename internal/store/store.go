// Package store provides the storage interface and implementations for the
// Carbonpit marketplace. The in-memory store backs tests and zero-config dev;
// the GORM/SQLite store backs real deployments and the operator CLI.
package store

import (
	"context"
	"errors"

	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/shopspring/decimal"
)

// Store is the primary storage interface. All handler and engine code depends
// on this interface, making it easy to swap between in-memory (tests) and
// SQLite (production) implementations.
type Store interface {
	AgentStore
	LotStore
	BidStore
	MessageStore
	TradeStore
	DisclosureStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or updates the backing schema.
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// GetAgentByName matches case-insensitively on the exact name.
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	GetAgentByAPIKey(ctx context.Context, apiKey string) (*models.Agent, error)
	GetAgentByClaimToken(ctx context.Context, token string) (*models.Agent, error)
	// FindAgentByAnyName returns the first agent whose name matches any of the
	// given names (case-insensitive), in listing order.
	FindAgentByAnyName(ctx context.Context, names ...string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	// ListAgents returns agents newest-first by creation time.
	ListAgents(ctx context.Context, limit int) ([]models.Agent, error)
	// ListAgentsByActivity returns agents most-recently-active first.
	ListAgentsByActivity(ctx context.Context, limit int) ([]models.Agent, error)
}

// ── Lot Store ───────────────────────────────────────────────

// LotFilter narrows ListLots. Zero values mean "any".
type LotFilter struct {
	Status        models.LotStatus
	SellerAgentID string
	Limit         int
}

type LotStore interface {
	CreateLot(ctx context.Context, lot *models.CreditLot) error
	GetLot(ctx context.Context, id string) (*models.CreditLot, error)
	UpdateLot(ctx context.Context, lot *models.CreditLot) error
	DeleteLot(ctx context.Context, id string) error
	// ListLots returns matching lots newest-first.
	ListLots(ctx context.Context, filter LotFilter) ([]models.CreditLot, error)

	// MarkLotSold flips the lot open→sold only if it is currently open, and
	// reports whether the transition matched. This is the compare-and-swap
	// that serializes concurrent accept-bid calls on the same lot: exactly
	// one caller observes matched=true.
	MarkLotSold(ctx context.Context, id string) (bool, error)
}

// ── Bid Store ───────────────────────────────────────────────

// BidStats aggregates bids per lot for market views.
type BidStats struct {
	Count  int
	TopBid decimal.Decimal
}

type BidStore interface {
	CreateBid(ctx context.Context, bid *models.Bid) error
	GetBid(ctx context.Context, id string) (*models.Bid, error)
	UpdateBid(ctx context.Context, bid *models.Bid) error
	// ListBidsByLot returns a lot's bids newest-first.
	ListBidsByLot(ctx context.Context, lotID string) ([]models.Bid, error)
	// ListRecentBids returns bids across all lots, newest-first.
	ListRecentBids(ctx context.Context, limit int) ([]models.Bid, error)
	// LatestActiveBid returns the newest active bid on a lot, optionally
	// restricted to one buyer (empty buyerID means any buyer).
	LatestActiveBid(ctx context.Context, lotID, buyerID string) (*models.Bid, error)
	// RejectOtherActiveBids marks every active bid on the lot other than
	// acceptedBidID as rejected, returning how many were rejected.
	RejectOtherActiveBids(ctx context.Context, lotID, acceptedBidID string) (int, error)
	CountBidsByLotAndBuyer(ctx context.Context, lotID, buyerID string) (int, error)
	CountBidsByBuyer(ctx context.Context, buyerID string, status models.BidStatus) (int, error)
	// BidStatsByLot aggregates bid count and top bid for each given lot.
	BidStatsByLot(ctx context.Context, lotIDs []string) (map[string]BidStats, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.NegotiationMessage) error
	// ListMessagesByLot returns up to limit of the lot's newest messages,
	// newest-first.
	ListMessagesByLot(ctx context.Context, lotID string, limit int) ([]models.NegotiationMessage, error)
	// CountMessagesByLot is the negotiation engine's phase source: the phase
	// of a lot's negotiation is this count mod 6.
	CountMessagesByLot(ctx context.Context, lotID string) (int, error)
	ListRecentMessages(ctx context.Context, limit int) ([]models.NegotiationMessage, error)
}

// ── Trade Store ─────────────────────────────────────────────

type TradeStore interface {
	CreateTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	// ListTradesByLot returns trades referencing the lot, newest-first.
	ListTradesByLot(ctx context.Context, lotID string) ([]models.Trade, error)
	// ListRecentTrades returns trades newest-first by update time, optionally
	// filtered by status (empty means any).
	ListRecentTrades(ctx context.Context, status models.TradeStatus, limit int) ([]models.Trade, error)
	CountTradesByBuyer(ctx context.Context, buyerID string) (int, error)
	CountTradesBySeller(ctx context.Context, sellerID string) (int, error)
	// CountCompletedTradesByParty counts completed trades where the agent is
	// buyer or seller.
	CountCompletedTradesByParty(ctx context.Context, agentID string) (int, error)
}

// ── Disclosure Store ────────────────────────────────────────

type DisclosureStore interface {
	CreateDisclosure(ctx context.Context, post *models.HumanDisclosure) error
	ListDisclosures(ctx context.Context, limit int) ([]models.HumanDisclosure, error)
	// LatestDisclosureByAgent returns the agent's newest post of the given
	// type, or ErrNotFound if none exists.
	LatestDisclosureByAgent(ctx context.Context, agentID string, postType models.DisclosureType) (*models.HumanDisclosure, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
