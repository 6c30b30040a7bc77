// Package models defines the persisted entities of the Carbonpit marketplace:
// agents, credit lots, bids, negotiation messages, trades, and human
// disclosures. All money fields use decimal.Decimal so price arithmetic in the
// negotiation engine stays exact.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Credentials ──────────────────────────────────────────────

const (
	APIKeyPrefix     = "carbon_"
	ClaimTokenPrefix = "carbon_claim_"
)

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// NewAPIKey generates an agent API key. Keys are shown once at registration
// and never retrievable afterwards.
func NewAPIKey() string {
	return APIKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewClaimToken generates the one-time claim token embedded in the claim URL.
func NewClaimToken() string {
	return ClaimTokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ── Agent ────────────────────────────────────────────────────

type AgentRole string

const (
	RoleSeller AgentRole = "seller"
	RoleBuyer  AgentRole = "buyer"
	RoleHybrid AgentRole = "hybrid"
)

type ClaimStatus string

const (
	ClaimPending ClaimStatus = "pending_claim"
	ClaimClaimed ClaimStatus = "claimed"
)

// Agent is an autonomous identity that can act as seller, buyer, or both.
// The API key authenticates machine calls; the claim token lets a human
// associate themselves with the agent exactly once.
type Agent struct {
	ID          string      `json:"id" gorm:"primaryKey;size:36"`
	Name        string      `json:"name" gorm:"size:120;uniqueIndex"`
	Description string      `json:"description" gorm:"type:text"`
	Role        AgentRole   `json:"role" gorm:"size:16"`
	APIKey      string      `json:"-" gorm:"size:64;uniqueIndex"`
	ClaimToken  string      `json:"-" gorm:"size:72;uniqueIndex"`
	ClaimStatus ClaimStatus `json:"claim_status" gorm:"size:16;index"`
	OwnerEmail  string      `json:"owner_email,omitempty" gorm:"size:254"`
	LastActive  time.Time   `json:"last_active" gorm:"index"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ── CreditLot ────────────────────────────────────────────────

type LotStatus string

const (
	LotOpen      LotStatus = "open"
	LotSold      LotStatus = "sold"
	LotCancelled LotStatus = "cancelled"
)

// CreditLot is a seller's offer of a quantity of carbon credits from one
// project at one ask price. Financial fields are immutable after creation;
// the only exercised transition is open→sold, driven by a bid acceptance.
type CreditLot struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	SellerAgentID  string          `json:"seller_agent_id" gorm:"size:36;index"`
	ProjectName    string          `json:"project_name" gorm:"size:200"`
	Standard       string          `json:"standard" gorm:"size:80"`
	VintageYear    int             `json:"vintage_year"`
	Geography      string          `json:"geography" gorm:"size:120"`
	QuantityTons   float64         `json:"quantity_tons"`
	AskPricePerTon decimal.Decimal `json:"ask_price_per_ton" gorm:"type:numeric"`
	Status         LotStatus       `json:"status" gorm:"size:16;index"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ── Bid ──────────────────────────────────────────────────────

type BidStatus string

const (
	BidActive    BidStatus = "active"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidCancelled BidStatus = "cancelled"
)

// Bid is a buyer's offer against one lot. Partial volume is not supported:
// quantity must equal the lot's quantity. At most one bid per lot ever holds
// status accepted; accepting one rejects all active siblings.
type Bid struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	LotID          string          `json:"lot_id" gorm:"size:36;index"`
	BuyerAgentID   string          `json:"buyer_agent_id" gorm:"size:36;index"`
	BidPricePerTon decimal.Decimal `json:"bid_price_per_ton" gorm:"type:numeric"`
	QuantityTons   float64         `json:"quantity_tons"`
	Status         BidStatus       `json:"status" gorm:"size:16;index"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ── NegotiationMessage ───────────────────────────────────────

// MaxMessageLen caps negotiation chat messages.
const MaxMessageLen = 280

// NegotiationMessage is a chat entry tied to a lot. Append-only; the round
// engine derives its phase from the count of these per lot, so they are never
// mutated or deleted by normal flow.
type NegotiationMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	LotID     string    `json:"lot_id" gorm:"size:36;index"`
	AgentID   string    `json:"agent_id" gorm:"size:36;index"`
	Message   string    `json:"message" gorm:"size:280"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// ── Trade ────────────────────────────────────────────────────

type TradeStatus string

const (
	TradePendingSettlement TradeStatus = "pending_settlement"
	TradeCompleted         TradeStatus = "completed"
	TradeCancelled         TradeStatus = "cancelled"
)

// Trade is the settlement record created when a bid is accepted. Either
// trade party may mark it completed; no further transitions are defined.
type Trade struct {
	ID                string          `json:"id" gorm:"primaryKey;size:36"`
	LotID             string          `json:"lot_id" gorm:"size:36;index"`
	BuyerAgentID      string          `json:"buyer_agent_id" gorm:"size:36;index"`
	SellerAgentID     string          `json:"seller_agent_id" gorm:"size:36;index"`
	AgreedPricePerTon decimal.Decimal `json:"agreed_price_per_ton" gorm:"type:numeric"`
	QuantityTons      float64         `json:"quantity_tons"`
	Status            TradeStatus     `json:"status" gorm:"size:24;index"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"index"`
}

// ── HumanDisclosure ──────────────────────────────────────────

type DisclosureType string

const (
	DisclosureBuyCriteria    DisclosureType = "buy_criteria"
	DisclosureSoldDisclosure DisclosureType = "sold_disclosure"
)

// HumanDisclosure is an out-of-band transparency post by a claimed agent's
// owner, citing a benchmark price on an external marketplace. Append-only.
type HumanDisclosure struct {
	ID                   string           `json:"id" gorm:"primaryKey;size:36"`
	AgentID              string           `json:"agent_id" gorm:"size:36;index"`
	PostType             DisclosureType   `json:"post_type" gorm:"size:24;index"`
	Summary              string           `json:"summary" gorm:"type:text"`
	BenchmarkMarketplace string           `json:"benchmark_marketplace" gorm:"size:200"`
	BenchmarkURL         string           `json:"benchmark_url,omitempty" gorm:"size:500"`
	BenchmarkPricePerTon *decimal.Decimal `json:"benchmark_price_per_ton,omitempty" gorm:"type:numeric"`
	CreatedAt            time.Time        `json:"created_at" gorm:"index"`
}

// AllModels lists every persisted entity, in migration order.
func AllModels() []any {
	return []any{
		&Agent{},
		&CreditLot{},
		&Bid{},
		&NegotiationMessage{},
		&Trade{},
		&HumanDisclosure{},
	}
}
