// Package store — in-memory Store implementation.
// Used for tests and zero-config local runs; state does not survive restarts.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carbonpit/carbonpit/pkg/models"
)

// MemoryStore implements Store with in-memory maps guarded by one RWMutex.
// Multi-document operations (MarkLotSold, RejectOtherActiveBids) run under
// the write lock, which gives them the same conditional-update semantics the
// SQLite store gets from single UPDATE statements.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]*models.Agent              // key: id
	lots        map[string]*models.CreditLot          // key: id
	bids        map[string]*models.Bid                // key: id
	messages    []*models.NegotiationMessage          // append-only log
	trades      map[string]*models.Trade              // key: id
	disclosures []*models.HumanDisclosure             // append-only log
}

// NewMemoryStore creates a fresh in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[string]*models.Agent),
		lots:        make(map[string]*models.CreditLot),
		bids:        make(map[string]*models.Bid),
		messages:    make([]*models.NegotiationMessage, 0),
		trades:      make(map[string]*models.Trade),
		disclosures: make([]*models.HumanDisclosure, 0),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error    { return nil }
func (m *MemoryStore) Close() error                    { return nil }
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func normName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ── Agent Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAgentByName(_ context.Context, name string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := normName(name)
	for _, a := range m.agents {
		if normName(a.Name) == want {
			cp := *a
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "agent", Key: name}
}

func (m *MemoryStore) GetAgentByAPIKey(_ context.Context, apiKey string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.APIKey == apiKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "agent", Key: "api key"}
}

func (m *MemoryStore) GetAgentByClaimToken(_ context.Context, token string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.ClaimToken == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "agent", Key: "claim token"}
}

func (m *MemoryStore) FindAgentByAnyName(ctx context.Context, names ...string) (*models.Agent, error) {
	for _, name := range names {
		if a, err := m.GetAgentByName(ctx, name); err == nil {
			return a, nil
		}
	}
	return nil, &ErrNotFound{Entity: "agent", Key: strings.Join(names, ",")}
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; !ok {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	agent.UpdatedAt = time.Now().UTC()
	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAgents(_ context.Context, limit int) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return clamp(result, limit), nil
}

func (m *MemoryStore) ListAgentsByActivity(_ context.Context, limit int) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastActive.Equal(result[j].LastActive) {
			return result[i].LastActive.After(result[j].LastActive)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return clamp(result, limit), nil
}

// ── Lot Store ───────────────────────────────────────────────

func (m *MemoryStore) CreateLot(_ context.Context, lot *models.CreditLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lot
	m.lots[lot.ID] = &cp
	return nil
}

func (m *MemoryStore) GetLot(_ context.Context, id string) (*models.CreditLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lots[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "lot", Key: id}
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) UpdateLot(_ context.Context, lot *models.CreditLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lots[lot.ID]; !ok {
		return &ErrNotFound{Entity: "lot", Key: lot.ID}
	}
	lot.UpdatedAt = time.Now().UTC()
	cp := *lot
	m.lots[lot.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteLot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lots[id]; !ok {
		return &ErrNotFound{Entity: "lot", Key: id}
	}
	delete(m.lots, id)
	return nil
}

func (m *MemoryStore) ListLots(_ context.Context, filter LotFilter) ([]models.CreditLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.CreditLot
	for _, l := range m.lots {
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.SellerAgentID != "" && l.SellerAgentID != filter.SellerAgentID {
			continue
		}
		result = append(result, *l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return clamp(result, filter.Limit), nil
}

func (m *MemoryStore) MarkLotSold(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return false, &ErrNotFound{Entity: "lot", Key: id}
	}
	if l.Status != models.LotOpen {
		return false, nil
	}
	l.Status = models.LotSold
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ── Bid Store ───────────────────────────────────────────────

func (m *MemoryStore) CreateBid(_ context.Context, bid *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *bid
	m.bids[bid.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBid(_ context.Context, id string) (*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "bid", Key: id}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBid(_ context.Context, bid *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bids[bid.ID]; !ok {
		return &ErrNotFound{Entity: "bid", Key: bid.ID}
	}
	bid.UpdatedAt = time.Now().UTC()
	cp := *bid
	m.bids[bid.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBidsByLot(_ context.Context, lotID string) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Bid
	for _, b := range m.bids {
		if b.LotID == lotID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListRecentBids(_ context.Context, limit int) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Bid, 0, len(m.bids))
	for _, b := range m.bids {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return clamp(result, limit), nil
}

func (m *MemoryStore) LatestActiveBid(_ context.Context, lotID, buyerID string) (*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Bid
	for _, b := range m.bids {
		if b.LotID != lotID || b.Status != models.BidActive {
			continue
		}
		if buyerID != "" && b.BuyerAgentID != buyerID {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, &ErrNotFound{Entity: "bid", Key: "active on lot " + lotID}
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) RejectOtherActiveBids(_ context.Context, lotID, acceptedBidID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rejected := 0
	now := time.Now().UTC()
	for _, b := range m.bids {
		if b.LotID == lotID && b.ID != acceptedBidID && b.Status == models.BidActive {
			b.Status = models.BidRejected
			b.UpdatedAt = now
			rejected++
		}
	}
	return rejected, nil
}

func (m *MemoryStore) CountBidsByLotAndBuyer(_ context.Context, lotID, buyerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, b := range m.bids {
		if b.LotID == lotID && b.BuyerAgentID == buyerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountBidsByBuyer(_ context.Context, buyerID string, status models.BidStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, b := range m.bids {
		if b.BuyerAgentID == buyerID && (status == "" || b.Status == status) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) BidStatsByLot(_ context.Context, lotIDs []string) (map[string]BidStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]bool, len(lotIDs))
	for _, id := range lotIDs {
		wanted[id] = true
	}
	stats := make(map[string]BidStats)
	for _, b := range m.bids {
		if !wanted[b.LotID] {
			continue
		}
		s := stats[b.LotID]
		s.Count++
		if s.Count == 1 || b.BidPricePerTon.GreaterThan(s.TopBid) {
			s.TopBid = b.BidPricePerTon
		}
		stats[b.LotID] = s
	}
	return stats, nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.NegotiationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *MemoryStore) ListMessagesByLot(_ context.Context, lotID string, limit int) ([]models.NegotiationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.NegotiationMessage
	// messages is append-only, so reverse iteration yields newest-first
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].LotID == lotID {
			result = append(result, *m.messages[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CountMessagesByLot(_ context.Context, lotID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, msg := range m.messages {
		if msg.LotID == lotID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListRecentMessages(_ context.Context, limit int) ([]models.NegotiationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.NegotiationMessage
	for i := len(m.messages) - 1; i >= 0; i-- {
		result = append(result, *m.messages[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ── Trade Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrade(_ context.Context, id string) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "trade", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[trade.ID]; !ok {
		return &ErrNotFound{Entity: "trade", Key: trade.ID}
	}
	trade.UpdatedAt = time.Now().UTC()
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *MemoryStore) ListTradesByLot(_ context.Context, lotID string) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Trade
	for _, t := range m.trades {
		if t.LotID == lotID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListRecentTrades(_ context.Context, status models.TradeStatus, limit int) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Trade
	for _, t := range m.trades {
		if status == "" || t.Status == status {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return clamp(result, limit), nil
}

func (m *MemoryStore) CountTradesByBuyer(_ context.Context, buyerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trades {
		if t.BuyerAgentID == buyerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountTradesBySeller(_ context.Context, sellerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trades {
		if t.SellerAgentID == sellerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountCompletedTradesByParty(_ context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trades {
		if t.Status == models.TradeCompleted && (t.BuyerAgentID == agentID || t.SellerAgentID == agentID) {
			count++
		}
	}
	return count, nil
}

// ── Disclosure Store ────────────────────────────────────────

func (m *MemoryStore) CreateDisclosure(_ context.Context, post *models.HumanDisclosure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *post
	m.disclosures = append(m.disclosures, &cp)
	return nil
}

func (m *MemoryStore) ListDisclosures(_ context.Context, limit int) ([]models.HumanDisclosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.HumanDisclosure
	for i := len(m.disclosures) - 1; i >= 0; i-- {
		result = append(result, *m.disclosures[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) LatestDisclosureByAgent(_ context.Context, agentID string, postType models.DisclosureType) (*models.HumanDisclosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.disclosures) - 1; i >= 0; i-- {
		d := m.disclosures[i]
		if d.AgentID == agentID && d.PostType == postType {
			cp := *d
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "disclosure", Key: agentID}
}

func clamp[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
