// Package store — GORM-backed Store implementation over SQLite.
// The operator CLI and the server share the same database file, so the
// cleanup/seed passes act on exactly the entities the API serves.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on a SQLite database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the SQLite database at path and runs
// migrations.
func NewGormStore(ctx context.Context, path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	s := &GormStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("SQLite store ready")
	return s, nil
}

func (s *GormStore) Migrate(_ context.Context) error {
	if err := s.db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound converts gorm.ErrRecordNotFound into the store's typed error.
func notFound(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return err
}

// ── Agent Store ─────────────────────────────────────────────

func (s *GormStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	return s.db.WithContext(ctx).Create(agent).Error
}

func (s *GormStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "agent", id)
	}
	return &a, nil
}

func (s *GormStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.WithContext(ctx).
		Where("LOWER(TRIM(name)) = ?", strings.ToLower(strings.TrimSpace(name))).
		First(&a).Error
	if err != nil {
		return nil, notFound(err, "agent", name)
	}
	return &a, nil
}

func (s *GormStore) GetAgentByAPIKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "api_key = ?", apiKey).Error; err != nil {
		return nil, notFound(err, "agent", "api key")
	}
	return &a, nil
}

func (s *GormStore) GetAgentByClaimToken(ctx context.Context, token string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "claim_token = ?", token).Error; err != nil {
		return nil, notFound(err, "agent", "claim token")
	}
	return &a, nil
}

func (s *GormStore) FindAgentByAnyName(ctx context.Context, names ...string) (*models.Agent, error) {
	for _, name := range names {
		if a, err := s.GetAgentByName(ctx, name); err == nil {
			return a, nil
		}
	}
	return nil, &ErrNotFound{Entity: "agent", Key: strings.Join(names, ",")}
}

func (s *GormStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", agent.ID).Updates(map[string]any{
		"name":         agent.Name,
		"description":  agent.Description,
		"role":         agent.Role,
		"claim_status": agent.ClaimStatus,
		"owner_email":  agent.OwnerEmail,
		"last_active":  agent.LastActive,
		"updated_at":   agent.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	return nil
}

func (s *GormStore) ListAgents(ctx context.Context, limit int) ([]models.Agent, error) {
	var agents []models.Agent
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return agents, q.Find(&agents).Error
}

func (s *GormStore) ListAgentsByActivity(ctx context.Context, limit int) ([]models.Agent, error) {
	var agents []models.Agent
	q := s.db.WithContext(ctx).Order("last_active DESC, created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return agents, q.Find(&agents).Error
}

// ── Lot Store ───────────────────────────────────────────────

func (s *GormStore) CreateLot(ctx context.Context, lot *models.CreditLot) error {
	return s.db.WithContext(ctx).Create(lot).Error
}

func (s *GormStore) GetLot(ctx context.Context, id string) (*models.CreditLot, error) {
	var l models.CreditLot
	if err := s.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "lot", id)
	}
	return &l, nil
}

func (s *GormStore) UpdateLot(ctx context.Context, lot *models.CreditLot) error {
	lot.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.CreditLot{}).Where("id = ?", lot.ID).Updates(map[string]any{
		"status":     lot.Status,
		"updated_at": lot.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "lot", Key: lot.ID}
	}
	return nil
}

func (s *GormStore) DeleteLot(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.CreditLot{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "lot", Key: id}
	}
	return nil
}

func (s *GormStore) ListLots(ctx context.Context, filter LotFilter) ([]models.CreditLot, error) {
	var lots []models.CreditLot
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SellerAgentID != "" {
		q = q.Where("seller_agent_id = ?", filter.SellerAgentID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return lots, q.Find(&lots).Error
}

// MarkLotSold is a conditional UPDATE: the WHERE clause only matches while
// the lot is still open, so exactly one of any concurrent callers wins.
func (s *GormStore) MarkLotSold(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.CreditLot{}).
		Where("id = ? AND status = ?", id, models.LotOpen).
		Updates(map[string]any{"status": models.LotSold, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "lost the race" from "no such lot".
		if _, err := s.GetLot(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ── Bid Store ───────────────────────────────────────────────

func (s *GormStore) CreateBid(ctx context.Context, bid *models.Bid) error {
	return s.db.WithContext(ctx).Create(bid).Error
}

func (s *GormStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	var b models.Bid
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "bid", id)
	}
	return &b, nil
}

func (s *GormStore) UpdateBid(ctx context.Context, bid *models.Bid) error {
	bid.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Bid{}).Where("id = ?", bid.ID).Updates(map[string]any{
		"bid_price_per_ton": bid.BidPricePerTon,
		"status":            bid.Status,
		"updated_at":        bid.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "bid", Key: bid.ID}
	}
	return nil
}

func (s *GormStore) ListBidsByLot(ctx context.Context, lotID string) ([]models.Bid, error) {
	var bids []models.Bid
	return bids, s.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("created_at DESC").
		Find(&bids).Error
}

func (s *GormStore) ListRecentBids(ctx context.Context, limit int) ([]models.Bid, error) {
	var bids []models.Bid
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return bids, q.Find(&bids).Error
}

func (s *GormStore) LatestActiveBid(ctx context.Context, lotID, buyerID string) (*models.Bid, error) {
	var b models.Bid
	q := s.db.WithContext(ctx).Where("lot_id = ? AND status = ?", lotID, models.BidActive)
	if buyerID != "" {
		q = q.Where("buyer_agent_id = ?", buyerID)
	}
	if err := q.Order("created_at DESC").First(&b).Error; err != nil {
		return nil, notFound(err, "bid", "active on lot "+lotID)
	}
	return &b, nil
}

func (s *GormStore) RejectOtherActiveBids(ctx context.Context, lotID, acceptedBidID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Bid{}).
		Where("lot_id = ? AND id <> ? AND status = ?", lotID, acceptedBidID, models.BidActive).
		Updates(map[string]any{"status": models.BidRejected, "updated_at": time.Now().UTC()})
	return int(res.RowsAffected), res.Error
}

func (s *GormStore) CountBidsByLotAndBuyer(ctx context.Context, lotID, buyerID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Bid{}).
		Where("lot_id = ? AND buyer_agent_id = ?", lotID, buyerID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) CountBidsByBuyer(ctx context.Context, buyerID string, status models.BidStatus) (int, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Bid{}).Where("buyer_agent_id = ?", buyerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&count).Error
	return int(count), err
}

func (s *GormStore) BidStatsByLot(ctx context.Context, lotIDs []string) (map[string]BidStats, error) {
	if len(lotIDs) == 0 {
		return map[string]BidStats{}, nil
	}
	var bids []models.Bid
	if err := s.db.WithContext(ctx).Where("lot_id IN ?", lotIDs).Find(&bids).Error; err != nil {
		return nil, err
	}
	// Aggregate in Go: decimal columns are stored as text, so SQL MAX would
	// compare lexically.
	stats := make(map[string]BidStats)
	for _, b := range bids {
		st := stats[b.LotID]
		st.Count++
		if st.Count == 1 || b.BidPricePerTon.GreaterThan(st.TopBid) {
			st.TopBid = b.BidPricePerTon
		}
		stats[b.LotID] = st
	}
	return stats, nil
}

// ── Message Store ───────────────────────────────────────────

func (s *GormStore) CreateMessage(ctx context.Context, msg *models.NegotiationMessage) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormStore) ListMessagesByLot(ctx context.Context, lotID string, limit int) ([]models.NegotiationMessage, error) {
	var msgs []models.NegotiationMessage
	q := s.db.WithContext(ctx).Where("lot_id = ?", lotID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return msgs, q.Find(&msgs).Error
}

func (s *GormStore) CountMessagesByLot(ctx context.Context, lotID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.NegotiationMessage{}).
		Where("lot_id = ?", lotID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) ListRecentMessages(ctx context.Context, limit int) ([]models.NegotiationMessage, error) {
	var msgs []models.NegotiationMessage
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return msgs, q.Find(&msgs).Error
}

// ── Trade Store ─────────────────────────────────────────────

func (s *GormStore) CreateTrade(ctx context.Context, trade *models.Trade) error {
	return s.db.WithContext(ctx).Create(trade).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "trade", id)
	}
	return &t, nil
}

func (s *GormStore) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	trade.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", trade.ID).Updates(map[string]any{
		"status":     trade.Status,
		"updated_at": trade.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "trade", Key: trade.ID}
	}
	return nil
}

func (s *GormStore) ListTradesByLot(ctx context.Context, lotID string) ([]models.Trade, error) {
	var trades []models.Trade
	return trades, s.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("created_at DESC").
		Find(&trades).Error
}

func (s *GormStore) ListRecentTrades(ctx context.Context, status models.TradeStatus, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return trades, q.Find(&trades).Error
}

func (s *GormStore) CountTradesByBuyer(ctx context.Context, buyerID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("buyer_agent_id = ?", buyerID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) CountTradesBySeller(ctx context.Context, sellerID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("seller_agent_id = ?", sellerID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) CountCompletedTradesByParty(ctx context.Context, agentID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("status = ? AND (buyer_agent_id = ? OR seller_agent_id = ?)",
			models.TradeCompleted, agentID, agentID).
		Count(&count).Error
	return int(count), err
}

// ── Disclosure Store ────────────────────────────────────────

func (s *GormStore) CreateDisclosure(ctx context.Context, post *models.HumanDisclosure) error {
	return s.db.WithContext(ctx).Create(post).Error
}

func (s *GormStore) ListDisclosures(ctx context.Context, limit int) ([]models.HumanDisclosure, error) {
	var posts []models.HumanDisclosure
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return posts, q.Find(&posts).Error
}

func (s *GormStore) LatestDisclosureByAgent(ctx context.Context, agentID string, postType models.DisclosureType) (*models.HumanDisclosure, error) {
	var d models.HumanDisclosure
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND post_type = ?", agentID, postType).
		Order("created_at DESC").
		First(&d).Error
	if err != nil {
		return nil, notFound(err, "disclosure", agentID)
	}
	return &d, nil
}
