package market

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
)

func newTestEngine(s store.Store) *Engine {
	e := NewEngine(s)
	e.rng = rand.New(rand.NewSource(1))
	return e
}

func TestRunRoundRequiresTwoAgents(t *testing.T) {
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	newTestAgent(t, s, "Nilson", models.RoleSeller)

	_, err := e.RunRound(context.Background())
	if err == nil {
		t.Fatal("round ran with a single agent")
	}
	merr, ok := err.(*Error)
	if !ok || merr.Kind != KindInvalidInput {
		t.Errorf("err = %v, want invalid_input", err)
	}
}

func TestRunRoundFabricatesCanonicalLot(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	newTestAgent(t, s, "Nilson", models.RoleSeller)
	newTestAgent(t, s, "Zack", models.RoleBuyer)

	res, err := e.RunRound(ctx)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if res.Phase != 0 {
		t.Errorf("phase = %d, want 0 on fresh lot", res.Phase)
	}

	lot, err := s.GetLot(ctx, res.LotID)
	if err != nil {
		t.Fatalf("fabricated lot missing: %v", err)
	}
	if !IsCanonicallyConsistent(lot) {
		t.Errorf("fabricated lot %q is not canonically consistent", lot.ProjectName)
	}
	if lot.QuantityTons != 100 {
		t.Errorf("quantity = %g, want 100", lot.QuantityTons)
	}
	if lot.AskPricePerTon.IntPart() != 12 {
		t.Errorf("ask = %s, want 12", lot.AskPricePerTon)
	}
}

func TestRunRoundPhaseIsPureInMessageCount(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	seller := newTestAgent(t, s, "Nilson", models.RoleSeller)
	newTestAgent(t, s, "Zack", models.RoleBuyer)
	lot := mustCreateLot(t, e, seller)

	// Seven persisted messages put the negotiation at phase 7 mod 6 = 1.
	for i := 0; i < 7; i++ {
		msg := &models.NegotiationMessage{
			ID:        models.NewID(),
			LotID:     lot.ID,
			AgentID:   seller.ID,
			Message:   "context",
			CreatedAt: time.Now().UTC(),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	res, err := e.RunRound(ctx)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if res.Phase != 1 {
		t.Errorf("phase = %d, want 1 for 7 messages", res.Phase)
	}
}

func TestRunRoundFullScript(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	seller := newTestAgent(t, s, "Nilson", models.RoleSeller)
	newTestAgent(t, s, "Zack", models.RoleBuyer)
	lot := mustCreateLot(t, e, seller)
	ask := lot.AskPricePerTon

	var last *RoundResult
	for want := 0; want < 6; want++ {
		res, err := e.RunRound(ctx)
		if err != nil {
			t.Fatalf("phase %d: %v", want, err)
		}
		if res.Phase != want {
			t.Fatalf("phase = %d, want %d", res.Phase, want)
		}
		if res.LotID != lot.ID {
			t.Fatalf("round switched lots: %s", res.LotID)
		}
		last = res
	}

	// Phase 2 opens at ask−0.90, phase 4 improves to ask−0.25, phase 5
	// accepts; the surviving bid should sit at ask−0.25.
	gotLot, _ := s.GetLot(ctx, lot.ID)
	if gotLot.Status != models.LotSold {
		t.Errorf("lot status = %s, want sold after phase 5", gotLot.Status)
	}
	if last.TradeID == "" {
		t.Fatal("phase 5 returned no trade")
	}
	trade, err := s.GetTrade(ctx, last.TradeID)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	wantPrice := ask.Sub(improveOffset).Round(2)
	if !trade.AgreedPricePerTon.Equal(wantPrice) {
		t.Errorf("agreed price = %s, want %s", trade.AgreedPricePerTon, wantPrice)
	}
	if trade.Status != models.TradePendingSettlement {
		t.Errorf("trade status = %s, want pending_settlement", trade.Status)
	}

	count, _ := s.CountMessagesByLot(ctx, lot.ID)
	if count != 6 {
		t.Errorf("message count = %d, want 6 after a full script", count)
	}

	bids, _ := s.ListBidsByLot(ctx, lot.ID)
	accepted := 0
	for _, b := range bids {
		if b.Status == models.BidAccepted {
			accepted++
		}
		if b.Status == models.BidActive {
			t.Errorf("bid %s still active after close", b.ID)
		}
	}
	if accepted != 1 {
		t.Errorf("accepted bids = %d, want 1", accepted)
	}
}

func TestRunRoundRenamesLegacyAliases(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	legacySeller := newTestAgent(t, s, "TestAgent2", models.RoleHybrid)
	legacyBuyer := newTestAgent(t, s, "BuyerAgent1", models.RoleHybrid)

	res, err := e.RunRound(ctx)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if res.Seller != "Nilson" || res.Buyer != "Zack" {
		t.Errorf("participants = %s/%s, want Nilson/Zack", res.Seller, res.Buyer)
	}

	gotSeller, _ := s.GetAgent(ctx, legacySeller.ID)
	if gotSeller.Name != "Nilson" || gotSeller.Role != models.RoleSeller {
		t.Errorf("legacy seller = %s/%s, want Nilson/seller", gotSeller.Name, gotSeller.Role)
	}
	gotBuyer, _ := s.GetAgent(ctx, legacyBuyer.ID)
	if gotBuyer.Name != "Zack" || gotBuyer.Role != models.RoleBuyer {
		t.Errorf("legacy buyer = %s/%s, want Zack/buyer", gotBuyer.Name, gotBuyer.Role)
	}
}

func TestRunRoundRefreshesLastActive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	stale := time.Now().UTC().Add(-24 * time.Hour)
	seller := newTestAgent(t, s, "Nilson", models.RoleSeller)
	buyer := newTestAgent(t, s, "Zack", models.RoleBuyer)
	seller.LastActive = stale
	buyer.LastActive = stale
	s.UpdateAgent(ctx, seller)
	s.UpdateAgent(ctx, buyer)

	if _, err := e.RunRound(ctx); err != nil {
		t.Fatalf("round: %v", err)
	}

	for _, id := range []string{seller.ID, buyer.ID} {
		a, _ := s.GetAgent(ctx, id)
		if !a.LastActive.After(stale) {
			t.Errorf("agent %s last_active not refreshed", a.Name)
		}
	}
}

func TestInferredPhrasingsMentionPrices(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := newTestEngine(s)
	seller := newTestAgent(t, s, "Nilson", models.RoleSeller)
	newTestAgent(t, s, "Zack", models.RoleBuyer)
	lot := mustCreateLot(t, e, seller)

	// Advance to phase 3: the pushback message names the counter level.
	for i := 0; i < 4; i++ {
		res, err := e.RunRound(ctx)
		if err != nil {
			t.Fatalf("phase %d: %v", i, err)
		}
		if res.Phase == 3 {
			want := lot.AskPricePerTon.Sub(counterOffset).Round(2).StringFixed(2)
			if !strings.Contains(res.Message, want) {
				t.Errorf("pushback %q does not cite counter level %s", res.Message, want)
			}
		}
	}
}
