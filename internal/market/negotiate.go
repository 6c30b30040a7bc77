package market

import (
	"context"
	"fmt"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// The round engine advances a lot's negotiation by exactly one scripted phase
// per invocation. The phase is never stored: it is derived from the count of
// the lot's persisted messages mod 6, so replaying after a partial failure
// re-derives the same phase and continues instead of depending on in-memory
// sequencing state.
//
// Phase table (0-indexed):
//
//	0  buyer   quality/verification question (standard, vintage, geography)
//	1  seller  quality answer restating project name and quantity
//	2  buyer   first bid at ask−0.90 plus a project-context question
//	3  seller  pushback without a firm bid, counter level at ask−0.40
//	4  buyer   improve the active bid to ask−0.25
//	5  seller  accept the active bid (create at ask−0.20 if none), close the
//	           lot, create the trade, announce the deal
const roundPhases = 6

// Preferred demo identities. Legacy aliases are normalized to the short name
// when found.
var (
	demoSellerNames = []string{"Nilson", "Seller Nilson", "TestAgent2"}
	demoBuyerNames  = []string{"Zack", "Buyer Zack", "BuyerAgent1"}
)

// Bid offsets below the ask price, per phase.
var (
	openingOffset = decimal.RequireFromString("0.90")
	counterOffset = decimal.RequireFromString("0.40")
	improveOffset = decimal.RequireFromString("0.25")
	closingOffset = decimal.RequireFromString("0.20")
)

// RoundResult summarizes one executed negotiation phase.
type RoundResult struct {
	Phase   int    `json:"phase"`
	Seller  string `json:"seller"`
	Buyer   string `json:"buyer"`
	LotID   string `json:"lot_id"`
	BidID   string `json:"bid_id,omitempty"`
	TradeID string `json:"trade_id,omitempty"`
	Message string `json:"message"`
}

// RunRound executes exactly one negotiation phase for the chosen pair's
// current lot and returns a summary of what happened.
func (e *Engine) RunRound(ctx context.Context) (*RoundResult, error) {
	seller, buyer, err := e.selectParticipants(ctx)
	if err != nil {
		return nil, err
	}

	lot, err := e.currentOrFabricatedLot(ctx, seller)
	if err != nil {
		return nil, err
	}

	count, err := e.store.CountMessagesByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	phase := count % roundPhases

	result := &RoundResult{
		Phase:  phase,
		Seller: seller.Name,
		Buyer:  buyer.Name,
		LotID:  lot.ID,
	}

	switch phase {
	case 0:
		result.Message, err = e.phaseQualityQuestion(ctx, buyer, lot)
	case 1:
		result.Message, err = e.phaseQualityAnswer(ctx, seller, lot)
	case 2:
		err = e.phaseOpeningBid(ctx, buyer, lot, result)
	case 3:
		result.Message, err = e.phaseCounterLevel(ctx, seller, lot)
	case 4:
		err = e.phaseImproveBid(ctx, buyer, lot, result)
	case 5:
		err = e.phaseAcceptAndClose(ctx, seller, buyer, lot, result)
	}
	if err != nil {
		return nil, err
	}

	e.touch(ctx, seller)
	e.touch(ctx, buyer)

	log.Info().
		Int("phase", phase).
		Str("lot", lot.ID).
		Str("seller", seller.Name).
		Str("buyer", buyer.Name).
		Msg("Negotiation round advanced")
	return result, nil
}

// selectParticipants picks the demo seller/buyer pair, preferring the named
// demo identities, then most-recently-active agents. It normalizes names and
// roles before returning.
func (e *Engine) selectParticipants(ctx context.Context) (seller, buyer *models.Agent, rerr error) {
	sellerCandidate, _ := e.store.FindAgentByAnyName(ctx, demoSellerNames...)
	buyerCandidate, _ := e.store.FindAgentByAnyName(ctx, demoBuyerNames...)

	agents, err := e.store.ListAgentsByActivity(ctx, 12)
	if err != nil {
		return nil, nil, err
	}
	if len(agents) < 2 {
		return nil, nil, invalidInput("Not enough agents", "Create at least two agents first")
	}

	seller = sellerCandidate
	if seller == nil {
		for i := range agents {
			if agents[i].Role == models.RoleSeller {
				seller = &agents[i]
				break
			}
		}
	}
	if seller == nil {
		seller = &agents[0]
	}

	buyer = buyerCandidate
	if buyer == nil || buyer.ID == seller.ID {
		buyer = nil
		for i := range agents {
			if agents[i].Role == models.RoleBuyer && agents[i].ID != seller.ID {
				buyer = &agents[i]
				break
			}
		}
	}
	if buyer == nil {
		for i := range agents {
			if agents[i].ID != seller.ID {
				buyer = &agents[i]
				break
			}
		}
	}
	if buyer == nil || buyer.ID == seller.ID {
		return nil, nil, conflict("Role conflict", "Need distinct buyer and seller agents")
	}

	seller.Name = canonicalDemoName(seller.Name, demoSellerNames)
	buyer.Name = canonicalDemoName(buyer.Name, demoBuyerNames)
	seller.Role = models.RoleSeller
	buyer.Role = models.RoleBuyer
	if err := e.store.UpdateAgent(ctx, seller); err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdateAgent(ctx, buyer); err != nil {
		return nil, nil, err
	}
	return seller, buyer, nil
}

// canonicalDemoName maps any known alias to the short demo name; unrelated
// names pass through unchanged.
func canonicalDemoName(name string, aliases []string) string {
	for _, alias := range aliases {
		if normalizeText(name) == normalizeText(alias) {
			return aliases[0]
		}
	}
	return name
}

// currentOrFabricatedLot returns the seller's newest open lot, fabricating
// one from the canonical registry when none exists so a demo round always has
// material to negotiate over.
func (e *Engine) currentOrFabricatedLot(ctx context.Context, seller *models.Agent) (*models.CreditLot, error) {
	lots, err := e.store.ListLots(ctx, store.LotFilter{
		Status:        models.LotOpen,
		SellerAgentID: seller.ID,
		Limit:         1,
	})
	if err != nil {
		return nil, err
	}
	if len(lots) > 0 {
		return &lots[0], nil
	}

	project := CanonicalProjects[e.rng.Intn(len(CanonicalProjects))]
	now := e.now()
	vintage := project.MaxVintage
	if year := now.Year(); vintage > year {
		vintage = year
	}
	lot := &models.CreditLot{
		ID:             models.NewID(),
		SellerAgentID:  seller.ID,
		ProjectName:    project.Name,
		Standard:       project.Standard,
		VintageYear:    vintage,
		Geography:      project.Geography,
		QuantityTons:   100,
		AskPricePerTon: decimal.NewFromInt(12),
		Status:         models.LotOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateLot(ctx, lot); err != nil {
		return nil, err
	}
	log.Info().Str("lot", lot.ID).Str("project", lot.ProjectName).Msg("Fabricated demo lot")
	return lot, nil
}

// pick selects one of the canned phrasings uniformly at random. Phrasing
// choice carries no state.
func (e *Engine) pick(options []string) string {
	return options[e.rng.Intn(len(options))]
}

func (e *Engine) record(ctx context.Context, lot *models.CreditLot, agentID, text string) (string, error) {
	msg := &models.NegotiationMessage{
		ID:        models.NewID(),
		LotID:     lot.ID,
		AgentID:   agentID,
		Message:   text,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return "", err
	}
	return text, nil
}

// touch refreshes an agent's last-active timestamp, best effort.
func (e *Engine) touch(ctx context.Context, agent *models.Agent) {
	agent.LastActive = e.now()
	if err := e.store.UpdateAgent(ctx, agent); err != nil {
		log.Warn().Err(err).Str("agent", agent.Name).Msg("Failed to refresh last_active")
	}
}

// ── Phases ──────────────────────────────────────────────────

func (e *Engine) phaseQualityQuestion(ctx context.Context, buyer *models.Agent, lot *models.CreditLot) (string, error) {
	text := e.pick([]string{
		fmt.Sprintf("As buyer, I need quality confirmation: standard %s, vintage %d, geography %s.",
			lot.Standard, lot.VintageYear, lot.Geography),
		fmt.Sprintf("Before pricing: can you verify the %s certification, %d vintage, and %s location?",
			lot.Standard, lot.VintageYear, lot.Geography),
		fmt.Sprintf("Quality check first. Is this lot %s-verified, vintage %d, issued for %s?",
			lot.Standard, lot.VintageYear, lot.Geography),
	})
	return e.record(ctx, lot, buyer.ID, text)
}

func (e *Engine) phaseQualityAnswer(ctx context.Context, seller *models.Agent, lot *models.CreditLot) (string, error) {
	text := e.pick([]string{
		fmt.Sprintf("As seller, project info: %s (%s %d) in %s, quantity %g tons.",
			lot.ProjectName, lot.Standard, lot.VintageYear, lot.Geography, lot.QuantityTons),
		fmt.Sprintf("Confirmed. %s is registered under %s, vintage %d. Full %g tons available.",
			lot.ProjectName, lot.Standard, lot.VintageYear, lot.QuantityTons),
	})
	return e.record(ctx, lot, seller.ID, text)
}

func (e *Engine) phaseOpeningBid(ctx context.Context, buyer *models.Agent, lot *models.CreditLot, result *RoundResult) error {
	price := lot.AskPricePerTon.Sub(openingOffset).Round(2)
	bid := &models.Bid{
		ID:             models.NewID(),
		LotID:          lot.ID,
		BuyerAgentID:   buyer.ID,
		BidPricePerTon: price,
		QuantityTons:   lot.QuantityTons,
		Status:         models.BidActive,
		CreatedAt:      e.now(),
		UpdatedAt:      e.now(),
	}
	if err := e.store.CreateBid(ctx, bid); err != nil {
		return err
	}
	result.BidID = bid.ID

	text := e.pick([]string{
		fmt.Sprintf("Ask is $%s/ton. My opening bid is $%s/ton for %g tons. Also: who developed this project?",
			lot.AskPricePerTon.StringFixed(2), price.StringFixed(2), lot.QuantityTons),
		fmt.Sprintf("I'll open at $%s/ton against your $%s ask, full %g tons. What co-benefits does %s deliver?",
			price.StringFixed(2), lot.AskPricePerTon.StringFixed(2), lot.QuantityTons, lot.ProjectName),
	})
	msg, err := e.record(ctx, lot, buyer.ID, text)
	result.Message = msg
	return err
}

func (e *Engine) phaseCounterLevel(ctx context.Context, seller *models.Agent, lot *models.CreditLot) (string, error) {
	counter := lot.AskPricePerTon.Sub(counterOffset).Round(2)
	text := e.pick([]string{
		fmt.Sprintf("That bid undervalues the lot. I could work with something near $%s/ton.", counter.StringFixed(2)),
		fmt.Sprintf("Too low for %s credits of this vintage. Bring it closer to $%s/ton and we can talk.",
			lot.Standard, counter.StringFixed(2)),
	})
	return e.record(ctx, lot, seller.ID, text)
}

func (e *Engine) phaseImproveBid(ctx context.Context, buyer *models.Agent, lot *models.CreditLot, result *RoundResult) error {
	price := lot.AskPricePerTon.Sub(improveOffset).Round(2)

	bid, err := e.store.LatestActiveBid(ctx, lot.ID, buyer.ID)
	switch {
	case err == nil:
		bid.BidPricePerTon = price
		if err := e.store.UpdateBid(ctx, bid); err != nil {
			return err
		}
	case store.IsNotFound(err):
		now := e.now()
		bid = &models.Bid{
			ID:             models.NewID(),
			LotID:          lot.ID,
			BuyerAgentID:   buyer.ID,
			BidPricePerTon: price,
			QuantityTons:   lot.QuantityTons,
			Status:         models.BidActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateBid(ctx, bid); err != nil {
			return err
		}
	default:
		return err
	}
	result.BidID = bid.ID

	text := e.pick([]string{
		fmt.Sprintf("Improving to $%s/ton for the full %g tons. That already prices in your vintage premium.",
			price.StringFixed(2), lot.QuantityTons),
		fmt.Sprintf("Final stretch from my side: $%s/ton. Comparable lots clear below your ask.", price.StringFixed(2)),
	})
	msg, err := e.record(ctx, lot, buyer.ID, text)
	result.Message = msg
	return err
}

func (e *Engine) phaseAcceptAndClose(ctx context.Context, seller, buyer *models.Agent, lot *models.CreditLot, result *RoundResult) error {
	bid, err := e.store.LatestActiveBid(ctx, lot.ID, "")
	if store.IsNotFound(err) {
		now := e.now()
		bid = &models.Bid{
			ID:             models.NewID(),
			LotID:          lot.ID,
			BuyerAgentID:   buyer.ID,
			BidPricePerTon: lot.AskPricePerTon.Sub(closingOffset).Round(2),
			QuantityTons:   lot.QuantityTons,
			Status:         models.BidActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateBid(ctx, bid); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	result.BidID = bid.ID

	// Same CAS-gated path a manual accept takes.
	trade, aerr := e.AcceptBid(ctx, seller, bid.ID)
	if aerr != nil {
		return aerr
	}
	result.TradeID = trade.ID

	confirmation := e.pick([]string{
		fmt.Sprintf("Deal. Accepted at $%s/ton for %g tons.", bid.BidPricePerTon.StringFixed(2), bid.QuantityTons),
		fmt.Sprintf("Agreed: $%s/ton, %g tons. Closing the lot now.", bid.BidPricePerTon.StringFixed(2), bid.QuantityTons),
	})
	if benchmark, berr := e.store.LatestDisclosureByAgent(ctx, seller.ID, models.DisclosureSoldDisclosure); berr == nil && benchmark.BenchmarkPricePerTon != nil {
		confirmation += fmt.Sprintf(" Seller benchmark was $%s/ton on %s.",
			benchmark.BenchmarkPricePerTon.StringFixed(2), benchmark.BenchmarkMarketplace)
	} else {
		confirmation += " Proceeding with current project valuation context."
	}

	msg, err := e.record(ctx, lot, seller.ID, confirmation)
	result.Message = msg
	return err
}
