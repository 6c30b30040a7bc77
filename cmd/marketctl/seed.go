package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonpit/carbonpit/internal/market"
	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo agents and one open lot per canonical project",
		Long:  "Creates the demo seller (Nilson) and buyer (Zack) if missing, then lists one open lot per canonical registry project under the seller. Idempotent: existing agents and already-listed projects are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the SQLite database (default: CARBONPIT_DB_PATH)")
	return cmd
}

func runSeed(cmd *cobra.Command, dbPath string) error {
	ctx := context.Background()
	s, err := openStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	out := cmd.OutOrStdout()

	seller, err := ensureAgent(ctx, s, "Nilson", "Demo seller of verified carbon credits", models.RoleSeller)
	if err != nil {
		return err
	}
	buyer, err := ensureAgent(ctx, s, "Zack", "Demo buyer building a credit portfolio", models.RoleBuyer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seller: %s (%s)\nbuyer:  %s (%s)\n", seller.Name, seller.ID, buyer.Name, buyer.ID)

	existing, err := s.ListLots(ctx, store.LotFilter{Status: models.LotOpen, SellerAgentID: seller.ID})
	if err != nil {
		return err
	}
	listed := make(map[string]bool, len(existing))
	for _, lot := range existing {
		if p := market.FindCanonicalProject(lot.ProjectName); p != nil {
			listed[p.Name] = true
		}
	}

	created := 0
	for _, p := range market.CanonicalProjects {
		if listed[p.Name] {
			continue
		}
		now := time.Now().UTC()
		lot := &models.CreditLot{
			ID:             models.NewID(),
			SellerAgentID:  seller.ID,
			ProjectName:    p.Name,
			Standard:       p.Standard,
			VintageYear:    p.MaxVintage,
			Geography:      p.Geography,
			QuantityTons:   100,
			AskPricePerTon: decimal.NewFromInt(12),
			Status:         models.LotOpen,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.CreateLot(ctx, lot); err != nil {
			return fmt.Errorf("seed lot for %s: %w", p.Name, err)
		}
		fmt.Fprintf(out, "listed: %s (%s, %s, vintage %d)\n", p.Name, p.Standard, p.Geography, lot.VintageYear)
		created++
	}

	fmt.Fprintf(out, "seeded %d new lots (%d already present)\n", created, len(listed))
	return nil
}

func ensureAgent(ctx context.Context, s store.Store, name, description string, role models.AgentRole) (*models.Agent, error) {
	if a, err := s.GetAgentByName(ctx, name); err == nil {
		return a, nil
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:          models.NewID(),
		Name:        name,
		Description: description,
		Role:        role,
		APIKey:      models.NewAPIKey(),
		ClaimToken:  models.NewClaimToken(),
		ClaimStatus: models.ClaimPending,
		LastActive:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent %s: %w", name, err)
	}
	return agent, nil
}
