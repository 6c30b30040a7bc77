package main

import (
	"context"
	"fmt"

	"github.com/carbonpit/carbonpit/internal/market"
	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	var (
		dbPath string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete lots failing shape validation or canonical consistency",
		Long:  "Strict maintenance pass over all lots: any lot that fails shape validation or names an unknown/misattributed project is deleted. Creation-time validation is deliberately permissive, so fabricated or inconsistent lots accumulate until this pass removes them. Use --dry-run to preview.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, dbPath, dryRun)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the SQLite database (default: CARBONPIT_DB_PATH)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func runCleanup(cmd *cobra.Command, dbPath string, dryRun bool) error {
	ctx := context.Background()
	s, err := openStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	out := cmd.OutOrStdout()

	lots, err := s.ListLots(ctx, store.LotFilter{})
	if err != nil {
		return err
	}

	var badShape, badCanon, deleted int
	const sampleCap = 10
	var sample []string

	for i := range lots {
		lot := &lots[i]
		shapeOK := market.LotShapeValid(lot)
		canonOK := market.IsCanonicallyConsistent(lot)
		if shapeOK && canonOK {
			continue
		}
		if !shapeOK {
			badShape++
		} else {
			badCanon++
		}
		if len(sample) < sampleCap {
			sample = append(sample, fmt.Sprintf("%s  %q (%s, %s, vintage %d)",
				lot.ID, lot.ProjectName, lot.Standard, lot.Geography, lot.VintageYear))
		}
		if dryRun {
			continue
		}
		if err := s.DeleteLot(ctx, lot.ID); err != nil {
			return fmt.Errorf("delete lot %s: %w", lot.ID, err)
		}
		deleted++
	}

	fmt.Fprintf(out, "scanned %d lots: %d malformed, %d canonically inconsistent\n",
		len(lots), badShape, badCanon)
	if len(sample) > 0 {
		fmt.Fprintln(out, "sample:")
		for _, line := range sample {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	if dryRun {
		fmt.Fprintf(out, "dry run: %d lots would be deleted\n", badShape+badCanon)
	} else {
		fmt.Fprintf(out, "deleted %d lots\n", deleted)
	}
	return nil
}
