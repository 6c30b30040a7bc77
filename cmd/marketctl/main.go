// marketctl is the Carbonpit operator CLI: seeding demo data, purging
// malformed lots, and driving the automated negotiation demo against a
// running server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketctl",
		Short: "Carbonpit — marketplace operator tooling",
		Long:  "marketctl seeds demo agents and lots, cleans up malformed listings, and drives the automated negotiation demo.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newObserveCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marketctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

// openStore opens the SQLite store the server shares via CARBONPIT_DB_PATH.
func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	if dbPath == "" {
		dbPath = os.Getenv("CARBONPIT_DB_PATH")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("no database: pass --db or set CARBONPIT_DB_PATH")
	}
	return store.NewGormStore(ctx, dbPath)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
