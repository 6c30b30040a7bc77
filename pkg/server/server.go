// Package server provides the public entry point for initializing the
// Carbonpit marketplace server.
//
// It exists in pkg/ (not internal/) so embedding programs and tests can
// compose the full server:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carbonpit/carbonpit/internal/api"
	"github.com/carbonpit/carbonpit/internal/config"
	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized marketplace server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store backing the handler. Exposed for seeding and
	// tests.
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and initializes all
// marketplace components.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the marketplace with an explicit configuration.
// CARBONPIT_DB_PATH selects the SQLite store; without it state lives in
// memory and vanishes on restart.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.Path != "" {
		gs, err := store.NewGormStore(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		dataStore = gs
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized (no CARBONPIT_DB_PATH set)")
	}

	router := api.NewRouter(cfg, dataStore)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
