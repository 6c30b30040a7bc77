// Package handlers implements the HTTP handlers for the Carbonpit
// marketplace API. All handlers speak the standard response envelope and use
// the Store interface plus the market engine for domain transitions.
package handlers

import (
	"errors"
	"net/http"

	"github.com/carbonpit/carbonpit/internal/market"
	"github.com/carbonpit/carbonpit/internal/store"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store   store.Store
	Engine  *market.Engine
	Version string
	BaseURL string
}

// New creates a Handlers instance over the given store.
func New(s store.Store, version, baseURL string) *Handlers {
	return &Handlers{
		Store:   s,
		Engine:  market.NewEngine(s),
		Version: version,
		BaseURL: baseURL,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondData wraps payload in the success envelope.
func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, map[string]any{"success": true, "data": data})
}

func respondError(w http.ResponseWriter, status int, label, hint string) {
	respondJSON(w, status, map[string]any{"success": false, "error": label, "hint": hint})
}

// respondDomainError maps any error to the envelope: typed market errors keep
// their kind-derived status and field, store not-found becomes 404, anything
// else is a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	var merr *market.Error
	if errors.As(err, &merr) {
		body := map[string]any{"success": false, "error": merr.Label, "hint": merr.Hint}
		if merr.Field != "" {
			body["field"] = merr.Field
		}
		respondJSON(w, merr.HTTPStatus(), body)
		return
	}
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, "Not found", err.Error())
		return
	}
	log.Error().Err(err).Msg("Internal error")
	respondError(w, http.StatusInternalServerError, "Internal error", "Unexpected failure, retry shortly")
}

// decodeBody decodes the JSON request body into dst, answering a 400 itself
// on malformed input. Returns false when the caller should stop.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "Send a valid JSON object")
		return false
	}
	return true
}
