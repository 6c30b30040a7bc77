package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carbonpit/carbonpit/internal/store"
	"github.com/carbonpit/carbonpit/pkg/models"
)

func seedAgent(t *testing.T, s store.Store) *models.Agent {
	t.Helper()
	now := time.Now().UTC().Add(-time.Hour)
	a := &models.Agent{
		ID:          models.NewID(),
		Name:        "Nilson",
		Role:        models.RoleSeller,
		APIKey:      models.NewAPIKey(),
		ClaimToken:  models.NewClaimToken(),
		ClaimStatus: models.ClaimPending,
		LastActive:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func TestRequireAgent(t *testing.T) {
	s := store.NewMemoryStore()
	agent := seedAgent(t, s)

	var seen *models.Agent
	handler := RequireAgent(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "Bearer carbon_bogus", http.StatusUnauthorized},
		{"bearer key", "Authorization", "Bearer " + agent.APIKey, http.StatusOK},
		{"x-api-key header", "X-API-Key", agent.APIKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/lots", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if seen == nil || seen.ID != agent.ID {
					t.Errorf("context agent = %+v, want %s", seen, agent.ID)
				}
			} else if seen != nil {
				t.Error("handler ran without valid credentials")
			}
		})
	}
}

func TestRequireAgentRefreshesLastActive(t *testing.T) {
	s := store.NewMemoryStore()
	agent := seedAgent(t, s)
	before := agent.LastActive

	handler := RequireAgent(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lots", nil)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got, err := s.GetAgent(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !got.LastActive.After(before) {
		t.Errorf("last_active = %v, want refreshed past %v", got.LastActive, before)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/lots", nil)
		req.RemoteAddr = "203.0.113.7:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests = %v, first two should pass", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want 429 once burst is spent", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lots", nil)
	req.RemoteAddr = "198.51.100.9:4242"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("fresh client status = %d, want 200", rec.Code)
	}
}
