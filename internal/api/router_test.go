package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carbonpit/carbonpit/internal/config"
	"github.com/carbonpit/carbonpit/internal/store"
	json "github.com/goccy/go-json"
)

func newTestRouter() http.Handler {
	cfg := &config.Config{
		Port:    8080,
		Version: "test",
		BaseURL: "http://localhost:8080",
		RateLimit: config.RateLimitConfig{
			RPS:   1000,
			Burst: 1000,
		},
	}
	return NewRouter(cfg, store.NewMemoryStore())
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Hint    string          `json:"hint"`
	Field   string          `json:"field"`
}

func doJSON(t *testing.T, router http.Handler, method, path, apiKey string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

type registeredAgent struct {
	apiKey     string
	claimToken string
	id         string
}

func registerAgent(t *testing.T, router http.Handler, name, role string) registeredAgent {
	t.Helper()
	code, env := doJSON(t, router, http.MethodPost, "/api/v1/agents", "", map[string]any{
		"name": name,
		"role": role,
	})
	if code != http.StatusCreated {
		t.Fatalf("register %s: status %d (%s: %s)", name, code, env.Error, env.Hint)
	}
	var data struct {
		Agent struct {
			ID string `json:"id"`
		} `json:"agent"`
		APIKey   string `json:"api_key"`
		ClaimURL string `json:"claim_url"`
		Notice   string `json:"notice"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	if !strings.Contains(data.Notice, "SAVE YOUR API KEY") {
		t.Errorf("notice = %q, want save-your-key warning", data.Notice)
	}
	parts := strings.Split(data.ClaimURL, "/")
	return registeredAgent{
		apiKey:     data.APIKey,
		claimToken: parts[len(parts)-1],
		id:         data.Agent.ID,
	}
}

func TestHealthAndVersion(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "test") {
		t.Errorf("version body = %q", rec.Body.String())
	}
}

func TestRegisterDuplicateNameConflicts(t *testing.T) {
	router := newTestRouter()
	registerAgent(t, router, "Nilson", "seller")

	code, env := doJSON(t, router, http.MethodPost, "/api/v1/agents", "", map[string]any{
		"name": "  nilson ",
	})
	if code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409 (%s)", code, env.Error)
	}
}

func TestClaimIsIdempotent(t *testing.T) {
	router := newTestRouter()
	agent := registerAgent(t, router, "Nilson", "seller")

	for i := 0; i < 2; i++ {
		code, env := doJSON(t, router, http.MethodPost, "/api/v1/agents/claim", "", map[string]any{
			"claim_token": agent.claimToken,
			"owner_email": "nilson@example.com",
		})
		if code != http.StatusOK {
			t.Fatalf("claim attempt %d: status %d (%s)", i, code, env.Error)
		}
		var data struct {
			ClaimStatus string `json:"claim_status"`
		}
		json.Unmarshal(env.Data, &data)
		if data.ClaimStatus != "claimed" {
			t.Errorf("attempt %d claim_status = %q, want claimed", i, data.ClaimStatus)
		}
	}

	code, _ := doJSON(t, router, http.MethodPost, "/api/v1/agents/claim", "", map[string]any{
		"claim_token": "carbon_claim_bogus",
	})
	if code != http.StatusNotFound {
		t.Errorf("bogus claim status = %d, want 404", code)
	}
}

func TestLotCreationRequiresAuthAndValidation(t *testing.T) {
	router := newTestRouter()
	seller := registerAgent(t, router, "Nilson", "seller")

	lotBody := map[string]any{
		"project_name":      "Katingan Mentaya Peatland Restoration",
		"standard":          "Verra",
		"vintage_year":      2020,
		"geography":         "Indonesia",
		"quantity_tons":     100,
		"ask_price_per_ton": "12",
	}

	code, _ := doJSON(t, router, http.MethodPost, "/api/v1/lots", "", lotBody)
	if code != http.StatusUnauthorized {
		t.Errorf("unauthenticated create status = %d, want 401", code)
	}

	bad := map[string]any{}
	for k, v := range lotBody {
		bad[k] = v
	}
	bad["vintage_year"] = 2004
	code, env := doJSON(t, router, http.MethodPost, "/api/v1/lots", seller.apiKey, bad)
	if code != http.StatusBadRequest {
		t.Errorf("vintage 2004 status = %d, want 400", code)
	}
	if env.Field != "vintage_year" {
		t.Errorf("field = %q, want vintage_year", env.Field)
	}

	code, _ = doJSON(t, router, http.MethodPost, "/api/v1/lots", seller.apiKey, lotBody)
	if code != http.StatusCreated {
		t.Errorf("valid create status = %d, want 201", code)
	}
}

func TestMarketplaceScenario(t *testing.T) {
	router := newTestRouter()
	seller := registerAgent(t, router, "Nilson", "seller")
	buyer := registerAgent(t, router, "Zack", "buyer")

	// Seller lists a canonical lot.
	code, env := doJSON(t, router, http.MethodPost, "/api/v1/lots", seller.apiKey, map[string]any{
		"project_name":      "Kasigau Corridor REDD+",
		"standard":          "Verra",
		"vintage_year":      2020,
		"geography":         "Kenya",
		"quantity_tons":     100,
		"ask_price_per_ton": "12",
	})
	if code != http.StatusCreated {
		t.Fatalf("create lot: %d (%s)", code, env.Error)
	}
	var lot struct {
		ID string `json:"id"`
	}
	json.Unmarshal(env.Data, &lot)

	// The curated market view shows it with the seller's name.
	code, env = doJSON(t, router, http.MethodGet, "/api/v1/market/credits", "", nil)
	if code != http.StatusOK {
		t.Fatalf("market credits: %d", code)
	}
	var credits struct {
		Credits []struct {
			SellerName string `json:"seller_name"`
		} `json:"credits"`
		Count int `json:"count"`
	}
	json.Unmarshal(env.Data, &credits)
	if credits.Count != 1 || credits.Credits[0].SellerName != "Nilson" {
		t.Errorf("market view = %+v, want one lot from Nilson", credits)
	}

	// Quantity mismatch rejected, full quantity accepted.
	code, _ = doJSON(t, router, http.MethodPost, "/api/v1/lots/"+lot.ID+"/bids", buyer.apiKey, map[string]any{
		"bid_price_per_ton": "11.10",
		"quantity_tons":     50,
	})
	if code != http.StatusBadRequest {
		t.Errorf("partial bid status = %d, want 400", code)
	}
	code, env = doJSON(t, router, http.MethodPost, "/api/v1/lots/"+lot.ID+"/bids", buyer.apiKey, map[string]any{
		"bid_price_per_ton": "11.10",
		"quantity_tons":     100,
	})
	if code != http.StatusCreated {
		t.Fatalf("bid: %d (%s)", code, env.Error)
	}
	var bid struct {
		ID string `json:"id"`
	}
	json.Unmarshal(env.Data, &bid)

	// Bid book is seller-only.
	code, _ = doJSON(t, router, http.MethodGet, "/api/v1/lots/"+lot.ID+"/bids", buyer.apiKey, nil)
	if code != http.StatusForbidden {
		t.Errorf("buyer bid book status = %d, want 403", code)
	}
	code, _ = doJSON(t, router, http.MethodGet, "/api/v1/lots/"+lot.ID+"/bids", seller.apiKey, nil)
	if code != http.StatusOK {
		t.Errorf("seller bid book status = %d, want 200", code)
	}

	// Chat is public to read; bidders may post.
	code, _ = doJSON(t, router, http.MethodPost, "/api/v1/lots/"+lot.ID+"/chat", buyer.apiKey, map[string]any{
		"message": "Is the vintage registry-verified?",
	})
	if code != http.StatusCreated {
		t.Errorf("buyer chat status = %d, want 201", code)
	}
	code, env = doJSON(t, router, http.MethodGet, "/api/v1/lots/"+lot.ID+"/chat", "", nil)
	if code != http.StatusOK {
		t.Errorf("public chat status = %d", code)
	}

	// Buyer cannot accept; seller can; double accept conflicts.
	code, _ = doJSON(t, router, http.MethodPost, "/api/v1/bids/"+bid.ID+"/accept", buyer.apiKey, nil)
	if code != http.StatusForbidden {
		t.Errorf("buyer accept status = %d, want 403", code)
	}
	code, env = doJSON(t, router, http.MethodPost, "/api/v1/bids/"+bid.ID+"/accept", seller.apiKey, nil)
	if code != http.StatusCreated {
		t.Fatalf("accept: %d (%s)", code, env.Error)
	}
	var trade struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	json.Unmarshal(env.Data, &trade)
	if trade.Status != "pending_settlement" {
		t.Errorf("trade status = %q, want pending_settlement", trade.Status)
	}
	code, _ = doJSON(t, router, http.MethodPost, "/api/v1/bids/"+bid.ID+"/accept", seller.apiKey, nil)
	if code != http.StatusConflict {
		t.Errorf("double accept status = %d, want 409", code)
	}

	// Buyer settles.
	code, env = doJSON(t, router, http.MethodPost, "/api/v1/trades/"+trade.ID+"/complete", buyer.apiKey, nil)
	if code != http.StatusOK {
		t.Fatalf("complete: %d (%s)", code, env.Error)
	}
	json.Unmarshal(env.Data, &trade)
	if trade.Status != "completed" {
		t.Errorf("final trade status = %q, want completed", trade.Status)
	}

	// Sold lot leaves the curated market view.
	_, env = doJSON(t, router, http.MethodGet, "/api/v1/market/credits", "", nil)
	json.Unmarshal(env.Data, &credits)
	if credits.Count != 0 {
		t.Errorf("market view still shows %d lots after sale", credits.Count)
	}

	// Activity feed saw all of it.
	code, env = doJSON(t, router, http.MethodGet, "/api/v1/activity", "", nil)
	if code != http.StatusOK {
		t.Fatalf("activity: %d", code)
	}
	var activity struct {
		Count int `json:"count"`
	}
	json.Unmarshal(env.Data, &activity)
	if activity.Count == 0 {
		t.Error("activity feed is empty after a full trade")
	}
}

func TestDisclosuresGatedOnClaim(t *testing.T) {
	router := newTestRouter()
	agent := registerAgent(t, router, "Nilson", "seller")

	post := map[string]any{
		"claim_token":             agent.claimToken,
		"post_type":               "sold_disclosure",
		"summary":                 "Sold 100t Kasigau at $11.75, benchmark was $13.40.",
		"benchmark_marketplace":   "Xpansiv CBL",
		"benchmark_price_per_ton": "13.40",
	}

	// Unclaimed agents cannot post.
	code, _ := doJSON(t, router, http.MethodPost, "/api/v1/human/disclosures", "", post)
	if code != http.StatusForbidden {
		t.Errorf("unclaimed post status = %d, want 403", code)
	}

	doJSON(t, router, http.MethodPost, "/api/v1/agents/claim", "", map[string]any{
		"claim_token": agent.claimToken,
	})

	code, env := doJSON(t, router, http.MethodPost, "/api/v1/human/disclosures", "", post)
	if code != http.StatusCreated {
		t.Fatalf("claimed post status = %d (%s)", code, env.Error)
	}

	code, env = doJSON(t, router, http.MethodGet, "/api/v1/human/disclosures", "", nil)
	if code != http.StatusOK {
		t.Fatalf("list disclosures: %d", code)
	}
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(env.Data, &list)
	if list.Count != 1 {
		t.Errorf("disclosure count = %d, want 1", list.Count)
	}
}

func TestBoostEndpointRunsRounds(t *testing.T) {
	router := newTestRouter()
	registerAgent(t, router, "Nilson", "seller")
	registerAgent(t, router, "Zack", "buyer")

	for want := 0; want < 6; want++ {
		code, env := doJSON(t, router, http.MethodPost, "/api/v1/agents/boost", "", nil)
		if code != http.StatusOK {
			t.Fatalf("boost %d: %d (%s: %s)", want, code, env.Error, env.Hint)
		}
		var res struct {
			Phase   int    `json:"phase"`
			TradeID string `json:"trade_id"`
		}
		json.Unmarshal(env.Data, &res)
		if res.Phase != want {
			t.Fatalf("phase = %d, want %d", res.Phase, want)
		}
		if want == 5 && res.TradeID == "" {
			t.Error("closing phase produced no trade")
		}
	}
}

func TestBoostWithoutAgents(t *testing.T) {
	router := newTestRouter()
	code, _ := doJSON(t, router, http.MethodPost, "/api/v1/agents/boost", "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("boost with no agents status = %d, want 400", code)
	}
}
