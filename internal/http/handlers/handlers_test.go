package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/auth"
	"github.com/jmylchreest/genstudio-api/internal/catalog"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/http/mw"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/orchestrator"
	"github.com/jmylchreest/genstudio-api/internal/service"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testUserHeader carries the caller identity in tests in place of a verified token.
const testUserHeader = "X-Test-User"

func newTestAPI(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	UseErrorEnvelope()

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(testUserHeader); id != "" {
				r = r.WithContext(mw.WithUserClaims(r.Context(), &mw.UserClaims{UserID: id}))
			}
			next.ServeHTTP(w, r)
		})
	})
	return router, humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
}

func doJSON(t *testing.T, h http.Handler, method, path, user string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

// ========================================
// Health Tests
// ========================================

func TestHealthCheck(t *testing.T) {
	output, err := NewHealthCheck(true, false)(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "healthy" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "healthy")
	}
	if output.Body.Version == "" {
		t.Error("Version is empty")
	}
	if !output.Body.Degraded || output.Body.MockMode {
		t.Errorf("modes = degraded %v mock %v, want true false", output.Body.Degraded, output.Body.MockMode)
	}
}

func TestLivez(t *testing.T) {
	output, err := Livez(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
	}
}

// mockDBPinger implements DBPinger for testing
type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping() error {
	return m.err
}

func TestReadyz(t *testing.T) {
	UseErrorEnvelope()
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		db         DBPinger
		degraded   bool
		wantErr    bool
		wantStatus string
	}{
		{"healthy", &mockDBPinger{}, false, false, "ok"},
		{"unreachable strict", &mockDBPinger{err: down}, false, true, ""},
		{"unreachable degraded", &mockDBPinger{err: down}, true, false, "degraded"},
		{"no database strict", nil, false, true, ""},
		{"no database degraded", nil, true, false, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := NewReadyzHandler(tt.db, tt.degraded).Readyz(context.Background(), nil)
			if tt.wantErr {
				var se huma.StatusError
				if !errors.As(err, &se) || se.GetStatus() != http.StatusServiceUnavailable {
					t.Fatalf("error = %v, want 503", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if output.Body.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", output.Body.Status, tt.wantStatus)
			}
		})
	}
}

// ========================================
// Error Envelope Tests
// ========================================

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", apperr.Validation("inputs.prompt is required"), 400, "inputs.prompt is required"},
		{"insufficient funds", apperr.InsufficientFunds(3, 8), 402, "Insufficient credits: balance 3, required 8"},
		{"not found", apperr.NotFound("model x not found"), 404, "model x not found"},
		{"provider rejected", apperr.ProviderRejected("replicate", "nsfw", nil), 502, "provider replicate rejected the generation: nsfw"},
		{"provider timeout", apperr.ProviderTimeout("fal", ""), 504, "provider fal timed out"},
		{"unclassified", errors.New("sql: database is closed"), 500, "internal error"},
		{"unconfigured ledger", collaboratorError(guard.Ledger, guard.ErrNotConfigured), 503, "ledger unavailable (missing_config)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toHTTPError(context.Background(), testLogger, tt.err)
			var body *ErrorBody
			if !errors.As(err, &body) {
				t.Fatalf("toHTTPError() = %T, want *ErrorBody", err)
			}
			if body.GetStatus() != tt.wantStatus {
				t.Errorf("status = %d, want %d", body.GetStatus(), tt.wantStatus)
			}
			if body.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
			}
			if body.Success {
				t.Error("Success = true on an error body")
			}
		})
	}
}

func TestCollaboratorError_PassesTaxonomyErrors(t *testing.T) {
	original := apperr.InsufficientFunds(0, 5)
	if got := collaboratorError(guard.Ledger, original); got != error(original) {
		t.Errorf("collaboratorError() = %v, want the original error", got)
	}
	if collaboratorError(guard.Ledger, nil) != nil {
		t.Error("collaboratorError(nil) != nil")
	}
}

func TestNewErrorBody_SchemaViolationIs400(t *testing.T) {
	se := newErrorBody(http.StatusUnprocessableEntity, "validation failed", errors.New("expected required property modelId"))
	if se.GetStatus() != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", se.GetStatus())
	}
	if !strings.Contains(se.Error(), "modelId") {
		t.Errorf("message = %q, want detail appended", se.Error())
	}
}

// ========================================
// Generate Tests
// ========================================

type mockGenerator struct {
	mu       sync.Mutex
	identity string
	req      orchestrator.Request
	resp     *orchestrator.Response
	err      error
}

func (m *mockGenerator) Generate(ctx context.Context, identity string, req orchestrator.Request) (*orchestrator.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity, m.req = identity, req
	return m.resp, m.err
}

func TestGenerateHandler(t *testing.T) {
	balance := int64(2)
	gen := &mockGenerator{resp: &orchestrator.Response{
		URLs:       []string{"https://assets.example.com/a.png"},
		Meta:       orchestrator.Meta{ModelID: "flux-dev", GenerationID: "gen_1", DurationMs: 12},
		NewBalance: &balance,
	}}
	router, api := newTestAPI(t)
	mw.ProtectedPost(api, "/api/v1/generate", NewGenerateHandler(gen, testLogger).Generate, mw.WithOptionalAuth())

	t.Run("success envelope", func(t *testing.T) {
		rec, body := doJSON(t, router, http.MethodPost, "/api/v1/generate", "user_1", map[string]any{
			"modelId":      "flux-dev",
			"inputs":       map[string]any{"prompt": "a fox"},
			"params":       map[string]any{"aspect_ratio": "1:1"},
			"outputsCount": 1,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if body["success"] != true {
			t.Errorf("success = %v, want true", body["success"])
		}
		if body["newBalance"] != float64(2) {
			t.Errorf("newBalance = %v, want 2", body["newBalance"])
		}
		meta, _ := body["meta"].(map[string]any)
		if meta["generationId"] != "gen_1" {
			t.Errorf("meta = %v", meta)
		}

		gen.mu.Lock()
		defer gen.mu.Unlock()
		if gen.identity != "user_1" || gen.req.Prompt != "a fox" || gen.req.Params["aspect_ratio"] != "1:1" {
			t.Errorf("orchestrator got identity %q request %+v", gen.identity, gen.req)
		}
	})

	t.Run("anonymous caller passes empty identity", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/generate", "", map[string]any{
			"modelId": "flux-dev",
			"inputs":  map[string]any{"prompt": "a fox"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		gen.mu.Lock()
		defer gen.mu.Unlock()
		if gen.identity != "" {
			t.Errorf("identity = %q, want empty", gen.identity)
		}
	})

	t.Run("orchestrator error", func(t *testing.T) {
		gen.mu.Lock()
		gen.err = apperr.InsufficientFunds(2, 8)
		gen.mu.Unlock()
		defer func() { gen.mu.Lock(); gen.err = nil; gen.mu.Unlock() }()

		rec, body := doJSON(t, router, http.MethodPost, "/api/v1/generate", "user_1", map[string]any{
			"modelId": "flux-dev",
			"inputs":  map[string]any{"prompt": "a fox"},
		})
		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402", rec.Code)
		}
		if body["success"] != false || !strings.HasPrefix(body["error"].(string), "Insufficient credits") {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec, body := doJSON(t, router, http.MethodPost, "/api/v1/generate", "user_1", map[string]any{
			"inputs": map[string]any{"prompt": "a fox"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
		}
		if body["success"] != false || body["error"] == "" {
			t.Errorf("body = %v, want error envelope", body)
		}
	})
}

// rejectingVerifier refuses every token.
type rejectingVerifier struct{}

func (rejectingVerifier) VerifyToken(context.Context, string) (*auth.Claims, error) {
	return nil, errors.New("token is expired")
}

func TestGenerateHandler_RejectedTokenIsNotAnonymous(t *testing.T) {
	UseErrorEnvelope()
	gen := &mockGenerator{resp: &orchestrator.Response{Meta: orchestrator.Meta{ModelID: "flux-dev"}}}

	router := chi.NewRouter()
	router.Use(mw.Identity(mw.IdentityConfig{Verifier: rejectingVerifier{}, AnonymousIdentity: "guest", Logger: testLogger}))
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{Logger: testLogger}))
	mw.ProtectedPost(api, "/api/v1/generate", NewGenerateHandler(gen, testLogger).Generate, mw.WithOptionalAuth())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCalled bool
		wantID     string
	}{
		{name: "rejected token", header: "Bearer expired.jwt.token", wantStatus: http.StatusUnauthorized},
		{name: "no token falls back to anonymous", wantStatus: http.StatusOK, wantCalled: true, wantID: "guest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen.mu.Lock()
			gen.identity, gen.req = "", orchestrator.Request{}
			gen.mu.Unlock()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/generate",
				strings.NewReader(`{"modelId":"flux-dev","inputs":{"prompt":"a fox"}}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !tt.wantCalled && !strings.Contains(rec.Body.String(), "invalid token") {
				t.Errorf("body = %s, want invalid token message", rec.Body.String())
			}

			gen.mu.Lock()
			defer gen.mu.Unlock()
			called := gen.req.ModelID != ""
			if called != tt.wantCalled {
				t.Errorf("generator called = %v, want %v", called, tt.wantCalled)
			}
			if gen.identity != tt.wantID {
				t.Errorf("identity = %q, want %q", gen.identity, tt.wantID)
			}
		})
	}
}

// ========================================
// Balance and Generation Tests
// ========================================

type mockLedger struct {
	mu      sync.Mutex
	balance int64
	txs     []*models.LedgerTransaction
	err     error
	refund  service.RefundInput
	adjusts []string
}

func (m *mockLedger) Balance(ctx context.Context, identity string) (int64, error) {
	return m.balance, m.err
}

func (m *mockLedger) Transactions(ctx context.Context, identity string, limit, offset int) ([]*models.LedgerTransaction, error) {
	return m.txs, m.err
}

func (m *mockLedger) Refund(ctx context.Context, in service.RefundInput) (*models.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.refund = in
	return &models.LedgerTransaction{ID: "tx_1", Type: models.TxTypeRefund, Amount: 8}, nil
}

func (m *mockLedger) Adjust(ctx context.Context, identity string, amount int64, description, actor string) (*models.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.adjusts = append(m.adjusts, identity+":"+actor)
	return &models.LedgerTransaction{ID: "tx_2", Type: models.TxTypeAdjustment, Amount: amount}, nil
}

func TestBalanceHandler(t *testing.T) {
	tests := []struct {
		name       string
		ledger     *mockLedger
		wantStatus int
	}{
		{"balance", &mockLedger{balance: 42}, http.StatusOK},
		{"ledger not configured", &mockLedger{err: guard.ErrNotConfigured}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, api := newTestAPI(t)
			h := NewBalanceHandler(tt.ledger, testLogger)
			mw.ProtectedGet(api, "/api/v1/balance", h.GetBalance)
			mw.ProtectedGet(api, "/api/v1/balance/transactions", h.ListTransactions)

			rec, body := doJSON(t, router, http.MethodGet, "/api/v1/balance", "user_1", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && body["balance"] != float64(42) {
				t.Errorf("balance = %v, want 42", body["balance"])
			}

			rec, body = doJSON(t, router, http.MethodGet, "/api/v1/balance/transactions?limit=10", "user_1", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("transactions status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if txs, ok := body["transactions"].([]any); !ok || len(txs) != 0 {
					t.Errorf("transactions = %v, want empty array", body["transactions"])
				}
			}
		})
	}
}

type mockRecords struct {
	gens map[string]*models.Generation
}

func (m *mockRecords) GetOwned(ctx context.Context, identity, id string) (*models.Generation, error) {
	if g, ok := m.gens[id]; ok && g.Identity == identity {
		return g, nil
	}
	return nil, apperr.NotFound("generation %s not found", id)
}

func (m *mockRecords) List(ctx context.Context, identity string, limit, offset int) ([]*models.Generation, error) {
	var out []*models.Generation
	for _, g := range m.gens {
		if g.Identity == identity {
			out = append(out, g)
		}
	}
	return out, nil
}

func TestGenerationHandler(t *testing.T) {
	records := &mockRecords{gens: map[string]*models.Generation{
		"gen_1": {ID: "gen_1", Identity: "user_1", Status: models.GenerationStatusSuccess},
	}}
	router, api := newTestAPI(t)
	h := NewGenerationHandler(records, testLogger)
	mw.ProtectedGet(api, "/api/v1/generations/{id}", h.GetGeneration)
	mw.ProtectedGet(api, "/api/v1/generations", h.ListGenerations)

	if rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/generations/gen_1", "user_1", nil); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", rec.Code)
	}
	if rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/generations/gen_1", "user_2", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other caller status = %d, want 404", rec.Code)
	}

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/generations", "user_2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if gens, ok := body["generations"].([]any); !ok || len(gens) != 0 {
		t.Errorf("generations = %v, want empty array", body["generations"])
	}
}

// ========================================
// Admin Tests
// ========================================

func TestAdminHandler(t *testing.T) {
	ledger := &mockLedger{}
	router, api := newTestAPI(t)
	h := NewAdminHandler(ledger, testLogger)
	mw.ProtectedPost(api, "/api/v1/admin/refunds", h.Refund, mw.WithSuperadmin())
	mw.ProtectedPost(api, "/api/v1/admin/adjustments", h.Adjust, mw.WithSuperadmin())

	rec, body := doJSON(t, router, http.MethodPost, "/api/v1/admin/refunds", "admin_1", map[string]any{
		"generationId": "gen_1",
		"reason":       "provider outage",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refund status = %d, body %s", rec.Code, rec.Body.String())
	}
	if tx, _ := body["transaction"].(map[string]any); tx["type"] != "refund" {
		t.Errorf("transaction = %v", body["transaction"])
	}
	ledger.mu.Lock()
	if ledger.refund.Actor != "admin_1" || ledger.refund.GenerationID != "gen_1" || ledger.refund.Amount != 0 {
		t.Errorf("refund input = %+v", ledger.refund)
	}
	ledger.mu.Unlock()

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/admin/adjustments", "admin_1", map[string]any{
		"identity": "user_1",
		"amount":   -5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust status = %d", rec.Code)
	}

	ledger.mu.Lock()
	ledger.err = apperr.Validation("generation gen_1 has already been refunded")
	ledger.mu.Unlock()
	rec, body = doJSON(t, router, http.MethodPost, "/api/v1/admin/refunds", "admin_1", map[string]any{
		"generationId": "gen_1",
		"reason":       "again",
	})
	if rec.Code != http.StatusBadRequest || body["error"] != "generation gen_1 has already been refunded" {
		t.Errorf("second refund = %d %v, want 400", rec.Code, body)
	}
}

// ========================================
// Models Tests
// ========================================

type mockCatalog []catalog.Model

func (m mockCatalog) List() []catalog.Model { return m }

func TestModelsHandler(t *testing.T) {
	out, err := NewModelsHandler(mockCatalog{{ID: "flux-dev", CreditCost: 8}}).ListModels(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Body.Models) != 1 || out.Body.Models[0].CreditCost != 8 {
		t.Errorf("models = %+v", out.Body.Models)
	}

	out, _ = NewModelsHandler(mockCatalog(nil)).ListModels(context.Background(), nil)
	if out.Body.Models == nil {
		t.Error("models is nil, want empty slice")
	}
}

// ========================================
// Asset Tests
// ========================================

type mockAssets struct {
	objects map[string]string
	err     error
}

func (m *mockAssets) Open(ctx context.Context, key, sig string) (*service.Asset, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, ok := m.objects[key]
	if !ok || sig != "good" {
		return nil, apperr.NotFound("asset not found")
	}
	return &service.Asset{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentType:   "image/png",
		ContentLength: int64(len(body)),
	}, nil
}

func TestAssetHandler(t *testing.T) {
	assets := &mockAssets{objects: map[string]string{"generations/user_1/photo/gen_1.png": "PNGDATA"}}
	router := chi.NewRouter()
	router.Get(AssetRoutePattern, NewAssetHandler(assets, testLogger).ServeAsset)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"signed", "/api/v1/assets/generations/user_1/photo/gen_1.png?sig=good", http.StatusOK, "PNGDATA"},
		{"bad signature", "/api/v1/assets/generations/user_1/photo/gen_1.png?sig=bad", http.StatusNotFound, `"success":false`},
		{"missing key", "/api/v1/assets/generations/user_1/photo/gen_2.png?sig=good", http.StatusNotFound, `"error":"asset not found"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	t.Run("store unreachable", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get(AssetRoutePattern, NewAssetHandler(&mockAssets{err: guard.ErrNotConfigured}, testLogger).ServeAsset)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/assets/x.png?sig=good", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}
