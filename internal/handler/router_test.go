package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/handler"
	"github.com/boddenberg/fatura-engine/internal/infra/cache"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/money"
	"github.com/boddenberg/fatura-engine/internal/service"
)

type stubAggregator struct {
	cards map[string]*domain.Card
	txs   map[string][]domain.Transaction
}

func (s *stubAggregator) GetCard(_ context.Context, id string) (*domain.Card, error) {
	c, ok := s.cards[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "card", ID: id}
	}
	return c, nil
}

func (s *stubAggregator) GetCardTransactions(_ context.Context, id string) ([]domain.Transaction, error) {
	return s.txs[id], nil
}

func (s *stubAggregator) GetRecurringCharges(context.Context, string) ([]domain.RecurringCharge, error) {
	return nil, nil
}

var today = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router  http.Handler
	audit   *audit.Memory
	metrics *observability.Metrics
}

func newFixture(t *testing.T, auth *handler.Authenticator) fixture {
	t.Helper()
	agg := &stubAggregator{
		cards: map[string]*domain.Card{
			"card-1": {ID: "card-1", ClosingDay: 10, DueDay: 20},
			"broken": {ID: "broken", ClosingDay: 0, DueDay: 20},
		},
		txs: map[string][]domain.Transaction{
			"card-1": {
				{ID: "t1", Description: "MERCADO", Date: "2026-01-05", Amount: money.NewAmount(10.10), Type: "expense"},
				{ID: "t2", Description: "FARMACIA", Date: "2026-01-06", Amount: money.NewAmount(20.20), Type: "expense"},
				{ID: "t3", Description: "BALA", Date: "2026-01-07", Amount: money.NewAmount(0.05), Type: "expense"},
			},
		},
	}
	mem := audit.NewMemory(100)
	metrics := observability.NewMetrics()
	c := cache.New[*domain.BuildResult](time.Minute)
	t.Cleanup(c.Close)

	svc := service.NewInvoiceService(agg, invoice.NewBuilder(invoice.WithAuditSink(mem)), nil, c, metrics, zap.NewNop()).
		WithClock(func() time.Time { return today })
	return fixture{
		router:  handler.NewRouter(svc, mem, metrics, auth, zap.NewNop()),
		audit:   mem,
		metrics: metrics,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOperationalEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ping"} {
		if rec := do(t, f.router, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestBuildInvoices(t *testing.T) {
	f := newFixture(t, nil)

	body := `{
		"card": {"id": "c9", "closingDay": 10, "dueDay": 20},
		"asOf": "2026-01-15",
		"transactions": [
			{"id": "a", "description": "LOJA", "date": "2026-01-03", "amount": "12,34", "type": "expense"},
			{"id": "b", "description": "PAGAMENTO RECEBIDO", "date": "2026-01-04", "amount": 5, "type": "income"}
		]
	}`
	rec := do(t, f.router, http.MethodPost, "/v1/invoices/build", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res domain.BuildResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.CardID != "c9" || res.ClosedInvoice == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ClosedInvoice.TotalCents != 734 {
		t.Errorf("closed total = %d, want 734", res.ClosedInvoice.TotalCents)
	}
}

func TestBuildInvoices_Errors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing card", `{"asOf": "2026-01-15"}`, http.StatusBadRequest},
		{"bad date", `{"card": {"id": "c", "closingDay": 10, "dueDay": 20}, "asOf": "yesterday"}`, http.StatusBadRequest},
		{"bad closing day", `{"card": {"id": "c", "closingDay": 40, "dueDay": 20}, "asOf": "2026-01-15"}`, http.StatusUnprocessableEntity},
		{"negative forecast", `{"card": {"id": "c", "closingDay": 10, "dueDay": 20}, "asOf": "2026-01-15", "forecastMonths": -2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.router, http.MethodPost, "/v1/invoices/build", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCardInvoices(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.router, http.MethodGet, "/v1/cards/card-1/invoices?asOf=2026-01-15&forecastMonths=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res domain.BuildResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ClosedInvoice.TotalCents != 3035 {
		t.Errorf("closed total = %d, want 3035", res.ClosedInvoice.TotalCents)
	}
	if len(res.FutureInvoices) != 2 {
		t.Errorf("forecasts = %d, want 2", len(res.FutureInvoices))
	}
}

func TestCardInvoices_ForecastHorizon(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", invoice.DefaultForecastMonths},
		{"&forecastMonths=0", 0},
		{"&forecastMonths=1", 1},
	}
	for _, tt := range tests {
		rec := do(t, f.router, http.MethodGet, "/v1/cards/card-1/invoices?asOf=2026-01-15"+tt.query, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, rec.Code)
		}
		var res domain.BuildResult
		if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
			t.Fatal(err)
		}
		if len(res.FutureInvoices) != tt.want {
			t.Errorf("%q: forecasts = %d, want %d", tt.query, len(res.FutureInvoices), tt.want)
		}
	}
}

func TestBatchInvoices_ZeroForecast(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.router, http.MethodPost, "/v1/invoices/batch", `{"cardIds":["card-1"],"asOf":"2026-01-15","forecastMonths":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Results map[string]*domain.BuildResult `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	res := body.Results["card-1"]
	if res == nil {
		t.Fatal("missing card-1 result")
	}
	if len(res.FutureInvoices) != 0 {
		t.Errorf("forecasts = %d, want 0", len(res.FutureInvoices))
	}
}

func TestCardInvoices_Errors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/cards/unknown/invoices", http.StatusNotFound},
		{"/v1/cards/broken/invoices", http.StatusUnprocessableEntity},
		{"/v1/cards/card-1/invoices?asOf=2026-13-45", http.StatusBadRequest},
		{"/v1/cards/card-1/invoices?forecastMonths=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(t, f.router, http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestCommitmentAndRefresh(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.router, http.MethodGet, "/v1/cards/card-1/commitment", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var c domain.Commitment
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatal(err)
	}
	if c.CardID != "card-1" || c.FutureCommitmentCents != 0 {
		t.Errorf("unexpected commitment: %+v", c)
	}

	rec = do(t, f.router, http.MethodPost, "/v1/cards/card-1/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Invalidated int `json:"invalidated"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", out.Invalidated)
	}
}

func TestBatchInvoices(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.router, http.MethodPost, "/v1/invoices/batch", `{"cardIds": ["card-1"], "asOf": "2026-01-15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Results map[string]domain.BuildResult `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Results["card-1"].ClosedInvoice.TotalCents != 3035 {
		t.Errorf("unexpected batch result: %+v", out.Results)
	}

	if rec := do(t, f.router, http.MethodPost, "/v1/invoices/batch", `{"cardIds": []}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", rec.Code)
	}
	if rec := do(t, f.router, http.MethodPost, "/v1/invoices/batch", `{"cardIds": ["card-1", "unknown"]}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown card: expected 404, got %d", rec.Code)
	}
}

func TestLateCharges(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.router, http.MethodPost, "/v1/late-charges",
		`{"amount": "1000.00", "dueDate": "2026-01-10", "asOfDate": "2026-01-20"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var lc domain.LateCharges
	if err := json.NewDecoder(rec.Body).Decode(&lc); err != nil {
		t.Fatal(err)
	}
	if lc.DaysOverdue != 10 || lc.TotalChargesCents != 7000 {
		t.Errorf("unexpected charges: %+v", lc)
	}

	for _, body := range []string{
		`{"amount": "abc", "dueDate": "2026-01-10"}`,
		`{"amount": 10}`,
	} {
		if rec := do(t, f.router, http.MethodPost, "/v1/late-charges", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestAuditAndEngineMetrics(t *testing.T) {
	f := newFixture(t, nil)

	if rec := do(t, f.router, http.MethodGet, "/v1/cards/card-1/invoices", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec := do(t, f.router, http.MethodGet, "/v1/audit?cardId=card-1&event=build_finished", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 || out.Entries[0].Event != audit.EventBuildFinished {
		t.Errorf("unexpected audit entries: %+v", out)
	}

	rec = do(t, f.router, http.MethodGet, "/v1/metrics/engine", "")
	var snap domain.EngineMetrics
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalBuilds != 1 {
		t.Errorf("total builds = %d, want 1", snap.TotalBuilds)
	}
}

func TestJWTAuth(t *testing.T) {
	auth := handler.NewAuthenticator("s3cret")
	f := newFixture(t, auth)

	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Token abc"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad scheme: expected 401, got %d", rec.Code)
	}

	other, err := handler.NewAuthenticator("other").Issue("ops", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Bearer "+other); rec.Code != http.StatusUnauthorized {
		t.Errorf("foreign signature: expected 401, got %d", rec.Code)
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Bearer "+foreign); rec.Code != http.StatusUnauthorized {
		t.Errorf("foreign issuer: expected 401, got %d", rec.Code)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "ops",
		Issuer:  "fatura-engine",
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Bearer "+noExpiry); rec.Code != http.StatusUnauthorized {
		t.Errorf("token without expiry: expected 401, got %d", rec.Code)
	}

	token, err := auth.Issue("ops", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Bearer "+token); rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rec.Code)
	}

	expired, err := auth.Issue("ops", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(t, f.router, http.MethodGet, "/v1/metrics/engine", "", "Authorization", "Bearer "+expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: expected 401, got %d", rec.Code)
	}

	if rec := do(t, f.router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz must stay public, got %d", rec.Code)
	}
}

func TestNewAuthenticator_EmptySecret(t *testing.T) {
	if handler.NewAuthenticator("") != nil {
		t.Error("empty secret must disable auth")
	}
}
