package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/cache"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/money"
	"github.com/boddenberg/fatura-engine/internal/service"
)

// --- Mocks ---

type mockAggregator struct {
	mu           sync.Mutex
	cards        map[string]*domain.Card
	transactions map[string][]domain.Transaction
	recurring    map[string][]domain.RecurringCharge
	recurringErr error
	txErr        error
	cardCalls    int
}

func (m *mockAggregator) GetCard(_ context.Context, cardID string) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cardCalls++
	c, ok := m.cards[cardID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	return c, nil
}

func (m *mockAggregator) GetCardTransactions(_ context.Context, cardID string) ([]domain.Transaction, error) {
	if m.txErr != nil {
		return nil, m.txErr
	}
	return m.transactions[cardID], nil
}

func (m *mockAggregator) GetRecurringCharges(_ context.Context, cardID string) ([]domain.RecurringCharge, error) {
	if m.recurringErr != nil {
		return nil, m.recurringErr
	}
	return m.recurring[cardID], nil
}

func (m *mockAggregator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cardCalls
}

// --- Helpers ---

var today = time.Date(2026, time.January, 15, 14, 30, 0, 0, time.UTC)

func newAggregator() *mockAggregator {
	return &mockAggregator{
		cards: map[string]*domain.Card{
			"card-1": {ID: "card-1", ClosingDay: 10, DueDay: 20},
			"card-2": {ID: "card-2", ClosingDay: 25, DueDay: 5},
			"broken": {ID: "broken", ClosingDay: 0, DueDay: 5},
		},
		transactions: map[string][]domain.Transaction{
			"card-1": {
				{ID: "t1", Description: "MERCADO", Date: "2026-01-05", Amount: money.NewAmount(10.10), Type: "expense"},
				{ID: "t2", Description: "FARMACIA", Date: "2026-01-06", Amount: money.NewAmount(20.20), Type: "expense"},
				{ID: "t3", Description: "BALA", Date: "2026-01-07", Amount: money.NewAmount(0.05), Type: "expense"},
			},
		},
		recurring: map[string][]domain.RecurringCharge{
			"card-1": {{ID: "r1", Description: "STREAMING", Amount: money.NewAmount(39.90), DayOfMonth: 1}},
		},
	}
}

func newService(agg *mockAggregator, opts ...invoice.Option) (*service.InvoiceService, *observability.Metrics) {
	metrics := observability.NewMetrics()
	c := cache.New[*domain.BuildResult](5 * time.Minute)
	svc := service.NewInvoiceService(agg, invoice.NewBuilder(opts...), nil, c, metrics, zap.NewNop()).
		WithClock(func() time.Time { return today })
	return svc, metrics
}

// --- Tests ---

func TestGetCardInvoices_Success(t *testing.T) {
	svc, _ := newService(newAggregator())

	res, err := svc.GetCardInvoices(context.Background(), "card-1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClosedInvoice.TotalCents != 3035 || res.CurrentInvoice.TotalCents != 0 {
		t.Errorf("closed = %d current = %d", res.ClosedInvoice.TotalCents, res.CurrentInvoice.TotalCents)
	}
	if !res.AsOf.Equal(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("asOf = %s, want the injected day", res.AsOf)
	}
	if res.FutureInvoices[0].TotalCents != 3990 {
		t.Errorf("forecast = %d, want recurring 3990", res.FutureInvoices[0].TotalCents)
	}
}

func TestGetCardInvoices_CachesPerDay(t *testing.T) {
	agg := newAggregator()
	svc, metrics := newService(agg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.GetCardInvoices(ctx, "card-1", today, 0); err != nil {
			t.Fatal(err)
		}
	}
	if agg.calls() != 1 {
		t.Errorf("expected 1 aggregator call, got %d", agg.calls())
	}

	if _, err := svc.GetCardInvoices(ctx, "card-1", today.AddDate(0, 0, 1), 0); err != nil {
		t.Fatal(err)
	}
	if agg.calls() != 2 {
		t.Errorf("another day must recompute, got %d calls", agg.calls())
	}

	if n := svc.Refresh("card-1"); n != 2 {
		t.Errorf("refresh dropped %d entries, want 2", n)
	}
	if _, err := svc.GetCardInvoices(ctx, "card-1", today, 0); err != nil {
		t.Fatal(err)
	}
	if agg.calls() != 3 {
		t.Errorf("refresh must force a fetch, got %d calls", agg.calls())
	}

	snap := metrics.GetEngineSnapshot()
	if snap.TotalBuilds != 3 || snap.CacheHitRate != 2.0/5.0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetCardInvoices_NotFound(t *testing.T) {
	svc, _ := newService(newAggregator())

	_, err := svc.GetCardInvoices(context.Background(), "nope", today, 0)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCardInvoices_TransactionsError(t *testing.T) {
	agg := newAggregator()
	agg.txErr = &domain.ErrExternalService{Service: "aggregator", Err: errors.New("503")}
	svc, _ := newService(agg)

	_, err := svc.GetCardInvoices(context.Background(), "card-1", today, 0)
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestGetCardInvoices_RecurringFailureDegrades(t *testing.T) {
	agg := newAggregator()
	agg.recurringErr = errors.New("timeout")
	svc, _ := newService(agg)

	res, err := svc.GetCardInvoices(context.Background(), "card-1", today, 0)
	if err != nil {
		t.Fatalf("recurring failure must not fail the build: %v", err)
	}
	if res.FutureInvoices[0].TotalCents != 0 {
		t.Errorf("forecast = %d, want 0 without recurring data", res.FutureInvoices[0].TotalCents)
	}
}

func TestGetCardInvoices_ConfigurationError(t *testing.T) {
	svc, metrics := newService(newAggregator())

	_, err := svc.GetCardInvoices(context.Background(), "broken", today, 0)
	var cfgErr *domain.ErrConfiguration
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if snap := metrics.GetEngineSnapshot(); snap.FailedBuilds != 1 {
		t.Errorf("failed builds = %d", snap.FailedBuilds)
	}
}

func TestGetCardInvoices_ContextCancelled(t *testing.T) {
	svc, _ := newService(newAggregator())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.GetCardInvoices(ctx, "card-1", today, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGetCommitment(t *testing.T) {
	agg := newAggregator()
	agg.transactions["card-1"] = append(agg.transactions["card-1"],
		domain.Transaction{ID: "p1", Description: "TV PARC 01/10", Date: "2026-01-08", Amount: money.NewAmount(250), Type: "expense"})
	svc, _ := newService(agg)

	got, err := svc.GetCommitment(context.Background(), "card-1", today)
	if err != nil {
		t.Fatal(err)
	}
	if got.FutureCommitmentCents != 9*25000 || len(got.Purchases) != 1 {
		t.Errorf("commitment = %d over %d purchases", got.FutureCommitmentCents, len(got.Purchases))
	}
}

func TestBuildMany(t *testing.T) {
	svc, _ := newService(newAggregator())
	svc.WithMaxConcurrency(2)

	res, err := svc.BuildMany(context.Background(), []string{"card-1", "card-2"}, today, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 2 || res["card-1"].ClosedInvoice.TotalCents != 3035 || res["card-2"].CardID != "card-2" {
		t.Errorf("unexpected results %+v", res)
	}

	_, err = svc.BuildMany(context.Background(), []string{"card-1", "broken"}, today, 1)
	var cfgErr *domain.ErrConfiguration
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ErrConfiguration from the failing card, got %v", err)
	}
}

func TestBuild_UsesClockAndAudit(t *testing.T) {
	mem := audit.NewMemory(100)
	svc, _ := newService(newAggregator(), invoice.WithAuditSink(mem))

	res, err := svc.Build(context.Background(), invoice.Request{
		Card:         &domain.Card{ID: "manual", ClosingDay: 10, DueDay: 20},
		Transactions: []domain.Transaction{{ID: "x", Description: "LOJA", Date: "2026-01-12", Amount: money.NewAmount(5), Type: "expense"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CurrentInvoice.TotalCents != 500 {
		t.Errorf("current = %d", res.CurrentInvoice.TotalCents)
	}
	if got := mem.List(audit.Filter{CardID: "manual"}); len(got) == 0 {
		t.Error("expected audit entries for the build")
	}
}

func TestLateCharges(t *testing.T) {
	svc, _ := newService(newAggregator())
	due := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	if got := svc.LateCharges(1000, due, due); got.TotalChargesCents != 0 {
		t.Errorf("same day charges = %+v", got)
	}
	if got := svc.LateCharges(1000, due, due.AddDate(0, 0, 10)); got.TotalChargesCents != 7000 {
		t.Errorf("ten days = %s", fmt.Sprint(got.TotalChargesCents))
	}
}
