package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/client"
	"github.com/boddenberg/fatura-engine/internal/infra/resilience"
)

func newClient(srv *httptest.Server) *client.AggregatorClient {
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return client.NewAggregatorClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("aggregator", nil), nil, cfg)
}

func TestGetCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cards/card-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"closingDay":10,"dueDay":20,"currentBill":{"dueDate":"2026-02-20","totalAmount":123.45}}`))
	}))
	defer srv.Close()

	card, err := newClient(srv).GetCard(context.Background(), "card-1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if card.ID != "card-1" || card.ClosingDay != 10 || card.CurrentBill.TotalAmount != 123.45 {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestGetCardTransactions_AcceptsPagedAndBareLists(t *testing.T) {
	bodies := map[string]string{
		"/v1/cards/paged/transactions": `{"results":[{"id":"a","amount":"10,50","date":"2026-01-05","type":"DEBIT"}],"total":1}`,
		"/v1/cards/bare/transactions":  `[{"id":"a","amount":10.5},{"id":"b","amount":null}]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()
	c := newClient(srv)

	paged, err := c.GetCardTransactions(context.Background(), "paged")
	if err != nil || len(paged) != 1 {
		t.Fatalf("paged: %v %+v", err, paged)
	}
	if cents, ok := paged[0].Amount.Cents(); !ok || cents != 1050 {
		t.Errorf("amount = %d %v", cents, ok)
	}

	bare, err := c.GetCardTransactions(context.Background(), "bare")
	if err != nil || len(bare) != 2 {
		t.Fatalf("bare: %v %+v", err, bare)
	}
	if bare[1].Amount.IsSet() {
		t.Error("null amount should be unset")
	}
}

func TestGetCard_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newClient(srv).GetCard(context.Background(), "missing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGetCard_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"card-1","closingDay":5,"dueDay":15}`))
	}))
	defer srv.Close()

	card, err := newClient(srv).GetCard(context.Background(), "card-1")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if card.ClosingDay != 5 || calls.Load() != 3 {
		t.Errorf("closingDay=%d calls=%d", card.ClosingDay, calls.Load())
	}
}

func TestGetCard_ExternalErrorThenCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newClient(srv)

	_, err := c.GetCard(context.Background(), "card-1")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) || ext.Service != "aggregator" {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}

	var open *domain.ErrCircuitOpen
	for i := 0; i < 10 && !errors.As(err, &open); i++ {
		_, err = c.GetCard(context.Background(), "card-1")
	}
	if !errors.As(err, &open) {
		t.Errorf("expected the breaker to open, last error %v", err)
	}
}

func TestGetRecurringCharges_MissingIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	charges, err := newClient(srv).GetRecurringCharges(context.Background(), "card-1")
	if err != nil || charges == nil || len(charges) != 0 {
		t.Errorf("expected empty charges, got %v %v", charges, err)
	}
}

func TestGetCard_BadPayload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"closingDay":`))
	}))
	defer srv.Close()

	_, err := newClient(srv).GetCard(context.Background(), "card-1")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("decode errors should not be retried, got %d calls", calls.Load())
	}
}
