package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/resilience"
)

var tracer = otel.Tracer("client")

const serviceName = "aggregator"

// maxBody caps how much of a response is read.
const maxBody = 32 << 20

// AggregatorClient fetches card metadata, transactions and recurring charges
// from the open-finance aggregator API.
type AggregatorClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
}

// NewAggregatorClient creates a new AggregatorClient.
func NewAggregatorClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, bh *resilience.Bulkhead, cfg resilience.Config) *AggregatorClient {
	if bh == nil {
		bh = resilience.NewBulkhead(cfg.MaxConcurrency)
	}
	return &AggregatorClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   bh,
		cfg:        cfg,
	}
}

// GetCard fetches the billing configuration and bill snapshots of a card.
func (c *AggregatorClient) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "AggregatorClient.GetCard")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var card domain.Card
	if err := c.get(ctx, "/v1/cards/"+url.PathEscape(cardID), "card", cardID, &card); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if card.ID == "" {
		card.ID = cardID
	}
	return &card, nil
}

// GetCardTransactions fetches every synced transaction of a card.
func (c *AggregatorClient) GetCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "AggregatorClient.GetCardTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var txs list[domain.Transaction]
	if err := c.get(ctx, "/v1/cards/"+url.PathEscape(cardID)+"/transactions", "transactions", cardID, &txs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("transactions.count", len(txs)))
	return txs, nil
}

// GetRecurringCharges fetches the subscription-like charges detected for a
// card. A card without any is not an error.
func (c *AggregatorClient) GetRecurringCharges(ctx context.Context, cardID string) ([]domain.RecurringCharge, error) {
	ctx, span := tracer.Start(ctx, "AggregatorClient.GetRecurringCharges")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	var charges list[domain.RecurringCharge]
	err := c.get(ctx, "/v1/cards/"+url.PathEscape(cardID)+"/recurring", "recurring", cardID, &charges)
	var nf *domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		return []domain.RecurringCharge{}, nil
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return charges, nil
}

// get performs one GET with bulkhead, circuit breaker and retry. 404 maps to
// ErrNotFound, an open breaker to ErrCircuitOpen, anything else that fails
// to ErrExternalService.
func (c *AggregatorClient) get(ctx context.Context, path, resource, id string, out any) error {
	err := c.bulkhead.Do(ctx, func() error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
				return c.fetch(ctx, path, resource, id, out)
			})
		})
		return err
	})

	var nf *domain.ErrNotFound
	switch {
	case err == nil:
		return nil
	case errors.As(err, &nf):
		return nf
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: serviceName}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: serviceName + " " + resource}
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}

func (c *AggregatorClient) fetch(ctx context.Context, path, resource, id string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resilience.Permanent(&domain.ErrNotFound{Resource: resource, ID: id})
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s API returned status %d", resource, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return resilience.Permanent(fmt.Errorf("%s API returned status %d", resource, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode %s: %w", resource, err))
	}
	return nil
}

// list decodes either a bare JSON array or a {"results": [...]} page.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(l))
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(b, &page); err != nil {
		return err
	}
	*l = page.Results
	return nil
}
