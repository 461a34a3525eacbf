package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/latecharge"
	"github.com/boddenberg/fatura-engine/internal/port"
)

var tracer = otel.Tracer("service/invoice")

// InvoiceService fetches card data from the aggregator and runs the invoice
// builder over it.
type InvoiceService struct {
	aggregator     port.Aggregator
	builder        *invoice.Builder
	late           *latecharge.Calculator
	cache          port.Cache[*domain.BuildResult]
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
	maxConcurrency int
}

// NewInvoiceService creates the invoice service with all dependencies injected.
func NewInvoiceService(
	aggregator port.Aggregator,
	builder *invoice.Builder,
	late *latecharge.Calculator,
	cache port.Cache[*domain.BuildResult],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *InvoiceService {
	if late == nil {
		late = latecharge.NewCalculator(latecharge.DefaultRates())
	}
	return &InvoiceService{
		aggregator:     aggregator,
		builder:        builder,
		late:           late,
		cache:          cache,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
		maxConcurrency: 8,
	}
}

// WithClock sets the source of "today" for requests that omit asOf.
func (s *InvoiceService) WithClock(now func() time.Time) *InvoiceService {
	s.now = now
	return s
}

// WithMaxConcurrency bounds how many cards BuildMany computes at once.
func (s *InvoiceService) WithMaxConcurrency(n int) *InvoiceService {
	if n > 0 {
		s.maxConcurrency = n
	}
	return s
}

// Today returns the current day.
func (s *InvoiceService) Today() time.Time {
	return calendar.Truncate(s.now())
}

// Build runs the builder on caller-supplied data.
func (s *InvoiceService) Build(ctx context.Context, req invoice.Request) (*domain.BuildResult, error) {
	ctx, span := tracer.Start(ctx, "InvoiceService.Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("card.id", req.CardID),
		attribute.Int("transactions.count", len(req.Transactions)),
	)

	if req.AsOf.IsZero() {
		req.AsOf = s.Today()
	}
	res, err := s.run(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// GetCardInvoices computes the invoices of a card from aggregator data.
// Results are cached per card, day and horizon.
func (s *InvoiceService) GetCardInvoices(ctx context.Context, cardID string, asOf time.Time, forecastMonths int) (*domain.BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "InvoiceService.GetCardInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	if cardID == "" {
		return nil, &domain.ErrValidation{Field: "cardId", Message: "is required"}
	}
	if asOf.IsZero() {
		asOf = s.Today()
	}
	asOf = calendar.Truncate(asOf)

	cacheKey := fmt.Sprintf("%s|%s|%d", cardID, asOf.Format("2006-01-02"), forecastMonths)
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("invoices")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("invoices")

	req, err := s.fetch(ctx, cardID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.AsOf = asOf
	req.ForecastMonths = forecastMonths

	res, err := s.run(ctx, *req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.cache.Set(cacheKey, res)
	return res, nil
}

// GetCommitment reports what a card still owes in future installments.
func (s *InvoiceService) GetCommitment(ctx context.Context, cardID string, asOf time.Time) (*domain.Commitment, error) {
	res, err := s.GetCardInvoices(ctx, cardID, asOf, 0)
	if err != nil {
		return nil, err
	}
	return &domain.Commitment{
		CardID:                res.CardID,
		AsOf:                  res.AsOf,
		FutureCommitment:      res.FutureCommitment,
		FutureCommitmentCents: res.FutureCommitmentCents,
		Purchases:             res.Purchases,
	}, nil
}

// BuildMany computes several cards concurrently. It fails on the first card
// that cannot be computed.
func (s *InvoiceService) BuildMany(ctx context.Context, cardIDs []string, asOf time.Time, forecastMonths int) (map[string]*domain.BuildResult, error) {
	ctx, span := tracer.Start(ctx, "InvoiceService.BuildMany")
	defer span.End()
	span.SetAttributes(attribute.Int("cards.count", len(cardIDs)))

	results := make([]*domain.BuildResult, len(cardIDs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for i, id := range cardIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := s.GetCardInvoices(gCtx, id, asOf, forecastMonths)
			if err != nil {
				return fmt.Errorf("card %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make(map[string]*domain.BuildResult, len(cardIDs))
	for i, id := range cardIDs {
		out[id] = results[i]
	}
	return out, nil
}

// Refresh drops every cached computation of a card, typically after a sync.
func (s *InvoiceService) Refresh(cardID string) int {
	n := s.cache.DeletePrefix(cardID + "|")
	s.logger.Info("invoice cache invalidated", zap.String("card_id", cardID), zap.Int("entries", n))
	return n
}

// LateCharges prices paying amount after due.
func (s *InvoiceService) LateCharges(amount float64, due, asOf time.Time) domain.LateCharges {
	return s.late.Calculate(amount, due, asOf)
}

// fetch loads card, transactions and recurring charges concurrently. Missing
// recurring data only degrades forecasts.
func (s *InvoiceService) fetch(ctx context.Context, cardID string) (*invoice.Request, error) {
	var (
		card         *domain.Card
		transactions []domain.Transaction
		recurring    []domain.RecurringCharge
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := s.aggregator.GetCard(gCtx, cardID)
		if err != nil {
			s.logFetchError("card", cardID, err)
			return fmt.Errorf("card fetch: %w", err)
		}
		card = c
		return nil
	})

	g.Go(func() error {
		t, err := s.aggregator.GetCardTransactions(gCtx, cardID)
		if err != nil {
			s.logFetchError("transactions", cardID, err)
			return fmt.Errorf("transactions fetch: %w", err)
		}
		transactions = t
		return nil
	})

	g.Go(func() error {
		r, err := s.aggregator.GetRecurringCharges(gCtx, cardID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("recurring charges unavailable, forecasting installments only",
				zap.String("card_id", cardID),
				zap.Error(err),
			)
			s.metrics.IncrExternalError("recurring")
			return nil
		}
		recurring = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &invoice.Request{
		Card:         card,
		Transactions: transactions,
		CardID:       cardID,
		Recurring:    recurring,
	}, nil
}

func (s *InvoiceService) logFetchError(resource, cardID string, err error) {
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		s.logger.Info("aggregator resource not found",
			zap.String("resource", resource),
			zap.String("card_id", cardID),
		)
		return
	}
	s.logger.Error("aggregator fetch failed",
		zap.String("resource", resource),
		zap.String("card_id", cardID),
		zap.Error(err),
	)
	s.metrics.IncrExternalError(resource)
}

// run executes the builder with metrics and logging.
func (s *InvoiceService) run(ctx context.Context, req invoice.Request) (*domain.BuildResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("build", time.Since(start))
	}()

	res, err := s.builder.BuildInvoices(ctx, req)
	if err != nil {
		s.metrics.IncrBuild("error")
		var cfgErr *domain.ErrConfiguration
		if errors.As(err, &cfgErr) {
			s.logger.Warn("card cannot be billed",
				zap.String("card_id", cfgErr.CardID),
				zap.String("field", cfgErr.Field),
			)
		} else {
			s.logger.Error("invoice build failed", zap.String("card_id", req.CardID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.IncrBuild("success")
	s.metrics.ObserveResult(res)
	s.logger.Debug("invoices built",
		zap.String("card_id", res.CardID),
		zap.Time("as_of", res.AsOf),
		zap.Int64("closed_total_cents", res.ClosedInvoice.TotalCents),
		zap.Int64("current_total_cents", res.CurrentInvoice.TotalCents),
		zap.Int("excluded", len(res.Excluded)),
	)
	return res, nil
}
