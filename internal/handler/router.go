package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/money"
	"github.com/boddenberg/fatura-engine/internal/port"
	"github.com/boddenberg/fatura-engine/internal/service"
)

var tracer = otel.Tracer("handler")

// maxBatchCards bounds a single batch request.
const maxBatchCards = 100

// NewRouter creates the HTTP router with all routes and middleware.
// auth may be nil, in which case /v1 is served without authentication.
func NewRouter(svc *service.InvoiceService, auditLog port.AuditLog, metrics *observability.Metrics, auth *Authenticator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(svc))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(JWTAuthMiddleware(auth, logger))
		}

		// Invoices
		r.Post("/invoices/build", buildInvoicesHandler(svc, logger))
		r.Post("/invoices/batch", batchInvoicesHandler(svc, logger))
		r.Get("/cards/{cardId}/invoices", cardInvoicesHandler(svc, logger))
		r.Get("/cards/{cardId}/commitment", commitmentHandler(svc, logger))
		r.Post("/cards/{cardId}/refresh", refreshHandler(svc, logger))

		// Late charges
		r.Post("/late-charges", lateChargesHandler(svc, logger))

		// Audit & metrics
		r.Get("/audit", auditHandler(auditLog, logger))
		r.Get("/metrics/engine", engineMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Invoices
// ============================================================

type buildRequest struct {
	Card           *domain.Card             `json:"card"`
	Transactions   []domain.Transaction     `json:"transactions"`
	CardID         string                   `json:"cardId"`
	ForecastMonths *int                     `json:"forecastMonths"`
	AsOf           string                   `json:"asOf"`
	Recurring      []domain.RecurringCharge `json:"recurring"`
}

func buildInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/build")
		defer span.End()

		var body buildRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		asOf, err := parseBodyDate("asOf", body.AsOf, false)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := validForecast(body.ForecastMonths); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("card.id", body.CardID),
			attribute.Int("transactions.count", len(body.Transactions)),
		)
		logger.Debug("build requested",
			zap.String("subject", SubjectFromContext(ctx)),
			zap.String("card_id", body.CardID),
		)

		res, err := svc.Build(ctx, invoice.Request{
			Card:           body.Card,
			Transactions:   body.Transactions,
			CardID:         body.CardID,
			ForecastMonths: forecastMonths(body.ForecastMonths),
			AsOf:           asOf,
			Recurring:      body.Recurring,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type batchRequest struct {
	CardIDs        []string `json:"cardIds"`
	AsOf           string   `json:"asOf"`
	ForecastMonths *int     `json:"forecastMonths"`
}

func batchInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/batch")
		defer span.End()

		var body batchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(body.CardIDs) == 0 || len(body.CardIDs) > maxBatchCards {
			handleServiceError(w, &domain.ErrValidation{Field: "cardIds", Message: "must list between 1 and 100 cards"}, logger)
			return
		}
		asOf, err := parseBodyDate("asOf", body.AsOf, false)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := validForecast(body.ForecastMonths); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("cards.count", len(body.CardIDs)))
		logger.Debug("batch requested",
			zap.String("subject", SubjectFromContext(ctx)),
			zap.Int("cards", len(body.CardIDs)),
		)

		results, err := svc.BuildMany(ctx, body.CardIDs, asOf, forecastMonths(body.ForecastMonths))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func cardInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/invoices")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		asOf, err := parseAsOf(r, "asOf")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		forecast, err := parseForecastParam(r, "forecastMonths")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.GetCardInvoices(ctx, cardID, asOf, forecast)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func commitmentHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/commitment")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		asOf, err := parseAsOf(r, "asOf")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		c, err := svc.GetCommitment(ctx, cardID, asOf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func refreshHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cardID := chi.URLParam(r, "cardId")
		n := svc.Refresh(cardID)
		writeJSON(w, http.StatusOK, map[string]any{"cardId": cardID, "invalidated": n})
	}
}

// ============================================================
// Late charges
// ============================================================

type lateChargesRequest struct {
	Amount   money.Amount `json:"amount"`
	DueDate  string       `json:"dueDate"`
	AsOfDate string       `json:"asOfDate"`
}

func lateChargesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/late-charges")
		defer span.End()

		var body lateChargesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		amount, ok := body.Amount.Cents()
		if !ok {
			handleServiceError(w, &domain.ErrValidation{Field: "amount", Message: "must be a number"}, logger)
			return
		}
		due, err := parseBodyDate("dueDate", body.DueDate, true)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		asOf, err := parseBodyDate("asOfDate", body.AsOfDate, false)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if asOf.IsZero() {
			asOf = svc.Today()
		}

		writeJSON(w, http.StatusOK, svc.LateCharges(amount.Float64(), due, asOf))
	}
}

// ============================================================
// Audit & metrics
// ============================================================

func auditHandler(auditLog port.AuditLog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auditLog == nil {
			writeError(w, http.StatusNotImplemented, "audit log not configured")
			return
		}
		limit, err := parseIntParam(r, "limit")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		q := r.URL.Query()
		entries := auditLog.List(audit.Filter{
			CardID:        q.Get("cardId"),
			ComputationID: q.Get("computationId"),
			Event:         q.Get("event"),
			Limit:         limit,
		})
		if entries == nil {
			entries = []audit.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	}
}

func engineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetEngineSnapshot())
	}
}

// ============================================================
// Health
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"service":   observability.ServiceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func readyzHandler(svc *service.InvoiceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
