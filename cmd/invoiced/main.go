package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/classify"
	"github.com/boddenberg/fatura-engine/internal/config"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/handler"
	"github.com/boddenberg/fatura-engine/internal/infra/cache"
	"github.com/boddenberg/fatura-engine/internal/infra/client"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
	"github.com/boddenberg/fatura-engine/internal/infra/resilience"
	"github.com/boddenberg/fatura-engine/internal/invoice"
	"github.com/boddenberg/fatura-engine/internal/latecharge"
	"github.com/boddenberg/fatura-engine/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("aggregator_url", cfg.AggregatorAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("forecast_months", cfg.ForecastMonths),
		zap.Bool("closing_date_next_cycle", cfg.ClosingDateToNextCycle),
		zap.Bool("carry_over_unpaid", cfg.CarryOverUnpaid),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Audit ---
	auditLog := audit.NewMemory(cfg.AuditCapacity)
	auditSink := audit.Multi(auditLog, audit.NewZapSink(logger))

	// --- Engine ---
	cal := calendar.New()
	if cfg.HolidaysFile != "" {
		holidays, err := calendar.LoadHolidays(cfg.HolidaysFile)
		if err != nil {
			logger.Fatal("failed to load holidays", zap.String("path", cfg.HolidaysFile), zap.Error(err))
		}
		cal = calendar.New(holidays...)
		logger.Info("holiday calendar loaded", zap.Int("holidays", len(holidays)))
	}

	classifier := classify.Default()
	if cfg.RulesFile != "" {
		rules, err := classify.LoadRules(cfg.RulesFile)
		if err != nil {
			logger.Fatal("failed to load classification rules", zap.String("path", cfg.RulesFile), zap.Error(err))
		}
		classifier = classify.New(rules)
		logger.Info("classification rules loaded", zap.String("path", cfg.RulesFile))
	}

	late := latecharge.NewCalculator(latecharge.Rates{
		LateFee:   cfg.LateFeeRate,
		Mora:      cfg.MoraRate,
		Revolving: cfg.RevolvingRate,
	})

	builder := invoice.NewBuilder(
		invoice.WithCalendar(cal),
		invoice.WithClassifier(classifier),
		invoice.WithLateCharges(late),
		invoice.WithAuditSink(auditSink),
		invoice.WithForecastMonths(cfg.ForecastMonths),
		invoice.WithClosingDateToNextCycle(cfg.ClosingDateToNextCycle),
		invoice.WithCarryOverUnpaid(cfg.CarryOverUnpaid),
	)

	// --- Cache ---
	invoiceCache := cache.New[*domain.BuildResult](cfg.CacheTTL)
	defer invoiceCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("aggregator", logger)
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	aggregator := client.NewAggregatorClient(httpClient, cfg.AggregatorAPIURL, cb, bulkhead, resilienceCfg)

	// --- Services ---
	invoiceSvc := service.NewInvoiceService(aggregator, builder, late, invoiceCache, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(invoiceSvc, auditLog, metrics, handler.NewAuthenticator(cfg.JWTSecret), logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
