package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/fatura-engine/internal/domain"
)

// Metrics holds all Prometheus metrics of the engine service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	buildDuration  *prometheus.HistogramVec
	buildsTotal    *prometheus.CounterVec
	excludedTotal  *prometheus.CounterVec
	ambiguousTotal *prometheus.CounterVec
	invoicesTotal  *prometheus.CounterVec
	externalErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fatura_build_duration_seconds",
				Help:    "Duration of invoice operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_builds_total",
				Help: "Total invoice computations by outcome.",
			},
			[]string{"status"},
		),
		excludedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_excluded_transactions_total",
				Help: "Transactions left out of cycle bucketing, by reason.",
			},
			[]string{"reason"},
		),
		ambiguousTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_ambiguous_classifications_total",
				Help: "Transactions counted as purchases without a confident rule.",
			},
			[]string{"status"},
		),
		invoicesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_invoices_total",
				Help: "Closed and current invoices computed, by total source.",
			},
			[]string{"source"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatura_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.buildDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrBuild counts a computation with status "success" or "error".
func (m *Metrics) IncrBuild(status string) {
	m.buildsTotal.WithLabelValues(status).Inc()
}

// ObserveResult counts what a successful computation found.
func (m *Metrics) ObserveResult(res *domain.BuildResult) {
	for _, ex := range res.Excluded {
		m.excludedTotal.WithLabelValues(ex.Reason).Inc()
	}
	for _, inv := range []*domain.Invoice{res.ClosedInvoice, res.CurrentInvoice} {
		if inv == nil {
			continue
		}
		m.invoicesTotal.WithLabelValues(inv.Source).Inc()
		for _, it := range inv.Items {
			if it.Ambiguous {
				m.ambiguousTotal.WithLabelValues(inv.Status).Inc()
			}
		}
	}
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetEngineSnapshot returns the counters served by GET /v1/metrics/engine.
func (m *Metrics) GetEngineSnapshot() *domain.EngineMetrics {
	success := getCounterValue(m.buildsTotal, "success")
	failed := getCounterValue(m.buildsTotal, "error")
	hits := sumCounterVec(m.cacheHits)
	misses := sumCounterVec(m.cacheMisses)

	snap := &domain.EngineMetrics{
		TotalBuilds:              int64(success + failed),
		FailedBuilds:             int64(failed),
		ExcludedTransactions:     make(map[string]int64),
		AmbiguousClassifications: int64(sumCounterVec(m.ambiguousTotal)),
		SnapshotInvoices:         int64(getCounterValue(m.invoicesTotal, domain.SourceSnapshot)),
		Period:                   "all_time",
	}
	if total := success + failed; total > 0 {
		snap.ErrorRate = failed / total
	}
	if hits+misses > 0 {
		snap.CacheHitRate = hits / (hits + misses)
	}
	for _, reason := range []string{domain.ReasonIgnored, domain.ReasonInvalidDate, domain.ReasonDuplicate} {
		if v := getCounterValue(m.excludedTotal, reason); v > 0 {
			snap.ExcludedTransactions[reason] = int64(v)
		}
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every label combination of cv.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			total += m.Counter.GetValue()
		}
	}
	return total
}
