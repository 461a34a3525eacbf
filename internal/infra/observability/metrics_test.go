package observability_test

import (
	"testing"

	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/infra/observability"
)

func TestEngineSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrBuild("success")
	m.IncrBuild("success")
	m.IncrBuild("success")
	m.IncrBuild("error")
	m.IncrCacheHit("invoices")
	m.IncrCacheMiss("invoices")
	m.IncrCacheMiss("card")
	m.ObserveResult(&domain.BuildResult{
		Excluded: []domain.Excluded{
			{TransactionID: "a", Reason: domain.ReasonInvalidDate},
			{TransactionID: "b", Reason: domain.ReasonInvalidDate},
			{TransactionID: "c", Reason: domain.ReasonIgnored},
		},
		ClosedInvoice: &domain.Invoice{Status: domain.InvoiceClosed, Source: domain.SourceSnapshot},
		CurrentInvoice: &domain.Invoice{
			Status: domain.InvoiceOpen,
			Source: domain.SourceTransactions,
			Items:  []domain.Item{{Ambiguous: true}, {}},
		},
	})

	snap := m.GetEngineSnapshot()
	if snap.TotalBuilds != 4 || snap.FailedBuilds != 1 || snap.ErrorRate != 0.25 {
		t.Errorf("builds: %+v", snap)
	}
	if snap.ExcludedTransactions[domain.ReasonInvalidDate] != 2 || snap.ExcludedTransactions[domain.ReasonIgnored] != 1 {
		t.Errorf("excluded: %v", snap.ExcludedTransactions)
	}
	if snap.AmbiguousClassifications != 1 || snap.SnapshotInvoices != 1 {
		t.Errorf("ambiguous=%d snapshot=%d", snap.AmbiguousClassifications, snap.SnapshotInvoices)
	}
	if snap.CacheHitRate < 0.33 || snap.CacheHitRate > 0.34 {
		t.Errorf("cache hit rate = %v", snap.CacheHitRate)
	}
}

func TestNewMetrics_Independent(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.IncrBuild("success")
	if b.GetEngineSnapshot().TotalBuilds != 0 {
		t.Error("registries must not share counters")
	}
}
