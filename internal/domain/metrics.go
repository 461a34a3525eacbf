package domain

// EngineMetrics is the counters snapshot served by GET /v1/metrics/engine.
type EngineMetrics struct {
	TotalBuilds              int64            `json:"totalBuilds"`
	FailedBuilds             int64            `json:"failedBuilds"`
	ErrorRate                float64          `json:"errorRate"`
	ExcludedTransactions     map[string]int64 `json:"excludedTransactions"`
	AmbiguousClassifications int64            `json:"ambiguousClassifications"`
	SnapshotInvoices         int64            `json:"snapshotInvoices"`
	CacheHitRate             float64          `json:"cacheHitRate"`
	Period                   string           `json:"period"`
}
