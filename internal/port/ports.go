// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the aggregator adapter, the cache and the audit store.
package port

import (
	"context"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/domain"
)

// CardFetcher retrieves the billing configuration of a card.
type CardFetcher interface {
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
}

// TransactionsFetcher retrieves the synced transactions of a card.
type TransactionsFetcher interface {
	GetCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error)
}

// RecurringFetcher retrieves subscription-like charges projected into
// forecast invoices.
type RecurringFetcher interface {
	GetRecurringCharges(ctx context.Context, cardID string) ([]domain.RecurringCharge, error)
}

// Aggregator is everything the service reads from the open-finance feed.
type Aggregator interface {
	CardFetcher
	TransactionsFetcher
	RecurringFetcher
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	DeletePrefix(prefix string) int
}

// AuditLog stores computation trails and lets them be queried back.
type AuditLog interface {
	audit.Sink
	List(f audit.Filter) []audit.Entry
}
