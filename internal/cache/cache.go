package cache

import (
	"context"
	"time"

	"stockbook/backend/internal/domain"
)

// StockCache holds per-business inventory listings. Entries are dropped after
// every committed ledger mutation for that business.
type StockCache interface {
	Get(ctx context.Context, businessID string) ([]domain.InventoryRecord, bool, error)
	Set(ctx context.Context, businessID string, records []domain.InventoryRecord, ttl time.Duration) error
	Invalidate(ctx context.Context, businessID string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) ([]domain.InventoryRecord, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ []domain.InventoryRecord, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func stockKey(businessID string) string {
	return "stockbook:inventory:" + businessID
}
