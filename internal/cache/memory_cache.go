package cache

import (
	"context"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"stockbook/backend/internal/domain"
)

// MemoryStockCache is the in-process cache used when no redis is configured.
type MemoryStockCache struct {
	c *gocache.Cache
}

func NewMemoryStockCache(defaultTTL time.Duration) *MemoryStockCache {
	return &MemoryStockCache{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryStockCache) Get(_ context.Context, businessID string) ([]domain.InventoryRecord, bool, error) {
	v, ok := m.c.Get(stockKey(businessID))
	if !ok {
		return nil, false, nil
	}
	records, ok := v.([]domain.InventoryRecord)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(records), true, nil
}

func (m *MemoryStockCache) Set(_ context.Context, businessID string, records []domain.InventoryRecord, ttl time.Duration) error {
	m.c.Set(stockKey(businessID), slices.Clone(records), ttl)
	return nil
}

func (m *MemoryStockCache) Invalidate(_ context.Context, businessID string) error {
	m.c.Delete(stockKey(businessID))
	return nil
}
