package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbook/backend/internal/domain"
)

func TestMemoryStockCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStockCache(time.Minute)

	_, ok, err := c.Get(ctx, "biz-1")
	require.NoError(t, err)
	assert.False(t, ok)

	records := []domain.InventoryRecord{{ID: "inv-1", BusinessID: "biz-1", ProductID: "p", QuantityIn: 2, CurrentStock: 2}}
	require.NoError(t, c.Set(ctx, "biz-1", records, time.Minute))

	got, ok, err := c.Get(ctx, "biz-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, records, got)

	// callers must not be able to mutate the cached slice
	got[0].CurrentStock = 99
	again, _, _ := c.Get(ctx, "biz-1")
	assert.EqualValues(t, 2, again[0].CurrentStock)

	_, ok, _ = c.Get(ctx, "biz-2")
	assert.False(t, ok)

	require.NoError(t, c.Invalidate(ctx, "biz-1"))
	_, ok, _ = c.Get(ctx, "biz-1")
	assert.False(t, ok)
}

func TestNoopStockCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c StockCache = NoopStockCache{}
	require.NoError(t, c.Set(ctx, "biz-1", []domain.InventoryRecord{{ID: "x"}}, time.Minute))
	_, ok, err := c.Get(ctx, "biz-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
