package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

// GetInventory returns the ledger record of a product. A product that never
// had a stock event reads as an all-zero record.
func (s *Service) GetInventory(ctx context.Context, scope tenant.Scope, productID string) (domain.InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	rec, err := s.repo.GetInventory(ctx, scope, productID)
	if err == nil {
		return *rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.InventoryRecord{}, err
	}
	product, perr := s.repo.GetProduct(ctx, scope, productID)
	if perr != nil {
		return domain.InventoryRecord{}, perr
	}
	return domain.InventoryRecord{BusinessID: product.BusinessID, ProductID: product.ID}, nil
}

// ListInventory serves bound scopes from the stock cache. Concurrent misses
// for one business share a single store read.
func (s *Service) ListInventory(ctx context.Context, scope tenant.Scope) ([]domain.InventoryRecord, error) {
	businessID, all, err := scope.Filter()
	if err != nil {
		return nil, err
	}
	if all {
		return s.repo.ListInventory(ctx, scope)
	}

	if cached, ok, err := s.stockCache.Get(ctx, businessID); err != nil {
		logger.From(ctx).Warn("read stock cache", logger.BusinessID(businessID), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	v, err, _ := s.fills.Do(businessID, func() (any, error) {
		// the fill outlives any one caller; waiters share its result
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stockFillTimeout)
		defer cancel()

		gen := s.stockGeneration(businessID)
		records, err := s.repo.ListInventory(fillCtx, scope)
		if err != nil {
			return nil, err
		}
		s.fillStock(fillCtx, businessID, gen, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.InventoryRecord)), nil
}

const stockFillTimeout = 5 * time.Second

func (s *Service) stockGeneration(businessID string) uint64 {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	return s.stockGen[businessID]
}

// fillStock caches records read at generation gen. A commit that landed
// after the read bumped the generation, and the records are dropped.
func (s *Service) fillStock(ctx context.Context, businessID string, gen uint64, records []domain.InventoryRecord) {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	if s.stockGen[businessID] != gen {
		return
	}
	if err := s.stockCache.Set(ctx, businessID, records, s.opts.StockCacheTTL); err != nil {
		logger.From(ctx).Warn("fill stock cache", logger.BusinessID(businessID), zap.Error(err))
	}
}

// invalidateStock runs after every committed ledger mutation. Fills already
// in flight are detached so later callers read the store again.
func (s *Service) invalidateStock(ctx context.Context, businessID string) {
	s.stockMu.Lock()
	defer s.stockMu.Unlock()
	s.stockGen[businessID]++
	s.fills.Forget(businessID)
	if err := s.stockCache.Invalidate(ctx, businessID); err != nil {
		logger.From(ctx).Warn("invalidate stock cache", logger.BusinessID(businessID), zap.Error(err))
	}
}
