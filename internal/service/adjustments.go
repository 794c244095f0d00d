package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

func (s *Service) ListAdjustments(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.StockAdjustment, error) {
	return s.repo.ListAdjustments(ctx, scope, normalizeFilter(filter))
}

// CreateAdjustment applies a manual stock correction. Adjustments never let
// stock go negative, whatever the issue mode.
func (s *Service) CreateAdjustment(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.AdjustmentCreateRequest) (domain.StockAdjustment, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.StockAdjustment{}, invalid("product_id is required")
	}
	if req.Quantity == 0 {
		return domain.StockAdjustment{}, invalid("quantity must not be zero")
	}

	var created domain.StockAdjustment
	err = s.mutate(ctx, "adjustment_create", func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, bound, productID); err != nil {
			return fmt.Errorf("product %s: %w", productID, err)
		}
		sess := s.ledger.Begin(tx)
		adj, err := sess.Adjust(ctx, businessID, productID, req.Quantity, req.Reason, actor.Username)
		if err != nil {
			return err
		}
		if _, err := sess.Settle(ctx); err != nil {
			return err
		}
		created = adj
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.committed(ctx, "adjustment_create", businessID, actor,
		logger.Entity("adjustment", created.ID),
		logger.Entity("product", productID),
		zap.Int64("quantity", created.Quantity),
	)
	return created, nil
}

// DeleteAdjustment appends the compensating row for an adjustment. The log
// stays append-only: a reversal, or an adjustment already reversed, cannot be
// deleted and reads as not found.
func (s *Service) DeleteAdjustment(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string) (domain.StockAdjustment, error) {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return domain.StockAdjustment{}, err
	}

	var reversal domain.StockAdjustment
	err := s.mutate(ctx, "adjustment_delete", func(tx store.Tx) error {
		adj, err := tx.GetAdjustment(ctx, scope, id)
		if err != nil {
			return err
		}
		if adj.ReversalOf != "" {
			return store.ErrNotFound
		}
		bound, err := narrow(scope, adj.BusinessID)
		if err != nil {
			return err
		}
		reversed, err := tx.AdjustmentReversed(ctx, bound, adj.ID)
		if err != nil {
			return err
		}
		if reversed {
			return store.ErrNotFound
		}

		sess := s.ledger.Begin(tx)
		rev, err := sess.ReverseAdjustment(ctx, *adj, actor.Username)
		if err != nil {
			return err
		}
		if _, err := sess.Settle(ctx); err != nil {
			return err
		}
		reversal = rev
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.committed(ctx, "adjustment_delete", reversal.BusinessID, actor,
		logger.Entity("adjustment", id),
		logger.Entity("reversal", reversal.ID),
	)
	return reversal, nil
}
