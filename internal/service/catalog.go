package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

// CreateBusiness is reserved for platform operators.
func (s *Service) CreateBusiness(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.BusinessCreateRequest) (domain.Business, error) {
	if err := scope.Check(); err != nil {
		return domain.Business{}, err
	}
	if !scope.IsUnscoped() {
		return domain.Business{}, store.ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Business{}, invalid("business name is required")
	}

	created, err := s.repo.CreateBusiness(ctx, domain.Business{
		ID:        xid.New("biz"),
		Name:      name,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Business{}, err
	}
	logger.From(ctx).Info("business created", logger.BusinessID(created.ID), logger.Actor(actor.Username))
	return *created, nil
}

func (s *Service) GetBusiness(ctx context.Context, scope tenant.Scope, id string) (domain.Business, error) {
	b, err := s.repo.GetBusiness(ctx, scope, strings.TrimSpace(id))
	if err != nil {
		return domain.Business{}, err
	}
	return *b, nil
}

func (s *Service) ListProducts(ctx context.Context, scope tenant.Scope, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	return s.repo.ListProducts(ctx, scope, filter)
}

func (s *Service) GetProduct(ctx context.Context, scope tenant.Scope, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, scope, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, invalid("product name and category are required")
	}
	if req.CostCents < 0 || req.PriceCents < 0 {
		return domain.Product{}, invalid("prices must not be negative")
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, bound, domain.Product{
		ID:         xid.New("prd"),
		BusinessID: businessID,
		Name:       req.Name,
		Category:   req.Category,
		CostCents:  req.CostCents,
		PriceCents: req.PriceCents,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Product{}, err
	}
	logger.From(ctx).Info("product created", logger.BusinessID(businessID), logger.Entity("product", created.ID), logger.Actor(actor.Username))
	return *created, nil
}

// UpdateProduct edits catalog fields. Cost changes never reach frozen sale
// line costs.
func (s *Service) UpdateProduct(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, scope, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("product name is required")
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, invalid("product category is required")
		}
		updated.Category = category
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, invalid("cost must not be negative")
		}
		updated.CostCents = *req.CostCents
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, invalid("price must not be negative")
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, scope, updated)
	if err != nil {
		return domain.Product{}, err
	}
	logger.From(ctx).Info("product updated",
		logger.BusinessID(saved.BusinessID),
		logger.Entity("product", saved.ID),
		logger.Actor(actor.Username),
		zap.Bool("active", saved.Active),
	)
	return *saved, nil
}

// DeleteProduct removes a product and its inventory record. A product with
// stock on hand, or named by any purchase, sale or adjustment, stays.
func (s *Service) DeleteProduct(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string) error {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return err
	}

	var businessID string
	err := s.mutate(ctx, "product_delete", func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, scope, id)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, product.BusinessID)
		if err != nil {
			return err
		}
		rec, err := tx.LockInventory(ctx, bound, product.ID)
		if err != nil {
			return err
		}
		if rec.CurrentStock != 0 {
			return invalid("product %s still has %d in stock", product.ID, rec.CurrentStock)
		}
		referenced, err := tx.ProductReferenced(ctx, bound, product.ID)
		if err != nil {
			return err
		}
		if referenced {
			return invalid("product %s has purchase, sale or adjustment history", product.ID)
		}
		businessID = product.BusinessID
		return tx.DeleteProduct(ctx, bound, product.ID)
	})
	if err != nil {
		return err
	}

	s.committed(ctx, "product_delete", businessID, actor, logger.Entity("product", id))
	return nil
}

func (s *Service) ListVendors(ctx context.Context, scope tenant.Scope) ([]domain.Vendor, error) {
	return s.repo.ListVendors(ctx, scope)
}

func (s *Service) CreateVendor(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.VendorCreateRequest) (domain.Vendor, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.Vendor{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Vendor{}, invalid("vendor name is required")
	}

	created, err := s.repo.CreateVendor(ctx, bound, domain.Vendor{
		ID:         xid.New("vnd"),
		BusinessID: businessID,
		Name:       name,
		Phone:      strings.TrimSpace(req.Phone),
		Address:    strings.TrimSpace(req.Address),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Vendor{}, err
	}
	logger.From(ctx).Info("vendor created", logger.BusinessID(businessID), logger.Entity("vendor", created.ID), logger.Actor(actor.Username))
	return *created, nil
}

func (s *Service) ListBanks(ctx context.Context, scope tenant.Scope) ([]domain.Bank, error) {
	return s.repo.ListBanks(ctx, scope)
}

func (s *Service) CreateBank(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.BankCreateRequest) (domain.Bank, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.Bank{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Bank{}, invalid("bank name is required")
	}

	created, err := s.repo.CreateBank(ctx, bound, domain.Bank{
		ID:         xid.New("bnk"),
		BusinessID: businessID,
		Name:       name,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Bank{}, err
	}
	logger.From(ctx).Info("bank created", logger.BusinessID(businessID), logger.Entity("bank", created.ID), logger.Actor(actor.Username))
	return *created, nil
}
