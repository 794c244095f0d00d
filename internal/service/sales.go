package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/ledger"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

func (s *Service) GetSale(ctx context.Context, scope tenant.Scope, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, scope, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, scope, normalizeFilter(filter))
}

// CreateSale issues every line from stock and freezes each line's cost at the
// product's current cost.
func (s *Service) CreateSale(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, invalid("sale needs at least one item")
	}

	var resp domain.SaleResponse
	err = s.mutate(ctx, "sale_create", func(tx store.Tx) error {
		now := s.now()
		sale := domain.Sale{
			ID:            xid.New("sal"),
			BusinessID:    businessID,
			InvoiceNo:     strings.TrimSpace(req.InvoiceNo),
			CustomerName:  strings.TrimSpace(req.CustomerName),
			CustomerPhone: strings.TrimSpace(req.CustomerPhone),
			RefNo:         strings.TrimSpace(req.RefNo),
			SoldBy:        actor.Username,
			SoldAt:        now,
			UpdatedAt:     now,
		}
		if sale.InvoiceNo == "" {
			sale.InvoiceNo = invoiceNo("INV", now, sale.ID)
		}

		forwards := make([]ledgerLine, 0, len(req.Items))
		for _, in := range req.Items {
			item := domain.SaleItem{
				ID:                xid.New("sit"),
				SaleID:            sale.ID,
				ProductID:         strings.TrimSpace(in.ProductID),
				Quantity:          in.Quantity,
				SellingPriceCents: in.SellingPriceCents,
				DiscountCents:     in.DiscountCents,
			}
			if err := validateSaleItem(&item); err != nil {
				return err
			}
			sale.Items = append(sale.Items, item)
			forwards = append(forwards, ledgerLine{productID: item.ProductID, quantity: item.Quantity})
		}
		if err := uniqueSaleProducts(sale.Items); err != nil {
			return err
		}
		for i := range sale.Items {
			if err := freezeCost(ctx, tx, bound, &sale.Items[i]); err != nil {
				return err
			}
		}

		sess := s.ledger.Begin(tx)
		if err := sess.Lock(ctx, businessID, lockProducts(forwards)...); err != nil {
			return err
		}
		if err := s.rebook(ctx, sess, businessID, ledger.KindIssue, nil, forwards); err != nil {
			return err
		}
		sale.TotalCents = saleTotal(sale.Items)
		if err := tx.InsertSale(ctx, bound, sale); err != nil {
			return err
		}
		warnings, err := sess.Settle(ctx)
		if err != nil {
			return err
		}
		resp = domain.SaleResponse{Sale: sale, Warnings: warningsOf(warnings)}
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.committed(ctx, "sale_create", businessID, actor,
		logger.Entity("sale", resp.Sale.ID),
		zap.Int("items", len(resp.Sale.Items)),
		zap.Int64("total_cents", resp.Sale.TotalCents),
		zap.Int("warnings", len(resp.Warnings)),
	)
	return resp, nil
}

// UpdateSale applies explicit line edits. A line moved to another product
// returns its quantity to the old product, takes it from the new one and
// freezes the new product's cost.
func (s *Service) UpdateSale(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string, req domain.SaleUpdateRequest) (domain.SaleResponse, error) {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return domain.SaleResponse{}, err
	}

	var resp domain.SaleResponse
	err := s.mutate(ctx, "sale_update", func(tx store.Tx) error {
		existing, err := tx.GetSale(ctx, scope, id)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, existing.BusinessID)
		if err != nil {
			return err
		}

		updated := *existing
		if req.CustomerName != nil {
			updated.CustomerName = strings.TrimSpace(*req.CustomerName)
		}
		if req.CustomerPhone != nil {
			updated.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
		}
		if req.RefNo != nil {
			updated.RefNo = strings.TrimSpace(*req.RefNo)
		}

		plan, err := planSaleEdit(existing.ID, existing.Items, req.Items)
		if err != nil {
			return err
		}
		for _, idx := range plan.freeze {
			if err := freezeCost(ctx, tx, bound, &plan.items[idx]); err != nil {
				return err
			}
		}

		sess := s.ledger.Begin(tx)
		if err := sess.Lock(ctx, existing.BusinessID, lockProducts(plan.reversals, plan.forwards)...); err != nil {
			return err
		}
		if err := s.rebook(ctx, sess, existing.BusinessID, ledger.KindIssue, plan.reversals, plan.forwards); err != nil {
			return err
		}

		updated.Items = plan.items
		updated.TotalCents = saleTotal(plan.items)
		if updated.TotalCents < updated.PaidCents {
			return invalid("sale total %d would drop below the %d already paid", updated.TotalCents, updated.PaidCents)
		}
		updated.UpdatedAt = s.now()
		if err := tx.ReplaceSale(ctx, bound, updated); err != nil {
			return err
		}
		warnings, err := sess.Settle(ctx)
		if err != nil {
			return err
		}
		resp = domain.SaleResponse{Sale: updated, Warnings: warningsOf(warnings)}
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.committed(ctx, "sale_update", resp.Sale.BusinessID, actor,
		logger.Entity("sale", resp.Sale.ID),
		zap.Int64("total_cents", resp.Sale.TotalCents),
	)
	return resp, nil
}

// DeleteSale returns every line to stock and removes the sale together with
// its payments.
func (s *Service) DeleteSale(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string) error {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return err
	}

	var businessID string
	err := s.mutate(ctx, "sale_delete", func(tx store.Tx) error {
		existing, err := tx.GetSale(ctx, scope, id)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, existing.BusinessID)
		if err != nil {
			return err
		}

		reversals := make([]ledgerLine, 0, len(existing.Items))
		for _, item := range existing.Items {
			reversals = append(reversals, ledgerLine{productID: item.ProductID, quantity: item.Quantity})
		}
		sess := s.ledger.Begin(tx)
		if err := sess.Lock(ctx, existing.BusinessID, lockProducts(reversals)...); err != nil {
			return err
		}
		if err := s.rebook(ctx, sess, existing.BusinessID, ledger.KindIssue, reversals, nil); err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, bound, existing.ID); err != nil {
			return err
		}
		if _, err := sess.Settle(ctx); err != nil {
			return err
		}
		businessID = existing.BusinessID
		return nil
	})
	if err != nil {
		return err
	}

	s.committed(ctx, "sale_delete", businessID, actor, logger.Entity("sale", id))
	return nil
}

type salePlan struct {
	items     []domain.SaleItem
	reversals []ledgerLine
	forwards  []ledgerLine
	// freeze lists indexes into items whose cost must be read from the
	// product: new lines and lines moved to another product.
	freeze []int
}

func planSaleEdit(saleID string, existing []domain.SaleItem, edits []domain.SaleLineUpdate) (salePlan, error) {
	plan := salePlan{items: slices.Clone(existing)}
	index := make(map[string]int, len(existing))
	for i, item := range existing {
		index[item.ID] = i
	}
	seen := make(map[string]bool, len(edits))
	removed := make(map[string]bool)

	for _, edit := range edits {
		itemID := strings.TrimSpace(edit.ItemID)
		if itemID == "" {
			if edit.Remove {
				return salePlan{}, invalid("remove needs an item_id")
			}
			if edit.ProductID == nil || edit.Quantity == nil {
				return salePlan{}, invalid("a new line needs product_id and quantity")
			}
			item := domain.SaleItem{
				ID:        xid.New("sit"),
				SaleID:    saleID,
				ProductID: strings.TrimSpace(*edit.ProductID),
				Quantity:  *edit.Quantity,
			}
			if edit.SellingPriceCents != nil {
				item.SellingPriceCents = *edit.SellingPriceCents
			}
			if edit.DiscountCents != nil {
				item.DiscountCents = *edit.DiscountCents
			}
			if err := validateSaleItem(&item); err != nil {
				return salePlan{}, err
			}
			plan.items = append(plan.items, item)
			plan.freeze = append(plan.freeze, len(plan.items)-1)
			plan.forwards = append(plan.forwards, ledgerLine{productID: item.ProductID, quantity: item.Quantity})
			continue
		}

		idx, ok := index[itemID]
		if !ok {
			return salePlan{}, invalid("sale has no item %s", itemID)
		}
		if seen[itemID] {
			return salePlan{}, invalid("item %s edited twice", itemID)
		}
		seen[itemID] = true
		old := existing[idx]

		if edit.Remove {
			removed[itemID] = true
			plan.reversals = append(plan.reversals, ledgerLine{productID: old.ProductID, quantity: old.Quantity})
			continue
		}

		next := old
		if edit.ProductID != nil {
			next.ProductID = strings.TrimSpace(*edit.ProductID)
		}
		if edit.Quantity != nil {
			next.Quantity = *edit.Quantity
		}
		if edit.SellingPriceCents != nil {
			next.SellingPriceCents = *edit.SellingPriceCents
		}
		if edit.DiscountCents != nil {
			next.DiscountCents = *edit.DiscountCents
		}
		if err := validateSaleItem(&next); err != nil {
			return salePlan{}, err
		}
		if next.ProductID != old.ProductID || next.Quantity != old.Quantity {
			plan.reversals = append(plan.reversals, ledgerLine{productID: old.ProductID, quantity: old.Quantity})
			plan.forwards = append(plan.forwards, ledgerLine{productID: next.ProductID, quantity: next.Quantity})
		}
		if next.ProductID != old.ProductID {
			plan.freeze = append(plan.freeze, idx)
		}
		plan.items[idx] = next
	}

	// freeze indexes point into the unfiltered slice, so drop removed lines
	// by rebuilding both together.
	kept := make([]domain.SaleItem, 0, len(plan.items))
	remap := make(map[int]int, len(plan.items))
	for i, item := range plan.items {
		if removed[item.ID] {
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, item)
	}
	freeze := make([]int, 0, len(plan.freeze))
	for _, idx := range plan.freeze {
		if j, ok := remap[idx]; ok {
			freeze = append(freeze, j)
		}
	}
	plan.items, plan.freeze = kept, freeze

	if len(plan.items) == 0 {
		return salePlan{}, invalid("sale needs at least one item")
	}
	if err := uniqueSaleProducts(plan.items); err != nil {
		return salePlan{}, err
	}
	return plan, nil
}

func validateSaleItem(item *domain.SaleItem) error {
	if item.ProductID == "" {
		return invalid("product_id is required")
	}
	if item.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if item.SellingPriceCents < 0 || item.DiscountCents < 0 {
		return invalid("prices must not be negative")
	}
	item.GrossCents = item.Quantity * item.SellingPriceCents
	if item.DiscountCents > item.GrossCents {
		return invalid("discount exceeds line amount")
	}
	item.NetCents = item.GrossCents - item.DiscountCents
	return nil
}

func uniqueSaleProducts(items []domain.SaleItem) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			return invalid("product %s appears on more than one line", item.ProductID)
		}
		seen[item.ProductID] = true
	}
	return nil
}

// freezeCost copies the product's current cost onto the line. The product is
// resolved through the bound scope, so a foreign product reads as not found.
func freezeCost(ctx context.Context, tx store.Tx, bound tenant.Scope, item *domain.SaleItem) error {
	product, err := tx.GetProduct(ctx, bound, item.ProductID)
	if err != nil {
		return fmt.Errorf("product %s: %w", item.ProductID, err)
	}
	if !product.Active {
		return invalid("product %s is not active", product.ID)
	}
	item.CostPriceCents = product.CostCents
	return nil
}

func saleTotal(items []domain.SaleItem) int64 {
	var total int64
	for _, item := range items {
		total += item.NetCents
	}
	return total
}
