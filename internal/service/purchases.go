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

func (s *Service) GetPurchase(ctx context.Context, scope tenant.Scope, id string) (domain.Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, scope, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	return *p, nil
}

func (s *Service) ListPurchases(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, scope, normalizeFilter(filter))
}

// CreatePurchase receives every line into stock and refreshes each product's
// current cost to the line cost.
func (s *Service) CreatePurchase(ctx context.Context, scope tenant.Scope, actor domain.Actor, req domain.PurchaseCreateRequest) (domain.PurchaseResponse, error) {
	businessID, bound, err := target(scope, req.BusinessID)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.PurchaseResponse{}, invalid("purchase needs at least one item")
	}
	vendorID := strings.TrimSpace(req.VendorID)

	var resp domain.PurchaseResponse
	err = s.mutate(ctx, "purchase_create", func(tx store.Tx) error {
		if vendorID != "" {
			if _, err := tx.GetVendor(ctx, bound, vendorID); err != nil {
				return fmt.Errorf("vendor %s: %w", vendorID, err)
			}
		}

		now := s.now()
		purchase := domain.Purchase{
			ID:          xid.New("pur"),
			BusinessID:  businessID,
			InvoiceNo:   strings.TrimSpace(req.InvoiceNo),
			VendorID:    vendorID,
			CreatedBy:   actor.Username,
			PurchasedAt: now,
			UpdatedAt:   now,
		}
		if purchase.InvoiceNo == "" {
			purchase.InvoiceNo = invoiceNo("PUR", now, purchase.ID)
		}

		forwards := make([]ledgerLine, 0, len(req.Items))
		for _, in := range req.Items {
			item := domain.PurchaseItem{
				ID:             xid.New("pit"),
				PurchaseID:     purchase.ID,
				ProductID:      strings.TrimSpace(in.ProductID),
				Quantity:       in.Quantity,
				CostPriceCents: in.CostPriceCents,
			}
			if err := validatePurchaseItem(&item); err != nil {
				return err
			}
			purchase.Items = append(purchase.Items, item)
			forwards = append(forwards, ledgerLine{productID: item.ProductID, quantity: item.Quantity})
		}
		if err := checkProducts(ctx, tx, bound, forwards); err != nil {
			return err
		}

		sess := s.ledger.Begin(tx)
		if err := sess.Lock(ctx, businessID, lockProducts(forwards)...); err != nil {
			return err
		}
		if err := s.rebook(ctx, sess, businessID, ledger.KindReceive, nil, forwards); err != nil {
			return err
		}
		if err := refreshCosts(ctx, tx, bound, purchase.Items); err != nil {
			return err
		}
		purchase.TotalCostCents = purchaseTotal(purchase.Items)
		if err := tx.InsertPurchase(ctx, bound, purchase); err != nil {
			return err
		}
		warnings, err := sess.Settle(ctx)
		if err != nil {
			return err
		}
		resp = domain.PurchaseResponse{Purchase: purchase, Warnings: warningsOf(warnings)}
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.committed(ctx, "purchase_create", businessID, actor,
		logger.Entity("purchase", resp.Purchase.ID),
		zap.Int("items", len(resp.Purchase.Items)),
		zap.Int64("total_cost_cents", resp.Purchase.TotalCostCents),
	)
	return resp, nil
}

// UpdatePurchase applies explicit line edits. Every changed or removed line
// is reversed before any new receipt is booked.
func (s *Service) UpdatePurchase(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string, req domain.PurchaseUpdateRequest) (domain.PurchaseResponse, error) {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return domain.PurchaseResponse{}, err
	}

	var resp domain.PurchaseResponse
	err := s.mutate(ctx, "purchase_update", func(tx store.Tx) error {
		existing, err := tx.GetPurchase(ctx, scope, id)
		if err != nil {
			return err
		}
		bound, err := narrow(scope, existing.BusinessID)
		if err != nil {
			return err
		}

		updated := *existing
		if req.VendorID != nil {
			vendorID := strings.TrimSpace(*req.VendorID)
			if vendorID != "" {
				if _, err := tx.GetVendor(ctx, bound, vendorID); err != nil {
					return fmt.Errorf("vendor %s: %w", vendorID, err)
				}
			}
			updated.VendorID = vendorID
		}

		plan, err := planPurchaseEdit(existing.ID, existing.Items, req.Items)
		if err != nil {
			return err
		}
		if err := checkProducts(ctx, tx, bound, plan.forwards); err != nil {
			return err
		}

		sess := s.ledger.Begin(tx)
		if err := sess.Lock(ctx, existing.BusinessID, lockProducts(plan.reversals, plan.forwards)...); err != nil {
			return err
		}
		if err := s.rebook(ctx, sess, existing.BusinessID, ledger.KindReceive, plan.reversals, plan.forwards); err != nil {
			return err
		}
		if err := refreshCosts(ctx, tx, bound, plan.costChanged); err != nil {
			return err
		}

		updated.Items = plan.items
		updated.TotalCostCents = purchaseTotal(plan.items)
		updated.UpdatedAt = s.now()
		if err := tx.ReplacePurchase(ctx, bound, updated); err != nil {
			return err
		}
		warnings, err := sess.Settle(ctx)
		if err != nil {
			return err
		}
		resp = domain.PurchaseResponse{Purchase: updated, Warnings: warningsOf(warnings)}
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.committed(ctx, "purchase_update", resp.Purchase.BusinessID, actor,
		logger.Entity("purchase", resp.Purchase.ID),
		zap.Int64("total_cost_cents", resp.Purchase.TotalCostCents),
	)
	return resp, nil
}

// DeletePurchase reverses every receipt of the purchase and removes it.
// Product costs are left as they are.
func (s *Service) DeletePurchase(ctx context.Context, scope tenant.Scope, actor domain.Actor, id string) ([]domain.StockWarning, error) {
	id = strings.TrimSpace(id)
	if err := scope.Check(); err != nil {
		return nil, err
	}

	var (
		businessID string
		warnings   []domain.StockWarning
	)
	err := s.mutate(ctx, "purchase_delete", func(tx store.Tx) error {
		existing, err := tx.GetPurchase(ctx, scope, id)
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
		if err := s.rebook(ctx, sess, existing.BusinessID, ledger.KindReceive, reversals, nil); err != nil {
			return err
		}
		if err := tx.DeletePurchase(ctx, bound, existing.ID); err != nil {
			return err
		}
		ws, err := sess.Settle(ctx)
		if err != nil {
			return err
		}
		businessID = existing.BusinessID
		warnings = warningsOf(ws)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, "purchase_delete", businessID, actor, logger.Entity("purchase", id))
	return warnings, nil
}

type purchasePlan struct {
	items       []domain.PurchaseItem
	reversals   []ledgerLine
	forwards    []ledgerLine
	costChanged []domain.PurchaseItem
}

func planPurchaseEdit(purchaseID string, existing []domain.PurchaseItem, edits []domain.PurchaseLineUpdate) (purchasePlan, error) {
	plan := purchasePlan{items: slices.Clone(existing)}
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
				return purchasePlan{}, invalid("remove needs an item_id")
			}
			if edit.ProductID == nil || edit.Quantity == nil {
				return purchasePlan{}, invalid("a new line needs product_id and quantity")
			}
			item := domain.PurchaseItem{
				ID:         xid.New("pit"),
				PurchaseID: purchaseID,
				ProductID:  strings.TrimSpace(*edit.ProductID),
				Quantity:   *edit.Quantity,
			}
			if edit.CostPriceCents != nil {
				item.CostPriceCents = *edit.CostPriceCents
			}
			if err := validatePurchaseItem(&item); err != nil {
				return purchasePlan{}, err
			}
			plan.items = append(plan.items, item)
			plan.forwards = append(plan.forwards, ledgerLine{productID: item.ProductID, quantity: item.Quantity})
			plan.costChanged = append(plan.costChanged, item)
			continue
		}

		idx, ok := index[itemID]
		if !ok {
			return purchasePlan{}, invalid("purchase has no item %s", itemID)
		}
		if seen[itemID] {
			return purchasePlan{}, invalid("item %s edited twice", itemID)
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
		if edit.CostPriceCents != nil {
			next.CostPriceCents = *edit.CostPriceCents
		}
		if err := validatePurchaseItem(&next); err != nil {
			return purchasePlan{}, err
		}
		if next.ProductID != old.ProductID || next.Quantity != old.Quantity {
			plan.reversals = append(plan.reversals, ledgerLine{productID: old.ProductID, quantity: old.Quantity})
			plan.forwards = append(plan.forwards, ledgerLine{productID: next.ProductID, quantity: next.Quantity})
		}
		if next.ProductID != old.ProductID || next.CostPriceCents != old.CostPriceCents {
			plan.costChanged = append(plan.costChanged, next)
		}
		plan.items[idx] = next
	}

	plan.items = slices.DeleteFunc(plan.items, func(item domain.PurchaseItem) bool { return removed[item.ID] })
	if len(plan.items) == 0 {
		return purchasePlan{}, invalid("purchase needs at least one item")
	}
	return plan, nil
}

func validatePurchaseItem(item *domain.PurchaseItem) error {
	if item.ProductID == "" {
		return invalid("product_id is required")
	}
	if item.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if item.CostPriceCents < 0 {
		return invalid("cost_price_cents must not be negative")
	}
	item.TotalCents = item.Quantity * item.CostPriceCents
	return nil
}

func purchaseTotal(items []domain.PurchaseItem) int64 {
	var total int64
	for _, item := range items {
		total += item.TotalCents
	}
	return total
}

// checkProducts resolves every product a line points at through the bound
// scope, so foreign products read as not found.
func checkProducts(ctx context.Context, tx store.Tx, bound tenant.Scope, lines []ledgerLine) error {
	for _, l := range lines {
		if _, err := tx.GetProduct(ctx, bound, l.productID); err != nil {
			return fmt.Errorf("product %s: %w", l.productID, err)
		}
	}
	return nil
}

// refreshCosts sets each product's current cost to the latest purchase line
// cost. Zero-cost lines leave the product untouched.
func refreshCosts(ctx context.Context, tx store.Tx, bound tenant.Scope, items []domain.PurchaseItem) error {
	for _, item := range items {
		if item.CostPriceCents <= 0 {
			continue
		}
		if err := tx.SetProductCost(ctx, bound, item.ProductID, item.CostPriceCents); err != nil {
			return fmt.Errorf("refresh cost of %s: %w", item.ProductID, err)
		}
	}
	return nil
}
