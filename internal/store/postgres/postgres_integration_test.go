package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	databaseURL := os.Getenv("STOCKBOOK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOCKBOOK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s, ctx
}

// seedBusiness creates a business with one product and removes every row it
// owns when the test ends.
func seedBusiness(t *testing.T, s *Store, ctx context.Context, label string) (string, string) {
	t.Helper()
	stamp := time.Now().UnixNano()
	businessID := fmt.Sprintf("biz-it-%s-%d", label, stamp)
	productID := fmt.Sprintf("prd-it-%s-%d", label, stamp)

	t.Cleanup(func() {
		for _, table := range []string{"payments", "sale_items", "sales", "purchase_items", "purchases", "stock_adjustments", "inventory", "banks", "vendors", "products"} {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE business_id = $1`, businessID)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM businesses WHERE id = $1`, businessID)
	})

	if _, err := s.CreateBusiness(ctx, domain.Business{ID: businessID, Name: "IT " + label}); err != nil {
		t.Fatalf("create business: %v", err)
	}
	now := time.Now().UTC()
	if _, err := s.CreateProduct(ctx, tenant.ForBusiness(businessID), domain.Product{
		ID: productID, BusinessID: businessID, Name: "Widget " + label, Category: "it",
		CostCents: 1000, PriceCents: 1500, Active: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return businessID, productID
}

func TestTenantIsolationInQueries(t *testing.T) {
	s, ctx := openTestStore(t)
	bizA, prdA := seedBusiness(t, s, ctx, "a")
	bizB, _ := seedBusiness(t, s, ctx, "b")

	if _, err := s.GetProduct(ctx, tenant.ForBusiness(bizB), prdA); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
	if _, err := s.GetProduct(ctx, tenant.Scope{}, prdA); !errors.Is(err, store.ErrScopeNotSet) {
		t.Fatalf("expected scope not set, got %v", err)
	}
	products, err := s.ListProducts(ctx, tenant.ForBusiness(bizA), domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.BusinessID != bizA {
			t.Fatalf("list leaked product %s of %s", p.ID, p.BusinessID)
		}
	}
	if _, err := s.GetProduct(ctx, tenant.Unscoped(), prdA); err != nil {
		t.Fatalf("unscoped read: %v", err)
	}
}

func TestLockInventoryCreatesRowAndRollsBack(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "lock")
	scope := tenant.ForBusiness(biz)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.LockInventory(ctx, scope, prd)
		if err != nil {
			return err
		}
		rec.QuantityIn += 5
		rec.CurrentStock = rec.DerivedStock()
		if err := tx.SaveInventory(ctx, scope, *rec); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetInventory(ctx, scope, prd); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back inventory row, got %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockInventory(ctx, tenant.Unscoped(), prd)
		return err
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction for unscoped lock, got %v", err)
	}
}

func TestSaveInventoryRejectsBrokenTotals(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "totals")
	scope := tenant.ForBusiness(biz)

	err := s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.LockInventory(ctx, scope, prd)
		if err != nil {
			return err
		}
		rec.QuantityIn = 3
		rec.CurrentStock = 4
		return tx.SaveInventory(ctx, scope, *rec)
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestConcurrentWritersSerializeOnInventoryRow(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "race")
	scope := tenant.ForBusiness(biz)

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InTx(ctx, func(tx store.Tx) error {
				rec, err := tx.LockInventory(ctx, scope, prd)
				if err != nil {
					return err
				}
				rec.QuantityIn++
				rec.CurrentStock = rec.DerivedStock()
				rec.UpdatedAt = time.Now().UTC()
				return tx.SaveInventory(ctx, scope, *rec)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("writer failed: %v", err)
		}
	}

	rec, err := s.GetInventory(ctx, scope, prd)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if rec.QuantityIn != writers || rec.CurrentStock != writers {
		t.Fatalf("expected %d received units, got in=%d stock=%d", writers, rec.QuantityIn, rec.CurrentStock)
	}
}

func TestDeleteSaleCascadesPayments(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "sale")
	scope := tenant.ForBusiness(biz)
	now := time.Now().UTC()
	saleID := fmt.Sprintf("sal-it-%d", now.UnixNano())

	err := s.InTx(ctx, func(tx store.Tx) error {
		sale := domain.Sale{
			ID: saleID, BusinessID: biz, InvoiceNo: "INV-IT", SoldBy: "it", TotalCents: 3000,
			SoldAt: now, UpdatedAt: now,
			Items: []domain.SaleItem{{
				ProductID: prd, Quantity: 2, SellingPriceCents: 1500, GrossCents: 3000, NetCents: 3000, CostPriceCents: 1000,
			}},
		}
		if err := tx.InsertSale(ctx, scope, sale); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, scope, domain.Payment{
			ID: saleID + "-pay", BusinessID: biz, SaleID: saleID, AmountCents: 1000, Method: domain.PaymentMethodCash,
			BalanceDueCents: 2000, Status: domain.PaymentStatusPartPaid, PaidAt: now, CreatedBy: "it",
		}); err != nil {
			return err
		}
		return tx.SetSalePaid(ctx, scope, saleID, 1000)
	})
	if err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	got, err := s.GetSale(ctx, scope, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.PaidCents != 1000 || len(got.Items) != 1 {
		t.Fatalf("unexpected sale %+v", got)
	}

	if err := s.InTx(ctx, func(tx store.Tx) error { return tx.DeleteSale(ctx, scope, saleID) }); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if _, err := s.ListPayments(ctx, scope, saleID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	var left int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM payments WHERE sale_id = $1`, saleID).Scan(&left); err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if left != 0 {
		t.Fatalf("expected payments to cascade, %d left", left)
	}
}

func TestDeleteProductChecksReferences(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "del")
	_, foreign := seedBusiness(t, s, ctx, "del-other")
	scope := tenant.ForBusiness(biz)

	err := s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ProductReferenced(ctx, scope, foreign); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("foreign product: expected not found, got %v", err)
		}
		referenced, err := tx.ProductReferenced(ctx, scope, prd)
		if err != nil {
			return err
		}
		if referenced {
			return errors.New("fresh product reported as referenced")
		}
		if _, err := tx.LockInventory(ctx, scope, prd); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, scope, prd)
	})
	if err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if _, err := s.GetProduct(ctx, scope, prd); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product gone, got %v", err)
	}
	if _, err := s.GetInventory(ctx, scope, prd); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected inventory gone, got %v", err)
	}
}

func TestDeletePaymentIsScoped(t *testing.T) {
	s, ctx := openTestStore(t)
	biz, prd := seedBusiness(t, s, ctx, "pay")
	other, _ := seedBusiness(t, s, ctx, "pay-other")
	scope := tenant.ForBusiness(biz)
	now := time.Now().UTC()
	saleID := fmt.Sprintf("sal-it-%d", now.UnixNano())
	paymentID := saleID + "-pay"

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, scope, domain.Sale{
			ID: saleID, BusinessID: biz, InvoiceNo: "INV-IT", SoldBy: "it", TotalCents: 1500,
			SoldAt: now, UpdatedAt: now,
			Items: []domain.SaleItem{{
				ProductID: prd, Quantity: 1, SellingPriceCents: 1500, GrossCents: 1500, NetCents: 1500, CostPriceCents: 1000,
			}},
		}); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, scope, domain.Payment{
			ID: paymentID, BusinessID: biz, SaleID: saleID, AmountCents: 500, Method: domain.PaymentMethodCash,
			BalanceDueCents: 1000, Status: domain.PaymentStatusPartPaid, PaidAt: now, CreatedBy: "it",
		})
	})
	if err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error { return tx.DeletePayment(ctx, tenant.ForBusiness(other), paymentID) })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cross-tenant delete to be not found, got %v", err)
	}
	err = s.InTx(ctx, func(tx store.Tx) error {
		referenced, err := tx.ProductReferenced(ctx, scope, prd)
		if err != nil {
			return err
		}
		if !referenced {
			return errors.New("product on a sale line reported as unreferenced")
		}
		return tx.DeletePayment(ctx, scope, paymentID)
	})
	if err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	if _, err := s.GetPayment(ctx, scope, paymentID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected payment gone, got %v", err)
	}
}
