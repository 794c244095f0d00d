package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

func seedTwoBusinesses(t *testing.T) (*Store, domain.Product, domain.Product) {
	t.Helper()
	ctx := context.Background()
	s := New()
	for _, id := range []string{"biz-1", "biz-2"} {
		_, err := s.CreateBusiness(ctx, domain.Business{ID: id, Name: id})
		require.NoError(t, err)
	}
	p1, err := s.CreateProduct(ctx, tenant.ForBusiness("biz-1"), domain.Product{BusinessID: "biz-1", Name: "Tea", Category: "drinks", Active: true})
	require.NoError(t, err)
	p2, err := s.CreateProduct(ctx, tenant.ForBusiness("biz-2"), domain.Product{BusinessID: "biz-2", Name: "Tea", Category: "drinks", Active: true})
	require.NoError(t, err)
	return s, *p1, *p2
}

func TestUnsetScopeFailsClosed(t *testing.T) {
	ctx := context.Background()
	s, p1, _ := seedTwoBusinesses(t)
	var unset tenant.Scope

	_, err := s.GetProduct(ctx, unset, p1.ID)
	assert.ErrorIs(t, err, store.ErrScopeNotSet)

	_, err = s.ListProducts(ctx, unset, domain.ProductFilter{})
	assert.ErrorIs(t, err, store.ErrScopeNotSet)

	_, err = s.ListInventory(ctx, unset)
	assert.ErrorIs(t, err, store.ErrScopeNotSet)

	_, err = s.CreateVendor(ctx, unset, domain.Vendor{BusinessID: "biz-1", Name: "x"})
	assert.ErrorIs(t, err, store.ErrScopeNotSet)

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockInventory(ctx, unset, p1.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrScopeNotSet)
}

func TestCrossTenantReadLooksLikeMissingRow(t *testing.T) {
	ctx := context.Background()
	s, p1, p2 := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")

	_, err := s.GetProduct(ctx, scope, p2.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, missingErr := s.GetProduct(ctx, scope, "prd-does-not-exist")
	assert.ErrorIs(t, missingErr, store.ErrNotFound)
	assert.Equal(t, missingErr.Error(), err.Error())

	got, err := s.GetProduct(ctx, scope, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "biz-1", got.BusinessID)

	list, err := s.ListProducts(ctx, scope, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p1.ID, list[0].ID)

	all, err := s.ListProducts(ctx, tenant.Unscoped(), domain.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateIntoOtherBusinessIsRejected(t *testing.T) {
	ctx := context.Background()
	s, _, _ := seedTwoBusinesses(t)

	_, err := s.CreateBank(ctx, tenant.ForBusiness("biz-1"), domain.Bank{BusinessID: "biz-2", Name: "BCA"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateProductIsInvalid(t *testing.T) {
	ctx := context.Background()
	s, _, _ := seedTwoBusinesses(t)

	_, err := s.CreateProduct(ctx, tenant.ForBusiness("biz-1"), domain.Product{BusinessID: "biz-1", Name: "tea", Category: "Drinks"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestLockInventoryCreatesRecordLazily(t *testing.T) {
	ctx := context.Background()
	s, p1, p2 := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")

	_, err := s.GetInventory(ctx, scope, p1.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.LockInventory(ctx, scope, p1.ID)
		if err != nil {
			return err
		}
		assert.Zero(t, rec.CurrentStock)
		_, err = tx.LockInventory(ctx, scope, p2.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	rec, err := s.GetInventory(ctx, scope, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, rec.ProductID)
}

func TestLockInventoryNeedsBoundScope(t *testing.T) {
	ctx := context.Background()
	s, p1, _ := seedTwoBusinesses(t)

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockInventory(ctx, tenant.Unscoped(), p1.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestFailedTransactionRestoresState(t *testing.T) {
	ctx := context.Background()
	s, p1, _ := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.LockInventory(ctx, scope, p1.ID)
		if err != nil {
			return err
		}
		rec.QuantityIn = 5
		rec.CurrentStock = 5
		if err := tx.SaveInventory(ctx, scope, *rec); err != nil {
			return err
		}
		if err := tx.InsertPurchase(ctx, scope, domain.Purchase{ID: "pur-1", BusinessID: "biz-1", PurchasedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetInventory(ctx, scope, p1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPurchase(ctx, scope, "pur-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveInventoryRejectsBrokenInvariant(t *testing.T) {
	ctx := context.Background()
	s, p1, _ := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")

	err := s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.LockInventory(ctx, scope, p1.ID)
		if err != nil {
			return err
		}
		rec.QuantityIn = 3
		rec.CurrentStock = 4
		return tx.SaveInventory(ctx, scope, *rec)
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDeleteSaleRemovesPayments(t *testing.T) {
	ctx := context.Background()
	s, _, _ := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, scope, domain.Sale{ID: "sal-1", BusinessID: "biz-1", TotalCents: 100}); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, scope, domain.Payment{ID: "pay-1", BusinessID: "biz-1", SaleID: "sal-1", AmountCents: 50})
	})
	require.NoError(t, err)

	payments, err := s.ListPayments(ctx, scope, "sal-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.DeleteSale(ctx, scope, "sal-1")
	}))

	_, err = s.ListPayments(ctx, scope, "sal-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, s.st.payments)
}

func TestCancelledContextDoesNotCommit(t *testing.T) {
	s, p1, _ := seedTwoBusinesses(t)
	scope := tenant.ForBusiness("biz-1")
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockInventory(ctx, scope, p1.ID)
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.GetInventory(context.Background(), scope, p1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
