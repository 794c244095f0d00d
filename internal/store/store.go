package store

import (
	"context"
	"errors"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/tenant"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNegativeStock      = errors.New("adjustment would make stock negative")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConcurrentModification is returned when the database aborted the
	// transaction because of a competing writer. The whole operation may be
	// retried.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrForbidden              = errors.New("forbidden")
	ErrScopeNotSet            = tenant.ErrScopeNotSet
)

// ScopeError maps tenant package errors onto store sentinels. A cross-tenant
// reference is indistinguishable from a missing row.
func ScopeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tenant.ErrCrossTenant):
		return ErrNotFound
	case errors.Is(err, tenant.ErrBusinessRequired):
		return errors.Join(ErrInvalidTransaction, err)
	default:
		return err
	}
}

// Reader holds the scoped reads shared by the repository and its
// transactions. Inside a transaction, single-header reads lock the row.
type Reader interface {
	GetBusiness(ctx context.Context, scope tenant.Scope, id string) (*domain.Business, error)
	GetProduct(ctx context.Context, scope tenant.Scope, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, scope tenant.Scope, filter domain.ProductFilter) ([]domain.Product, error)
	GetVendor(ctx context.Context, scope tenant.Scope, id string) (*domain.Vendor, error)
	ListVendors(ctx context.Context, scope tenant.Scope) ([]domain.Vendor, error)
	GetBank(ctx context.Context, scope tenant.Scope, id string) (*domain.Bank, error)
	ListBanks(ctx context.Context, scope tenant.Scope) ([]domain.Bank, error)
	GetInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context, scope tenant.Scope) ([]domain.InventoryRecord, error)
	GetAdjustment(ctx context.Context, scope tenant.Scope, id string) (*domain.StockAdjustment, error)
	ListAdjustments(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.StockAdjustment, error)
	GetPurchase(ctx context.Context, scope tenant.Scope, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Purchase, error)
	GetSale(ctx context.Context, scope tenant.Scope, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Sale, error)
	ListPayments(ctx context.Context, scope tenant.Scope, saleID string) ([]domain.Payment, error)
	GetPayment(ctx context.Context, scope tenant.Scope, id string) (*domain.Payment, error)
}

type Repository interface {
	Reader

	CreateBusiness(ctx context.Context, business domain.Business) (*domain.Business, error)
	CreateProduct(ctx context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error)
	CreateVendor(ctx context.Context, scope tenant.Scope, vendor domain.Vendor) (*domain.Vendor, error)
	CreateBank(ctx context.Context, scope tenant.Scope, bank domain.Bank) (*domain.Bank, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)

	// InTx runs fn in one transaction. Any error from fn rolls back every
	// write made through the Tx.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the write side used by coordinated mutations. Every write checks that
// the row's business is visible in scope.
type Tx interface {
	Reader

	// LockInventory returns the record for (scope business, product), creating
	// an empty one if none exists, and holds it locked until the transaction
	// ends. scope must be bound to a single business.
	LockInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error)
	SaveInventory(ctx context.Context, scope tenant.Scope, record domain.InventoryRecord) error
	InsertAdjustment(ctx context.Context, scope tenant.Scope, adjustment domain.StockAdjustment) error
	AdjustmentReversed(ctx context.Context, scope tenant.Scope, adjustmentID string) (bool, error)

	InsertPurchase(ctx context.Context, scope tenant.Scope, purchase domain.Purchase) error
	ReplacePurchase(ctx context.Context, scope tenant.Scope, purchase domain.Purchase) error
	DeletePurchase(ctx context.Context, scope tenant.Scope, id string) error

	InsertSale(ctx context.Context, scope tenant.Scope, sale domain.Sale) error
	ReplaceSale(ctx context.Context, scope tenant.Scope, sale domain.Sale) error
	// DeleteSale removes the sale, its items and its payments.
	DeleteSale(ctx context.Context, scope tenant.Scope, id string) error

	InsertPayment(ctx context.Context, scope tenant.Scope, payment domain.Payment) error
	SetSalePaid(ctx context.Context, scope tenant.Scope, saleID string, paidCents int64) error
	DeletePayment(ctx context.Context, scope tenant.Scope, id string) error
	SetProductCost(ctx context.Context, scope tenant.Scope, productID string, costCents int64) error

	// ProductReferenced reports whether any purchase line, sale line or
	// adjustment names the product.
	ProductReferenced(ctx context.Context, scope tenant.Scope, productID string) (bool, error)
	// DeleteProduct removes the product together with its inventory record.
	DeleteProduct(ctx context.Context, scope tenant.Scope, productID string) error
}
