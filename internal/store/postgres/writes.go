package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

func (s *Store) CreateBusiness(ctx context.Context, business domain.Business) (*domain.Business, error) {
	if business.ID == "" {
		business.ID = xid.New("biz")
	}
	if business.CreatedAt.IsZero() {
		business.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, created_at)
		VALUES ($1, $2, $3)
	`, business.ID, business.Name, business.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &business, nil
}

func (s *Store) CreateProduct(ctx context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error) {
	if err := visible(scope, product.BusinessID); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, business_id, name, category, cost_cents, price_cents, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, product.ID, product.BusinessID, product.Name, product.Category, product.CostCents, product.PriceCents,
		product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $4, category = $5, cost_cents = $6, price_cents = $7, active = $8, updated_at = $9
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
		RETURNING business_id, created_at
	`, product.ID, all, businessID, product.Name, product.Category, product.CostCents, product.PriceCents,
		product.Active, product.UpdatedAt).Scan(&product.BusinessID, &product.CreatedAt)
	if err != nil {
		return nil, mapError(noRows(err))
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) CreateVendor(ctx context.Context, scope tenant.Scope, vendor domain.Vendor) (*domain.Vendor, error) {
	if err := visible(scope, vendor.BusinessID); err != nil {
		return nil, err
	}
	if vendor.ID == "" {
		vendor.ID = xid.New("vnd")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, business_id, name, phone, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vendor.ID, vendor.BusinessID, vendor.Name, vendor.Phone, vendor.Address, vendor.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &vendor, nil
}

func (s *Store) CreateBank(ctx context.Context, scope tenant.Scope, bank domain.Bank) (*domain.Bank, error) {
	if err := visible(scope, bank.BusinessID); err != nil {
		return nil, err
	}
	if bank.ID == "" {
		bank.ID = xid.New("bnk")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO banks (id, business_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, bank.ID, bank.BusinessID, bank.Name, bank.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &bank, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: username is required", store.ErrInvalidTransaction)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, business_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, username, user.Password, user.Role, nullIfEmpty(user.BusinessID), user.Active, user.CreatedAt)
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var businessID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, business_id, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.Role, &businessID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	user.BusinessID = businessID.String
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// LockInventory creates the (business, product) row on first use and then
// takes its row lock. The insert is a no-op when the row exists, so two
// writers racing on a new product both end up waiting on the same row.
func (t *pgTx) LockInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	businessID, err := scope.Target("")
	if err != nil {
		return nil, store.ScopeError(err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO inventory (id, business_id, product_id, updated_at)
		SELECT $1, $2, $3, now()
		WHERE EXISTS (SELECT 1 FROM products WHERE id = $3 AND business_id = $2)
		ON CONFLICT (business_id, product_id) DO NOTHING
	`, xid.New("inv"), businessID, productID)
	if err != nil {
		return nil, err
	}
	rec, err := scanInventory(t.tx.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE business_id = $1 AND product_id = $2
		FOR UPDATE
	`, businessID, productID))
	if err != nil {
		return nil, noRows(err)
	}
	return &rec, nil
}

func (t *pgTx) SaveInventory(ctx context.Context, scope tenant.Scope, record domain.InventoryRecord) error {
	if err := visible(scope, record.BusinessID); err != nil {
		return err
	}
	if !record.Consistent() {
		return fmt.Errorf("%w: inventory %s current_stock does not match its totals", store.ErrInvalidTransaction, record.ID)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory
		SET quantity_in = $3, quantity_out = $4, adjustment_total = $5, current_stock = $6, updated_at = $7
		WHERE id = $1 AND business_id = $2 AND product_id = $8
	`, record.ID, record.BusinessID, record.QuantityIn, record.QuantityOut, record.AdjustmentTotal,
		record.CurrentStock, record.UpdatedAt, record.ProductID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) InsertAdjustment(ctx context.Context, scope tenant.Scope, adjustment domain.StockAdjustment) error {
	if err := visible(scope, adjustment.BusinessID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, business_id, product_id, inventory_id, quantity, reason, adjusted_by, adjusted_at, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, adjustment.ID, adjustment.BusinessID, adjustment.ProductID, adjustment.InventoryID, adjustment.Quantity,
		adjustment.Reason, adjustment.AdjustedBy, adjustment.AdjustedAt, nullIfEmpty(adjustment.ReversalOf))
	return err
}

func (t *pgTx) AdjustmentReversed(ctx context.Context, scope tenant.Scope, adjustmentID string) (bool, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return false, err
	}
	var reversed bool
	err = t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_adjustments
			WHERE reversal_of = $1 AND ($2::boolean OR business_id = $3)
		)
	`, adjustmentID, all, businessID).Scan(&reversed)
	return reversed, err
}

func (t *pgTx) InsertPurchase(ctx context.Context, scope tenant.Scope, purchase domain.Purchase) error {
	if err := visible(scope, purchase.BusinessID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, business_id, invoice_no, vendor_id, total_cost_cents, created_by, purchased_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, purchase.ID, purchase.BusinessID, purchase.InvoiceNo, nullIfEmpty(purchase.VendorID), purchase.TotalCostCents,
		purchase.CreatedBy, purchase.PurchasedAt, purchase.UpdatedAt)
	if err != nil {
		return err
	}
	return t.insertPurchaseItems(ctx, purchase.BusinessID, purchase.ID, purchase.Items)
}

func (t *pgTx) ReplacePurchase(ctx context.Context, scope tenant.Scope, purchase domain.Purchase) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	var owner string
	err = t.tx.QueryRowContext(ctx, `
		UPDATE purchases
		SET invoice_no = $4, vendor_id = $5, total_cost_cents = $6, updated_at = $7
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
		RETURNING business_id
	`, purchase.ID, all, businessID, purchase.InvoiceNo, nullIfEmpty(purchase.VendorID), purchase.TotalCostCents,
		purchase.UpdatedAt).Scan(&owner)
	if err != nil {
		return noRows(err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_items WHERE purchase_id = $1`, purchase.ID); err != nil {
		return err
	}
	return t.insertPurchaseItems(ctx, owner, purchase.ID, purchase.Items)
}

func (t *pgTx) insertPurchaseItems(ctx context.Context, businessID, purchaseID string, items []domain.PurchaseItem) error {
	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("pit")
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_items (id, purchase_id, business_id, product_id, position, quantity, cost_price_cents, total_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, purchaseID, businessID, item.ProductID, i, item.Quantity, item.CostPriceCents, item.TotalCents)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeletePurchase(ctx context.Context, scope tenant.Scope, id string) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM purchases
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) InsertSale(ctx context.Context, scope tenant.Scope, sale domain.Sale) error {
	if err := visible(scope, sale.BusinessID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, business_id, invoice_no, customer_name, customer_phone, ref_no, sold_by,
		                   total_cents, paid_cents, sold_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sale.ID, sale.BusinessID, sale.InvoiceNo, sale.CustomerName, sale.CustomerPhone, sale.RefNo, sale.SoldBy,
		sale.TotalCents, sale.PaidCents, sale.SoldAt, sale.UpdatedAt)
	if err != nil {
		return err
	}
	return t.insertSaleItems(ctx, sale.BusinessID, sale.ID, sale.Items)
}

// ReplaceSale rewrites the header and lines. paid_cents only moves through
// SetSalePaid.
func (t *pgTx) ReplaceSale(ctx context.Context, scope tenant.Scope, sale domain.Sale) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	var owner string
	err = t.tx.QueryRowContext(ctx, `
		UPDATE sales
		SET invoice_no = $4, customer_name = $5, customer_phone = $6, ref_no = $7, total_cents = $8, updated_at = $9
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
		RETURNING business_id
	`, sale.ID, all, businessID, sale.InvoiceNo, sale.CustomerName, sale.CustomerPhone, sale.RefNo,
		sale.TotalCents, sale.UpdatedAt).Scan(&owner)
	if err != nil {
		return noRows(err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return err
	}
	return t.insertSaleItems(ctx, owner, sale.ID, sale.Items)
}

func (t *pgTx) insertSaleItems(ctx context.Context, businessID, saleID string, items []domain.SaleItem) error {
	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("sit")
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, business_id, product_id, position, quantity, selling_price_cents,
			                        discount_cents, gross_cents, net_cents, cost_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, item.ID, saleID, businessID, item.ProductID, i, item.Quantity, item.SellingPriceCents,
			item.DiscountCents, item.GrossCents, item.NetCents, item.CostPriceCents)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteSale relies on ON DELETE CASCADE for items and payments.
func (t *pgTx) DeleteSale(ctx context.Context, scope tenant.Scope, id string) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM sales
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) InsertPayment(ctx context.Context, scope tenant.Scope, payment domain.Payment) error {
	if err := visible(scope, payment.BusinessID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, business_id, sale_id, amount_cents, method, bank_id, reference_no,
		                      balance_due_cents, status, paid_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, payment.ID, payment.BusinessID, payment.SaleID, payment.AmountCents, payment.Method, nullIfEmpty(payment.BankID),
		payment.ReferenceNo, payment.BalanceDueCents, payment.Status, payment.PaidAt, payment.CreatedBy)
	return err
}

func (t *pgTx) SetSalePaid(ctx context.Context, scope tenant.Scope, saleID string, paidCents int64) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET paid_cents = $4, updated_at = now()
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, saleID, all, businessID, paidCents)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) SetProductCost(ctx context.Context, scope tenant.Scope, productID string, costCents int64) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET cost_cents = $4, updated_at = now()
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, productID, all, businessID, costCents)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) DeletePayment(ctx context.Context, scope tenant.Scope, id string) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM payments
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (t *pgTx) ProductReferenced(ctx context.Context, scope tenant.Scope, productID string) (bool, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return false, err
	}
	var owner string
	err = t.tx.QueryRowContext(ctx, `
		SELECT business_id FROM products
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, productID, all, businessID).Scan(&owner)
	if err != nil {
		return false, noRows(err)
	}
	var referenced bool
	err = t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM purchase_items WHERE product_id = $1 AND business_id = $2)
		    OR EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1 AND business_id = $2)
		    OR EXISTS (SELECT 1 FROM stock_adjustments WHERE product_id = $1 AND business_id = $2)
	`, productID, owner).Scan(&referenced)
	return referenced, err
}

func (t *pgTx) DeleteProduct(ctx context.Context, scope tenant.Scope, productID string) error {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM inventory
		WHERE product_id = $1 AND ($2::boolean OR business_id = $3)
	`, productID, all, businessID); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM products
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, productID, all, businessID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
