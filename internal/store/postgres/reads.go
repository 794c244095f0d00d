package postgres

import (
	"context"
	"database/sql"
	"strings"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/tenant"
)

// reader implements store.Reader over a *sql.DB or a *sql.Tx. Inside a
// transaction single-header reads take the row lock.
type reader struct {
	q    querier
	lock bool
}

type scanner interface {
	Scan(dest ...any) error
}

func (r reader) forUpdate() string {
	if r.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (r reader) GetBusiness(ctx context.Context, scope tenant.Scope, id string) (*domain.Business, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	var b domain.Business
	err = r.q.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM businesses
		WHERE id = $1 AND ($2::boolean OR id = $3)
	`, id, all, businessID).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

const productColumns = `id, business_id, name, category, cost_cents, price_cents, active, created_at, updated_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.Category, &p.CostCents, &p.PriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r reader) GetProduct(ctx context.Context, scope tenant.Scope, id string) (*domain.Product, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	p, err := scanProduct(r.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID))
	if err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

func (r reader) ListProducts(ctx context.Context, scope tenant.Scope, filter domain.ProductFilter) ([]domain.Product, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1::boolean OR business_id = $2)
		  AND ($3::text = '' OR lower(category) = lower($3::text))
		  AND ($4::boolean OR active = true)
		ORDER BY name, id
		LIMIT $5
	`, all, businessID, strings.TrimSpace(filter.Category), filter.IncludeHidden, nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r reader) GetVendor(ctx context.Context, scope tenant.Scope, id string) (*domain.Vendor, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	var v domain.Vendor
	err = r.q.QueryRowContext(ctx, `
		SELECT id, business_id, name, phone, address, created_at
		FROM vendors
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID).Scan(&v.ID, &v.BusinessID, &v.Name, &v.Phone, &v.Address, &v.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func (r reader) ListVendors(ctx context.Context, scope tenant.Scope) ([]domain.Vendor, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, business_id, name, phone, address, created_at
		FROM vendors
		WHERE ($1::boolean OR business_id = $2)
		ORDER BY name, id
	`, all, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vendors := make([]domain.Vendor, 0, 16)
	for rows.Next() {
		var v domain.Vendor
		if err := rows.Scan(&v.ID, &v.BusinessID, &v.Name, &v.Phone, &v.Address, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

func (r reader) GetBank(ctx context.Context, scope tenant.Scope, id string) (*domain.Bank, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	var b domain.Bank
	err = r.q.QueryRowContext(ctx, `
		SELECT id, business_id, name, created_at
		FROM banks
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, id, all, businessID).Scan(&b.ID, &b.BusinessID, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (r reader) ListBanks(ctx context.Context, scope tenant.Scope) ([]domain.Bank, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, business_id, name, created_at
		FROM banks
		WHERE ($1::boolean OR business_id = $2)
		ORDER BY name, id
	`, all, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	banks := make([]domain.Bank, 0, 8)
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

const inventoryColumns = `id, business_id, product_id, quantity_in, quantity_out, adjustment_total, current_stock, updated_at`

func scanInventory(row scanner) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	if err := row.Scan(&rec.ID, &rec.BusinessID, &rec.ProductID, &rec.QuantityIn, &rec.QuantityOut, &rec.AdjustmentTotal, &rec.CurrentStock, &rec.UpdatedAt); err != nil {
		return domain.InventoryRecord{}, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r reader) GetInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rec, err := scanInventory(r.q.QueryRowContext(ctx, `
		SELECT i.id, i.business_id, i.product_id, i.quantity_in, i.quantity_out,
		       i.adjustment_total, i.current_stock, i.updated_at
		FROM inventory i
		JOIN products p ON p.id = i.product_id AND p.business_id = i.business_id
		WHERE i.product_id = $1 AND ($2::boolean OR i.business_id = $3)
	`, productID, all, businessID))
	if err != nil {
		return nil, noRows(err)
	}
	return &rec, nil
}

func (r reader) ListInventory(ctx context.Context, scope tenant.Scope) ([]domain.InventoryRecord, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory
		WHERE ($1::boolean OR business_id = $2)
		ORDER BY business_id, product_id
	`, all, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const adjustmentColumns = `id, business_id, product_id, inventory_id, quantity, reason, adjusted_by, adjusted_at, reversal_of`

func scanAdjustment(row scanner) (domain.StockAdjustment, error) {
	var adj domain.StockAdjustment
	var reversalOf sql.NullString
	if err := row.Scan(&adj.ID, &adj.BusinessID, &adj.ProductID, &adj.InventoryID, &adj.Quantity, &adj.Reason, &adj.AdjustedBy, &adj.AdjustedAt, &reversalOf); err != nil {
		return domain.StockAdjustment{}, err
	}
	adj.AdjustedAt = adj.AdjustedAt.UTC()
	adj.ReversalOf = reversalOf.String
	return adj, nil
}

func (r reader) GetAdjustment(ctx context.Context, scope tenant.Scope, id string) (*domain.StockAdjustment, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	adj, err := scanAdjustment(r.q.QueryRowContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM stock_adjustments
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`+r.forUpdate(), id, all, businessID))
	if err != nil {
		return nil, noRows(err)
	}
	return &adj, nil
}

func (r reader) ListAdjustments(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.StockAdjustment, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM stock_adjustments
		WHERE ($1::boolean OR business_id = $2)
		  AND ($3::timestamptz IS NULL OR adjusted_at >= $3)
		  AND ($4::timestamptz IS NULL OR adjusted_at <= $4)
		ORDER BY adjusted_at DESC, id DESC
		LIMIT $5
	`, all, businessID, nullTime(filter.From), nullTime(filter.To), nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjustments := make([]domain.StockAdjustment, 0, 32)
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

const purchaseColumns = `id, business_id, invoice_no, vendor_id, total_cost_cents, created_by, purchased_at, updated_at`

func scanPurchase(row scanner) (domain.Purchase, error) {
	var p domain.Purchase
	var vendorID sql.NullString
	if err := row.Scan(&p.ID, &p.BusinessID, &p.InvoiceNo, &vendorID, &p.TotalCostCents, &p.CreatedBy, &p.PurchasedAt, &p.UpdatedAt); err != nil {
		return domain.Purchase{}, err
	}
	p.VendorID = vendorID.String
	p.PurchasedAt = p.PurchasedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r reader) GetPurchase(ctx context.Context, scope tenant.Scope, id string) (*domain.Purchase, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	p, err := scanPurchase(r.q.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`+r.forUpdate(), id, all, businessID))
	if err != nil {
		return nil, noRows(err)
	}
	items, err := r.purchaseItems(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Items = items[p.ID]
	return &p, nil
}

func (r reader) ListPurchases(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Purchase, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE ($1::boolean OR business_id = $2)
		  AND ($3::timestamptz IS NULL OR purchased_at >= $3)
		  AND ($4::timestamptz IS NULL OR purchased_at <= $4)
		ORDER BY purchased_at DESC, id
		LIMIT $5
	`, all, businessID, nullTime(filter.From), nullTime(filter.To), nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	purchases := make([]domain.Purchase, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		purchases = append(purchases, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(ids) == 0 {
		return purchases, nil
	}

	items, err := r.purchaseItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range purchases {
		purchases[i].Items = items[purchases[i].ID]
	}
	return purchases, nil
}

func (r reader) purchaseItems(ctx context.Context, purchaseIDs []string) (map[string][]domain.PurchaseItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, purchase_id, product_id, quantity, cost_price_cents, total_cents
		FROM purchase_items
		WHERE purchase_id = ANY($1)
		ORDER BY purchase_id, position
	`, purchaseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.PurchaseItem, len(purchaseIDs))
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.CostPriceCents, &item.TotalCents); err != nil {
			return nil, err
		}
		items[item.PurchaseID] = append(items[item.PurchaseID], item)
	}
	return items, rows.Err()
}

const saleColumns = `id, business_id, invoice_no, customer_name, customer_phone, ref_no, sold_by, total_cents, paid_cents, sold_at, updated_at`

func scanSale(row scanner) (domain.Sale, error) {
	var s domain.Sale
	if err := row.Scan(&s.ID, &s.BusinessID, &s.InvoiceNo, &s.CustomerName, &s.CustomerPhone, &s.RefNo, &s.SoldBy, &s.TotalCents, &s.PaidCents, &s.SoldAt, &s.UpdatedAt); err != nil {
		return domain.Sale{}, err
	}
	s.SoldAt = s.SoldAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (r reader) GetSale(ctx context.Context, scope tenant.Scope, id string) (*domain.Sale, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	sale, err := scanSale(r.q.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`+r.forUpdate(), id, all, businessID))
	if err != nil {
		return nil, noRows(err)
	}
	items, err := r.saleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (r reader) ListSales(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Sale, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::boolean OR business_id = $2)
		  AND ($3::timestamptz IS NULL OR sold_at >= $3)
		  AND ($4::timestamptz IS NULL OR sold_at <= $4)
		ORDER BY sold_at DESC, id
		LIMIT $5
	`, all, businessID, nullTime(filter.From), nullTime(filter.To), nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := r.saleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (r reader) saleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, selling_price_cents, discount_cents,
		       gross_cents, net_cents, cost_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.SellingPriceCents, &item.DiscountCents, &item.GrossCents, &item.NetCents, &item.CostPriceCents); err != nil {
			return nil, err
		}
		items[item.SaleID] = append(items[item.SaleID], item)
	}
	return items, rows.Err()
}

func (r reader) ListPayments(ctx context.Context, scope tenant.Scope, saleID string) ([]domain.Payment, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	var owner string
	err = r.q.QueryRowContext(ctx, `
		SELECT business_id FROM sales
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`, saleID, all, businessID).Scan(&owner)
	if err != nil {
		return nil, noRows(err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, business_id, sale_id, amount_cents, method, bank_id, reference_no,
		       balance_due_cents, status, paid_at, created_by
		FROM payments
		WHERE sale_id = $1 AND business_id = $2
		ORDER BY paid_at, id
	`, saleID, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		var bankID sql.NullString
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.SaleID, &p.AmountCents, &p.Method, &bankID, &p.ReferenceNo, &p.BalanceDueCents, &p.Status, &p.PaidAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		p.BankID = bankID.String
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r reader) GetPayment(ctx context.Context, scope tenant.Scope, id string) (*domain.Payment, error) {
	all, businessID, err := scopeArgs(scope)
	if err != nil {
		return nil, err
	}
	var p domain.Payment
	var bankID sql.NullString
	err = r.q.QueryRowContext(ctx, `
		SELECT id, business_id, sale_id, amount_cents, method, bank_id, reference_no,
		       balance_due_cents, status, paid_at, created_by
		FROM payments
		WHERE id = $1 AND ($2::boolean OR business_id = $3)
	`+r.forUpdate(), id, all, businessID).Scan(&p.ID, &p.BusinessID, &p.SaleID, &p.AmountCents, &p.Method, &bankID,
		&p.ReferenceNo, &p.BalanceDueCents, &p.Status, &p.PaidAt, &p.CreatedBy)
	if err != nil {
		return nil, noRows(err)
	}
	p.BankID = bankID.String
	p.PaidAt = p.PaidAt.UTC()
	return &p, nil
}
