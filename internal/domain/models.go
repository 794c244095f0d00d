package domain

import "time"

type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type BusinessCreateRequest struct {
	Name string `json:"name"`
}

type Product struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	CostCents  int64     `json:"cost_cents"`
	PriceCents int64     `json:"price_cents"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	BusinessID string `json:"business_id,omitempty"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	CostCents  int64  `json:"cost_cents"`
	PriceCents int64  `json:"price_cents"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type ProductFilter struct {
	Category      string
	IncludeHidden bool
	Limit         int
}

type Vendor struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	CreatedAt  time.Time `json:"created_at"`
}

type VendorCreateRequest struct {
	BusinessID string `json:"business_id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

type Bank struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

type BankCreateRequest struct {
	BusinessID string `json:"business_id,omitempty"`
	Name       string `json:"name"`
}

// InventoryRecord is the stock ledger row for one (business, product).
type InventoryRecord struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"business_id"`
	ProductID       string    `json:"product_id"`
	QuantityIn      int64     `json:"quantity_in"`
	QuantityOut     int64     `json:"quantity_out"`
	AdjustmentTotal int64     `json:"adjustment_total"`
	CurrentStock    int64     `json:"current_stock"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DerivedStock is the only valid value for CurrentStock.
func (r InventoryRecord) DerivedStock() int64 {
	return r.QuantityIn - r.QuantityOut + r.AdjustmentTotal
}

func (r InventoryRecord) Consistent() bool {
	return r.CurrentStock == r.DerivedStock()
}

type StockAdjustment struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	ProductID   string    `json:"product_id"`
	InventoryID string    `json:"inventory_id"`
	Quantity    int64     `json:"quantity"`
	Reason      string    `json:"reason"`
	AdjustedBy  string    `json:"adjusted_by"`
	AdjustedAt  time.Time `json:"adjusted_at"`
	ReversalOf  string    `json:"reversal_of,omitempty"`
}

type AdjustmentCreateRequest struct {
	BusinessID string `json:"business_id,omitempty"`
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	Reason     string `json:"reason"`
}

type Purchase struct {
	ID             string         `json:"id"`
	BusinessID     string         `json:"business_id"`
	InvoiceNo      string         `json:"invoice_no"`
	VendorID       string         `json:"vendor_id,omitempty"`
	TotalCostCents int64          `json:"total_cost_cents"`
	CreatedBy      string         `json:"created_by"`
	PurchasedAt    time.Time      `json:"purchased_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Items          []PurchaseItem `json:"items"`
}

type PurchaseItem struct {
	ID             string `json:"id"`
	PurchaseID     string `json:"purchase_id"`
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	CostPriceCents int64  `json:"cost_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type PurchaseLineInput struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	CostPriceCents int64  `json:"cost_price_cents"`
}

type PurchaseCreateRequest struct {
	BusinessID string              `json:"business_id,omitempty"`
	InvoiceNo  string              `json:"invoice_no,omitempty"`
	VendorID   string              `json:"vendor_id,omitempty"`
	Items      []PurchaseLineInput `json:"items"`
}

// PurchaseLineUpdate edits one line. An empty ItemID adds a new line, in
// which case ProductID and Quantity are required.
type PurchaseLineUpdate struct {
	ItemID         string  `json:"item_id,omitempty"`
	ProductID      *string `json:"product_id,omitempty"`
	Quantity       *int64  `json:"quantity,omitempty"`
	CostPriceCents *int64  `json:"cost_price_cents,omitempty"`
	Remove         bool    `json:"remove,omitempty"`
}

type PurchaseUpdateRequest struct {
	VendorID *string              `json:"vendor_id,omitempty"`
	Items    []PurchaseLineUpdate `json:"items,omitempty"`
}

type Sale struct {
	ID            string     `json:"id"`
	BusinessID    string     `json:"business_id"`
	InvoiceNo     string     `json:"invoice_no"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	RefNo         string     `json:"ref_no,omitempty"`
	SoldBy        string     `json:"sold_by"`
	TotalCents    int64      `json:"total_cents"`
	PaidCents     int64      `json:"paid_cents"`
	SoldAt        time.Time  `json:"sold_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Items         []SaleItem `json:"items"`
}

func (s Sale) BalanceDueCents() int64 {
	return s.TotalCents - s.PaidCents
}

type SaleItem struct {
	ID                string `json:"id"`
	SaleID            string `json:"sale_id"`
	ProductID         string `json:"product_id"`
	Quantity          int64  `json:"quantity"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	DiscountCents     int64  `json:"discount_cents"`
	GrossCents        int64  `json:"gross_cents"`
	NetCents          int64  `json:"net_cents"`
	// CostPriceCents is frozen when the line is created and never follows
	// later product cost changes.
	CostPriceCents int64 `json:"cost_price_cents"`
}

type SaleLineInput struct {
	ProductID         string `json:"product_id"`
	Quantity          int64  `json:"quantity"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	DiscountCents     int64  `json:"discount_cents"`
}

type SaleCreateRequest struct {
	BusinessID    string          `json:"business_id,omitempty"`
	InvoiceNo     string          `json:"invoice_no,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	RefNo         string          `json:"ref_no,omitempty"`
	Items         []SaleLineInput `json:"items"`
}

type SaleLineUpdate struct {
	ItemID            string  `json:"item_id,omitempty"`
	ProductID         *string `json:"product_id,omitempty"`
	Quantity          *int64  `json:"quantity,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	DiscountCents     *int64  `json:"discount_cents,omitempty"`
	Remove            bool    `json:"remove,omitempty"`
}

type SaleUpdateRequest struct {
	CustomerName  *string          `json:"customer_name,omitempty"`
	CustomerPhone *string          `json:"customer_phone,omitempty"`
	RefNo         *string          `json:"ref_no,omitempty"`
	Items         []SaleLineUpdate `json:"items,omitempty"`
}

// SaleResponse wraps a committed sale with the low-stock warnings produced in
// permissive mode. Warnings are not persisted.
type SaleResponse struct {
	Sale     Sale           `json:"sale"`
	Warnings []StockWarning `json:"warnings,omitempty"`
}

type PurchaseResponse struct {
	Purchase Purchase       `json:"purchase"`
	Warnings []StockWarning `json:"warnings,omitempty"`
}

type StockWarning struct {
	ProductID    string `json:"product_id"`
	CurrentStock int64  `json:"current_stock"`
	Message      string `json:"message"`
}

type Payment struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"business_id"`
	SaleID          string    `json:"sale_id"`
	AmountCents     int64     `json:"amount_cents"`
	Method          string    `json:"method"`
	BankID          string    `json:"bank_id,omitempty"`
	ReferenceNo     string    `json:"reference_no,omitempty"`
	BalanceDueCents int64     `json:"balance_due_cents"`
	Status          string    `json:"status"`
	PaidAt          time.Time `json:"paid_at"`
	CreatedBy       string    `json:"created_by"`
}

type PaymentCreateRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	BankID      string `json:"bank_id,omitempty"`
	ReferenceNo string `json:"reference_no,omitempty"`
}

type ListFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BusinessID  string `json:"business_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller. BusinessID comes from the verified
// token claim, never from the request body.
type Actor struct {
	Username   string
	Role       string
	BusinessID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username   string
	Password   string
	Role       string
	BusinessID string
	Active     bool
	CreatedAt  time.Time
}

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleStaff      = "staff"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
	PaymentMethodPOS      = "pos"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusPartPaid  = "part_paid"
	PaymentStatusCompleted = "completed"
)
