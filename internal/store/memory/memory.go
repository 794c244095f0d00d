package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

// Store keeps everything in maps behind one lock. InTx holds the write lock
// for the whole transaction and restores a snapshot when fn fails, so
// transactions are fully serialized. The snapshot copies the whole state, so
// every write costs time proportional to the data set; it is a dev and test
// store only.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	businesses  map[string]domain.Business
	products    map[string]domain.Product
	vendors     map[string]domain.Vendor
	banks       map[string]domain.Bank
	inventory   map[inventoryKey]domain.InventoryRecord
	adjustments []domain.StockAdjustment
	purchases   map[string]domain.Purchase
	sales       map[string]domain.Sale
	payments    []domain.Payment
	users       map[string]domain.UserAccount
}

type inventoryKey struct {
	businessID string
	productID  string
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*memTx)(nil)
)

func New() *Store {
	return &Store{st: newState()}
}

const DemoBusinessID = "biz-demo"

// NewSeeded returns a store with one demo business, a few products and the
// dev accounts superadmin, admin and staff. Passwords come from
// SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD.
func NewSeeded() *Store {
	st := newState()
	now := time.Now().UTC()
	st.businesses[DemoBusinessID] = domain.Business{ID: DemoBusinessID, Name: "Demo Store", CreatedAt: now}
	for _, p := range []struct {
		id, name, category string
		cost, price        int64
	}{
		{"prd-rice-5kg", "Rice 5kg", "grocery", 6200000, 7500000},
		{"prd-sugar-1kg", "Sugar 1kg", "grocery", 1400000, 1740000},
		{"prd-coffee", "Coffee Sachet", "beverage", 180000, 260000},
		{"prd-soap", "Bath Soap", "household", 500000, 740000},
	} {
		st.products[p.id] = domain.Product{
			ID: p.id, BusinessID: DemoBusinessID, Name: p.name, Category: p.category,
			CostCents: p.cost, PriceCents: p.price, Active: true, CreatedAt: now, UpdatedAt: now,
		}
	}
	st.users = seedUsers(now)
	return &Store{st: st}
}

func seedUsers(now time.Time) map[string]domain.UserAccount {
	log := logger.Named("memory-store")
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username, envKey, fallback, role, businessID string
	}{
		{"superadmin", "SEED_SUPERADMIN_PASSWORD", "superadmin123", domain.RoleSuperAdmin, ""},
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin, DemoBusinessID},
		{"staff", "SEED_STAFF_PASSWORD", "staff123", domain.RoleStaff, DemoBusinessID},
	} {
		pwd := os.Getenv(u.envKey)
		if pwd == "" {
			log.Warn("using default dev credentials", zap.String("username", u.username), zap.String("env", u.envKey))
			pwd = u.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			BusinessID: u.businessID,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func newState() *state {
	return &state{
		businesses: make(map[string]domain.Business),
		products:   make(map[string]domain.Product),
		vendors:    make(map[string]domain.Vendor),
		banks:      make(map[string]domain.Bank),
		inventory:  make(map[inventoryKey]domain.InventoryRecord),
		purchases:  make(map[string]domain.Purchase),
		sales:      make(map[string]domain.Sale),
		users:      make(map[string]domain.UserAccount),
	}
}

func (s *state) clone() *state {
	out := &state{
		businesses:  maps.Clone(s.businesses),
		products:    maps.Clone(s.products),
		vendors:     maps.Clone(s.vendors),
		banks:       maps.Clone(s.banks),
		inventory:   maps.Clone(s.inventory),
		adjustments: slices.Clone(s.adjustments),
		purchases:   make(map[string]domain.Purchase, len(s.purchases)),
		sales:       make(map[string]domain.Sale, len(s.sales)),
		payments:    slices.Clone(s.payments),
		users:       maps.Clone(s.users),
	}
	for id, p := range s.purchases {
		p.Items = slices.Clone(p.Items)
		out.purchases[id] = p
	}
	for id, sale := range s.sales {
		sale.Items = slices.Clone(sale.Items)
		out.sales[id] = sale
	}
	return out
}

// visible fails closed on an unset scope and hides rows of other businesses
// behind store.ErrNotFound.
func visible(scope tenant.Scope, businessID string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	if !scope.Allows(businessID) {
		return store.ErrNotFound
	}
	return nil
}

func inRange(at time.Time, filter domain.ListFilter) bool {
	if filter.From != nil && at.Before(*filter.From) {
		return false
	}
	if filter.To != nil && at.After(*filter.To) {
		return false
	}
	return true
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// scoped reads, shared by Store (under the read lock) and memTx (under the
// transaction's write lock).

func (s *state) GetBusiness(_ context.Context, scope tenant.Scope, id string) (*domain.Business, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	b, ok := s.businesses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, b.ID); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *state) GetProduct(_ context.Context, scope tenant.Scope, id string) (*domain.Product, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *state) ListProducts(_ context.Context, scope tenant.Scope, filter domain.ProductFilter) ([]domain.Product, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0)
	for _, p := range s.products {
		if !scope.Allows(p.BusinessID) {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if !filter.IncludeHidden && !p.Active {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return limit(out, filter.Limit), nil
}

func (s *state) GetVendor(_ context.Context, scope tenant.Scope, id string) (*domain.Vendor, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	v, ok := s.vendors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, v.BusinessID); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *state) ListVendors(_ context.Context, scope tenant.Scope) ([]domain.Vendor, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.Vendor, 0)
	for _, v := range s.vendors {
		if scope.Allows(v.BusinessID) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b domain.Vendor) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *state) GetBank(_ context.Context, scope tenant.Scope, id string) (*domain.Bank, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	b, ok := s.banks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, b.BusinessID); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *state) ListBanks(_ context.Context, scope tenant.Scope) ([]domain.Bank, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.Bank, 0)
	for _, b := range s.banks {
		if scope.Allows(b.BusinessID) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b domain.Bank) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *state) GetInventory(_ context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return nil, err
	}
	rec, ok := s.inventory[inventoryKey{p.BusinessID, productID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *state) ListInventory(_ context.Context, scope tenant.Scope) ([]domain.InventoryRecord, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.InventoryRecord, 0)
	for key, rec := range s.inventory {
		if scope.Allows(key.businessID) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b domain.InventoryRecord) int {
		return cmp.Or(cmp.Compare(a.BusinessID, b.BusinessID), cmp.Compare(a.ProductID, b.ProductID))
	})
	return out, nil
}

func (s *state) GetAdjustment(_ context.Context, scope tenant.Scope, id string) (*domain.StockAdjustment, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	for _, adj := range s.adjustments {
		if adj.ID != id {
			continue
		}
		if err := visible(scope, adj.BusinessID); err != nil {
			return nil, err
		}
		return &adj, nil
	}
	return nil, store.ErrNotFound
}

func (s *state) ListAdjustments(_ context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.StockAdjustment, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.StockAdjustment, 0)
	// newest first
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		adj := s.adjustments[i]
		if scope.Allows(adj.BusinessID) && inRange(adj.AdjustedAt, filter) {
			out = append(out, adj)
		}
	}
	return limit(out, filter.Limit), nil
}

func (s *state) GetPurchase(_ context.Context, scope tenant.Scope, id string) (*domain.Purchase, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return nil, err
	}
	p.Items = slices.Clone(p.Items)
	return &p, nil
}

func (s *state) ListPurchases(_ context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Purchase, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.Purchase, 0)
	for _, p := range s.purchases {
		if scope.Allows(p.BusinessID) && inRange(p.PurchasedAt, filter) {
			p.Items = slices.Clone(p.Items)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Purchase) int {
		return cmp.Or(b.PurchasedAt.Compare(a.PurchasedAt), cmp.Compare(a.ID, b.ID))
	})
	return limit(out, filter.Limit), nil
}

func (s *state) GetSale(_ context.Context, scope tenant.Scope, id string) (*domain.Sale, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, sale.BusinessID); err != nil {
		return nil, err
	}
	sale.Items = slices.Clone(sale.Items)
	return &sale, nil
}

func (s *state) ListSales(_ context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Sale, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if scope.Allows(sale.BusinessID) && inRange(sale.SoldAt, filter) {
			sale.Items = slices.Clone(sale.Items)
			out = append(out, sale)
		}
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		return cmp.Or(b.SoldAt.Compare(a.SoldAt), cmp.Compare(a.ID, b.ID))
	})
	return limit(out, filter.Limit), nil
}

func (s *state) ListPayments(_ context.Context, scope tenant.Scope, saleID string) ([]domain.Payment, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, sale.BusinessID); err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if p.SaleID == saleID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *state) GetPayment(_ context.Context, scope tenant.Scope, id string) (*domain.Payment, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	for _, p := range s.payments {
		if p.ID != id {
			continue
		}
		if err := visible(scope, p.BusinessID); err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, store.ErrNotFound
}

// requireBusiness checks that a write into businessID is allowed and that the
// business exists.
func (s *state) requireBusiness(scope tenant.Scope, businessID string) error {
	if err := visible(scope, businessID); err != nil {
		return err
	}
	if _, ok := s.businesses[businessID]; !ok {
		return store.ErrNotFound
	}
	return nil
}

// Store: repository entry points.

func (s *Store) GetBusiness(ctx context.Context, scope tenant.Scope, id string) (*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBusiness(ctx, scope, id)
}

func (s *Store) GetProduct(ctx context.Context, scope tenant.Scope, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetProduct(ctx, scope, id)
}

func (s *Store) ListProducts(ctx context.Context, scope tenant.Scope, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListProducts(ctx, scope, filter)
}

func (s *Store) GetVendor(ctx context.Context, scope tenant.Scope, id string) (*domain.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetVendor(ctx, scope, id)
}

func (s *Store) ListVendors(ctx context.Context, scope tenant.Scope) ([]domain.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListVendors(ctx, scope)
}

func (s *Store) GetBank(ctx context.Context, scope tenant.Scope, id string) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBank(ctx, scope, id)
}

func (s *Store) ListBanks(ctx context.Context, scope tenant.Scope) ([]domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListBanks(ctx, scope)
}

func (s *Store) GetInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetInventory(ctx, scope, productID)
}

func (s *Store) ListInventory(ctx context.Context, scope tenant.Scope) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListInventory(ctx, scope)
}

func (s *Store) GetAdjustment(ctx context.Context, scope tenant.Scope, id string) (*domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetAdjustment(ctx, scope, id)
}

func (s *Store) ListAdjustments(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListAdjustments(ctx, scope, filter)
}

func (s *Store) GetPurchase(ctx context.Context, scope tenant.Scope, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetPurchase(ctx, scope, id)
}

func (s *Store) ListPurchases(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListPurchases(ctx, scope, filter)
}

func (s *Store) GetSale(ctx context.Context, scope tenant.Scope, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetSale(ctx, scope, id)
}

func (s *Store) ListSales(ctx context.Context, scope tenant.Scope, filter domain.ListFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListSales(ctx, scope, filter)
}

func (s *Store) ListPayments(ctx context.Context, scope tenant.Scope, saleID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListPayments(ctx, scope, saleID)
}

func (s *Store) GetPayment(ctx context.Context, scope tenant.Scope, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetPayment(ctx, scope, id)
}

func (s *Store) CreateBusiness(_ context.Context, business domain.Business) (*domain.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if business.ID == "" {
		business.ID = xid.New("biz")
	}
	if _, exists := s.st.businesses[business.ID]; exists {
		return nil, fmt.Errorf("%w: business %s already exists", store.ErrInvalidTransaction, business.ID)
	}
	if business.CreatedAt.IsZero() {
		business.CreatedAt = time.Now().UTC()
	}
	s.st.businesses[business.ID] = business
	return &business, nil
}

func (s *Store) CreateProduct(_ context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.requireBusiness(scope, product.BusinessID); err != nil {
		return nil, err
	}
	if err := s.st.uniqueProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *state) uniqueProduct(product domain.Product) error {
	for _, p := range s.products {
		if p.ID != product.ID && p.BusinessID == product.BusinessID &&
			strings.EqualFold(p.Name, product.Name) && strings.EqualFold(p.Category, product.Category) {
			return fmt.Errorf("%w: product %q already exists in category %q", store.ErrInvalidTransaction, product.Name, product.Category)
		}
	}
	return nil
}

func (s *Store) UpdateProduct(_ context.Context, scope tenant.Scope, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := scope.Check(); err != nil {
		return nil, err
	}
	existing, ok := s.st.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := visible(scope, existing.BusinessID); err != nil {
		return nil, err
	}
	product.BusinessID = existing.BusinessID
	product.CreatedAt = existing.CreatedAt
	if err := s.st.uniqueProduct(product); err != nil {
		return nil, err
	}
	s.st.products[product.ID] = product
	return &product, nil
}

func (s *Store) CreateVendor(_ context.Context, scope tenant.Scope, vendor domain.Vendor) (*domain.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.requireBusiness(scope, vendor.BusinessID); err != nil {
		return nil, err
	}
	if vendor.ID == "" {
		vendor.ID = xid.New("vnd")
	}
	s.st.vendors[vendor.ID] = vendor
	return &vendor, nil
}

func (s *Store) CreateBank(_ context.Context, scope tenant.Scope, bank domain.Bank) (*domain.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.requireBusiness(scope, bank.BusinessID); err != nil {
		return nil, err
	}
	for _, b := range s.st.banks {
		if b.BusinessID == bank.BusinessID && strings.EqualFold(b.Name, bank.Name) {
			return nil, fmt.Errorf("%w: bank %q already exists", store.ErrInvalidTransaction, bank.Name)
		}
	}
	if bank.ID == "" {
		bank.ID = xid.New("bnk")
	}
	s.st.banks[bank.ID] = bank
	return &bank, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: username is required", store.ErrInvalidTransaction)
	}
	if _, exists := s.st.users[username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidTransaction, username)
	}
	if user.BusinessID != "" {
		if _, ok := s.st.businesses[user.BusinessID]; !ok {
			return store.ErrNotFound
		}
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.st.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.st.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	tx := &memTx{state: s.st}
	if err := fn(tx); err != nil {
		s.st = snapshot
		return err
	}
	// a cancelled request must not commit
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// memTx runs under the write lock taken by InTx.
type memTx struct {
	*state
}

func (t *memTx) LockInventory(_ context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	businessID, err := scope.Target("")
	if err != nil {
		return nil, store.ScopeError(err)
	}
	p, ok := t.products[productID]
	if !ok || p.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	key := inventoryKey{businessID, productID}
	rec, ok := t.inventory[key]
	if !ok {
		rec = domain.InventoryRecord{
			ID:         xid.New("inv"),
			BusinessID: businessID,
			ProductID:  productID,
			UpdatedAt:  time.Now().UTC(),
		}
		t.inventory[key] = rec
	}
	return &rec, nil
}

func (t *memTx) SaveInventory(_ context.Context, scope tenant.Scope, record domain.InventoryRecord) error {
	if err := visible(scope, record.BusinessID); err != nil {
		return err
	}
	key := inventoryKey{record.BusinessID, record.ProductID}
	existing, ok := t.inventory[key]
	if !ok || existing.ID != record.ID {
		return store.ErrNotFound
	}
	if !record.Consistent() {
		return fmt.Errorf("%w: inventory %s current_stock does not match its totals", store.ErrInvalidTransaction, record.ID)
	}
	t.inventory[key] = record
	return nil
}

func (t *memTx) InsertAdjustment(_ context.Context, scope tenant.Scope, adjustment domain.StockAdjustment) error {
	if err := visible(scope, adjustment.BusinessID); err != nil {
		return err
	}
	t.adjustments = append(t.adjustments, adjustment)
	return nil
}

func (t *memTx) AdjustmentReversed(_ context.Context, scope tenant.Scope, adjustmentID string) (bool, error) {
	if err := scope.Check(); err != nil {
		return false, err
	}
	for _, adj := range t.adjustments {
		if adj.ReversalOf == adjustmentID && scope.Allows(adj.BusinessID) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPurchase(_ context.Context, scope tenant.Scope, purchase domain.Purchase) error {
	if err := t.requireBusiness(scope, purchase.BusinessID); err != nil {
		return err
	}
	if _, exists := t.purchases[purchase.ID]; exists {
		return fmt.Errorf("%w: purchase %s already exists", store.ErrInvalidTransaction, purchase.ID)
	}
	purchase.Items = slices.Clone(purchase.Items)
	t.purchases[purchase.ID] = purchase
	return nil
}

func (t *memTx) ReplacePurchase(_ context.Context, scope tenant.Scope, purchase domain.Purchase) error {
	if err := scope.Check(); err != nil {
		return err
	}
	existing, ok := t.purchases[purchase.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, existing.BusinessID); err != nil {
		return err
	}
	purchase.BusinessID = existing.BusinessID
	purchase.Items = slices.Clone(purchase.Items)
	t.purchases[purchase.ID] = purchase
	return nil
}

func (t *memTx) DeletePurchase(_ context.Context, scope tenant.Scope, id string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	existing, ok := t.purchases[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, existing.BusinessID); err != nil {
		return err
	}
	delete(t.purchases, id)
	return nil
}

func (t *memTx) InsertSale(_ context.Context, scope tenant.Scope, sale domain.Sale) error {
	if err := t.requireBusiness(scope, sale.BusinessID); err != nil {
		return err
	}
	if _, exists := t.sales[sale.ID]; exists {
		return fmt.Errorf("%w: sale %s already exists", store.ErrInvalidTransaction, sale.ID)
	}
	sale.Items = slices.Clone(sale.Items)
	t.sales[sale.ID] = sale
	return nil
}

func (t *memTx) ReplaceSale(_ context.Context, scope tenant.Scope, sale domain.Sale) error {
	if err := scope.Check(); err != nil {
		return err
	}
	existing, ok := t.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, existing.BusinessID); err != nil {
		return err
	}
	sale.BusinessID = existing.BusinessID
	sale.PaidCents = existing.PaidCents
	sale.Items = slices.Clone(sale.Items)
	t.sales[sale.ID] = sale
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, scope tenant.Scope, id string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	existing, ok := t.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, existing.BusinessID); err != nil {
		return err
	}
	delete(t.sales, id)
	t.payments = slices.DeleteFunc(t.payments, func(p domain.Payment) bool { return p.SaleID == id })
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, scope tenant.Scope, payment domain.Payment) error {
	if err := scope.Check(); err != nil {
		return err
	}
	sale, ok := t.sales[payment.SaleID]
	if !ok || sale.BusinessID != payment.BusinessID {
		return store.ErrNotFound
	}
	if err := visible(scope, sale.BusinessID); err != nil {
		return err
	}
	t.payments = append(t.payments, payment)
	return nil
}

func (t *memTx) SetSalePaid(_ context.Context, scope tenant.Scope, saleID string, paidCents int64) error {
	if err := scope.Check(); err != nil {
		return err
	}
	sale, ok := t.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, sale.BusinessID); err != nil {
		return err
	}
	sale.PaidCents = paidCents
	sale.UpdatedAt = time.Now().UTC()
	t.sales[saleID] = sale
	return nil
}

func (t *memTx) SetProductCost(_ context.Context, scope tenant.Scope, productID string, costCents int64) error {
	if err := scope.Check(); err != nil {
		return err
	}
	p, ok := t.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return err
	}
	p.CostCents = costCents
	p.UpdatedAt = time.Now().UTC()
	t.products[productID] = p
	return nil
}

func (t *memTx) DeletePayment(_ context.Context, scope tenant.Scope, id string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	idx := slices.IndexFunc(t.payments, func(p domain.Payment) bool { return p.ID == id })
	if idx < 0 {
		return store.ErrNotFound
	}
	if err := visible(scope, t.payments[idx].BusinessID); err != nil {
		return err
	}
	t.payments = slices.Delete(t.payments, idx, idx+1)
	return nil
}

func (t *memTx) ProductReferenced(_ context.Context, scope tenant.Scope, productID string) (bool, error) {
	if err := scope.Check(); err != nil {
		return false, err
	}
	p, ok := t.products[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return false, err
	}
	for _, adj := range t.adjustments {
		if adj.ProductID == productID {
			return true, nil
		}
	}
	for _, purchase := range t.purchases {
		for _, item := range purchase.Items {
			if item.ProductID == productID {
				return true, nil
			}
		}
	}
	for _, sale := range t.sales {
		for _, item := range sale.Items {
			if item.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) DeleteProduct(_ context.Context, scope tenant.Scope, productID string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	p, ok := t.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if err := visible(scope, p.BusinessID); err != nil {
		return err
	}
	delete(t.inventory, inventoryKey{p.BusinessID, productID})
	delete(t.products, productID)
	return nil
}
