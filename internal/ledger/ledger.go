// Package ledger keeps the per-(business, product) stock totals.
//
// Each record holds three cumulative fields and the derived current stock:
//
//	current_stock = quantity_in - quantity_out + adjustment_total
//
// A Session groups the primitives of one coordinated mutation inside a single
// store transaction. Reversals are computed from the recorded Effect, never
// from current state, so repeated edits cannot double count.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/metrics"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

type Mode string

const (
	// Blocking rejects any issue that would take stock below zero.
	Blocking Mode = "blocking"
	// Permissive lets stock go negative and reports a warning instead.
	Permissive Mode = "permissive"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", Blocking:
		return Blocking, nil
	case Permissive:
		return Permissive, nil
	default:
		return "", fmt.Errorf("unknown stock issue mode %q", raw)
	}
}

type Kind string

const (
	KindReceive Kind = "receive"
	KindIssue   Kind = "issue"
	KindAdjust  Kind = "adjust"
)

// Effect is the recorded delta of one primitive. Quantity is always the
// amount added to the field that Kind names.
type Effect struct {
	BusinessID string
	ProductID  string
	Kind       Kind
	Quantity   int64
}

type Warning struct {
	BusinessID   string
	ProductID    string
	CurrentStock int64
}

func (w Warning) Domain() domain.StockWarning {
	return domain.StockWarning{
		ProductID:    w.ProductID,
		CurrentStock: w.CurrentStock,
		Message:      fmt.Sprintf("stock for product %s is %d", w.ProductID, w.CurrentStock),
	}
}

// Store is the part of a store transaction the ledger writes through.
type Store interface {
	LockInventory(ctx context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error)
	SaveInventory(ctx context.Context, scope tenant.Scope, record domain.InventoryRecord) error
	InsertAdjustment(ctx context.Context, scope tenant.Scope, adjustment domain.StockAdjustment) error
}

type Ledger struct {
	mode Mode
	now  func() time.Time
}

func New(mode Mode) *Ledger {
	if mode != Permissive {
		mode = Blocking
	}
	return &Ledger{mode: mode, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Mode() Mode {
	return l.mode
}

// Begin starts a session bound to one transaction. A Session must not outlive
// the transaction nor be shared between goroutines.
func (l *Ledger) Begin(tx Store) *Session {
	return &Session{
		ledger:  l,
		tx:      tx,
		records: make(map[recordKey]*entry),
	}
}

type recordKey struct {
	businessID string
	productID  string
}

type entry struct {
	record    domain.InventoryRecord
	start     int64
	decreased bool
	// strict is set when a decrease happened under blocking rules.
	strict bool
}

type Session struct {
	ledger  *Ledger
	tx      Store
	records map[recordKey]*entry
	order   []recordKey
}

// Lock takes the row locks for productIDs in sorted order so that two
// sessions touching the same products cannot deadlock. Records already held
// by the session are skipped.
func (s *Session) Lock(ctx context.Context, businessID string, productIDs ...string) error {
	ids := slices.Clone(productIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		if _, err := s.entry(ctx, businessID, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) entry(ctx context.Context, businessID, productID string) (*entry, error) {
	key := recordKey{businessID: businessID, productID: productID}
	if e, ok := s.records[key]; ok {
		return e, nil
	}
	if strings.TrimSpace(businessID) == "" {
		return nil, store.ErrScopeNotSet
	}
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product_id is required", store.ErrInvalidTransaction)
	}
	rec, err := s.tx.LockInventory(ctx, tenant.ForBusiness(businessID), productID)
	if err != nil {
		return nil, fmt.Errorf("lock inventory %s: %w", productID, err)
	}
	if !rec.Consistent() {
		return nil, fmt.Errorf("inventory %s is inconsistent: stock %d, derived %d", rec.ID, rec.CurrentStock, rec.DerivedStock())
	}
	e := &entry{record: *rec, start: rec.CurrentStock}
	s.records[key] = e
	s.order = append(s.order, key)
	return e, nil
}

func (s *Session) save(ctx context.Context, e *entry) error {
	e.record.CurrentStock = e.record.DerivedStock()
	e.record.UpdatedAt = s.ledger.now()
	return s.tx.SaveInventory(ctx, tenant.ForBusiness(e.record.BusinessID), e.record)
}

// apply adds qty to the field named by kind and persists the record.
func (s *Session) apply(ctx context.Context, e *entry, kind Kind, qty int64) error {
	switch kind {
	case KindReceive:
		e.record.QuantityIn += qty
	case KindIssue:
		e.record.QuantityOut += qty
	case KindAdjust:
		e.record.AdjustmentTotal += qty
	default:
		return fmt.Errorf("%w: unknown effect kind %q", store.ErrInvalidTransaction, kind)
	}
	return s.save(ctx, e)
}

func (s *Session) Receive(ctx context.Context, businessID, productID string, qty int64) (Effect, error) {
	if qty <= 0 {
		observe(KindReceive, "invalid")
		return Effect{}, fmt.Errorf("%w: receive quantity must be positive", store.ErrInvalidTransaction)
	}
	e, err := s.entry(ctx, businessID, productID)
	if err != nil {
		return Effect{}, err
	}
	if err := s.apply(ctx, e, KindReceive, qty); err != nil {
		return Effect{}, err
	}
	observe(KindReceive, "applied")
	return Effect{BusinessID: businessID, ProductID: productID, Kind: KindReceive, Quantity: qty}, nil
}

// Issue records qty leaving stock. In blocking mode a result below zero fails
// with store.ErrInsufficientStock and nothing is written. In permissive mode
// the issue is applied and a Warning is returned.
func (s *Session) Issue(ctx context.Context, businessID, productID string, qty int64, mode Mode) (Effect, *Warning, error) {
	if qty <= 0 {
		observe(KindIssue, "invalid")
		return Effect{}, nil, fmt.Errorf("%w: issue quantity must be positive", store.ErrInvalidTransaction)
	}
	e, err := s.entry(ctx, businessID, productID)
	if err != nil {
		return Effect{}, nil, err
	}
	next := e.record.CurrentStock - qty
	if next < 0 && mode != Permissive {
		observe(KindIssue, "rejected")
		return Effect{}, nil, fmt.Errorf("%w: product %s has %d, requested %d", store.ErrInsufficientStock, productID, e.record.CurrentStock, qty)
	}
	if err := s.apply(ctx, e, KindIssue, qty); err != nil {
		return Effect{}, nil, err
	}
	e.decreased = true
	e.strict = e.strict || mode != Permissive
	effect := Effect{BusinessID: businessID, ProductID: productID, Kind: KindIssue, Quantity: qty}
	if next < 0 {
		observe(KindIssue, "warned")
		return effect, &Warning{BusinessID: businessID, ProductID: productID, CurrentStock: next}, nil
	}
	observe(KindIssue, "applied")
	return effect, nil, nil
}

// Adjust applies a signed manual correction and appends its log row. It is
// always blocking: a decrease that would leave stock negative fails with
// store.ErrNegativeStock.
func (s *Session) Adjust(ctx context.Context, businessID, productID string, delta int64, reason, actor string) (domain.StockAdjustment, error) {
	return s.adjust(ctx, businessID, productID, delta, reason, actor, "")
}

func (s *Session) adjust(ctx context.Context, businessID, productID string, delta int64, reason, actor, reversalOf string) (domain.StockAdjustment, error) {
	if delta == 0 {
		observe(KindAdjust, "invalid")
		return domain.StockAdjustment{}, fmt.Errorf("%w: adjustment quantity must not be zero", store.ErrInvalidTransaction)
	}
	e, err := s.entry(ctx, businessID, productID)
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	next := e.record.CurrentStock + delta
	if delta < 0 && next < 0 {
		observe(KindAdjust, "rejected")
		return domain.StockAdjustment{}, fmt.Errorf("%w: product %s has %d, adjustment %d", store.ErrNegativeStock, productID, e.record.CurrentStock, delta)
	}
	if err := s.apply(ctx, e, KindAdjust, delta); err != nil {
		return domain.StockAdjustment{}, err
	}
	if delta < 0 {
		e.decreased = true
		e.strict = true
	}

	adj := domain.StockAdjustment{
		ID:          xid.New("adj"),
		BusinessID:  businessID,
		ProductID:   productID,
		InventoryID: e.record.ID,
		Quantity:    delta,
		Reason:      strings.TrimSpace(reason),
		AdjustedBy:  actor,
		AdjustedAt:  s.ledger.now(),
		ReversalOf:  reversalOf,
	}
	if err := s.tx.InsertAdjustment(ctx, tenant.ForBusiness(businessID), adj); err != nil {
		return domain.StockAdjustment{}, fmt.Errorf("insert adjustment: %w", err)
	}
	observe(KindAdjust, "applied")
	return adj, nil
}

// Reverse subtracts a recorded effect from the same field it was added to.
// It does not check stock; Settle judges the final state once every effect of
// the operation has been applied.
func (s *Session) Reverse(ctx context.Context, effect Effect) error {
	if effect.Quantity == 0 {
		return nil
	}
	e, err := s.entry(ctx, effect.BusinessID, effect.ProductID)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, e, effect.Kind, -effect.Quantity); err != nil {
		return err
	}
	// Undoing a receipt or a positive adjustment takes stock away.
	if effect.Kind != KindIssue && effect.Quantity > 0 {
		e.decreased = true
		e.strict = e.strict || s.ledger.mode != Permissive
	}
	observe(effect.Kind, "reversed")
	return nil
}

// ReverseAdjustment appends the compensating row for adj. Like Adjust it is
// blocking.
func (s *Session) ReverseAdjustment(ctx context.Context, adj domain.StockAdjustment, actor string) (domain.StockAdjustment, error) {
	if adj.ReversalOf != "" {
		return domain.StockAdjustment{}, fmt.Errorf("%w: adjustment %s is itself a reversal", store.ErrInvalidTransaction, adj.ID)
	}
	reason := "reversal of " + adj.ID
	if adj.Reason != "" {
		reason += ": " + adj.Reason
	}
	return s.adjust(ctx, adj.BusinessID, adj.ProductID, -adj.Quantity, reason, actor, adj.ID)
}

// Settle checks the final state of every record the session touched. A record
// whose stock went down and ended negative fails the operation when the
// decrease happened under blocking rules and yields a Warning otherwise.
func (s *Session) Settle(ctx context.Context) ([]Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var warnings []Warning
	for _, key := range s.order {
		e := s.records[key]
		if !e.record.Consistent() {
			return nil, fmt.Errorf("inventory %s is inconsistent after update", e.record.ID)
		}
		if !e.decreased || e.record.CurrentStock >= 0 || e.record.CurrentStock >= e.start {
			continue
		}
		if e.strict {
			return nil, fmt.Errorf("%w: product %s would end at %d", store.ErrInsufficientStock, key.productID, e.record.CurrentStock)
		}
		warnings = append(warnings, Warning{BusinessID: key.businessID, ProductID: key.productID, CurrentStock: e.record.CurrentStock})
	}
	return warnings, nil
}

// Record returns the session's current view of a locked record.
func (s *Session) Record(businessID, productID string) (domain.InventoryRecord, bool) {
	e, ok := s.records[recordKey{businessID: businessID, productID: productID}]
	if !ok {
		return domain.InventoryRecord{}, false
	}
	return e.record, true
}

func observe(kind Kind, outcome string) {
	metrics.LedgerEvents.WithLabelValues(string(kind), outcome).Inc()
}
