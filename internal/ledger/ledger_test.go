package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/store/memory"
	"stockbook/backend/internal/tenant"
)

const biz = "biz-1"

func newStore(t *testing.T, productIDs ...string) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	_, err := s.CreateBusiness(ctx, domain.Business{ID: biz, Name: "Shop"})
	require.NoError(t, err)
	for _, id := range productIDs {
		_, err := s.CreateProduct(ctx, tenant.ForBusiness(biz), domain.Product{ID: id, BusinessID: biz, Name: id, Category: "general", Active: true})
		require.NoError(t, err)
	}
	return s
}

// run executes fn in one transaction with a fresh session and settles it.
func run(t *testing.T, s *memory.Store, l *Ledger, fn func(ctx context.Context, sess *Session) error) ([]Warning, error) {
	t.Helper()
	ctx := context.Background()
	var warnings []Warning
	err := s.InTx(ctx, func(tx store.Tx) error {
		sess := l.Begin(tx)
		if err := fn(ctx, sess); err != nil {
			return err
		}
		w, err := sess.Settle(ctx)
		warnings = w
		return err
	})
	return warnings, err
}

func stock(t *testing.T, s *memory.Store, productID string) domain.InventoryRecord {
	t.Helper()
	rec, err := s.GetInventory(context.Background(), tenant.ForBusiness(biz), productID)
	require.NoError(t, err)
	require.True(t, rec.Consistent(), "invariant broken: %+v", rec)
	return *rec
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Blocking, m)

	m, err = ParseMode(" Permissive ")
	require.NoError(t, err)
	assert.Equal(t, Permissive, m)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}

func TestReceiveIssueKeepsInvariant(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		if _, err := sess.Receive(ctx, biz, "p", 5); err != nil {
			return err
		}
		_, w, err := sess.Issue(ctx, biz, "p", 2, Blocking)
		assert.Nil(t, w)
		return err
	})
	require.NoError(t, err)

	rec := stock(t, s, "p")
	assert.EqualValues(t, 5, rec.QuantityIn)
	assert.EqualValues(t, 2, rec.QuantityOut)
	assert.EqualValues(t, 3, rec.CurrentStock)
}

func TestBlockingIssueRejectsWithoutMutation(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, err := sess.Receive(ctx, biz, "p", 1)
		return err
	})
	require.NoError(t, err)

	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, _, err := sess.Issue(ctx, biz, "p", 2, Blocking)
		if assert.ErrorIs(t, err, store.ErrInsufficientStock) {
			rec, ok := sess.Record(biz, "p")
			require.True(t, ok)
			assert.EqualValues(t, 1, rec.CurrentStock)
		}
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.EqualValues(t, 1, stock(t, s, "p").CurrentStock)
}

func TestPermissiveIssueWarns(t *testing.T) {
	s := newStore(t, "p")
	l := New(Permissive)

	warnings, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, w, err := sess.Issue(ctx, biz, "p", 3, Permissive)
		require.NotNil(t, w)
		assert.EqualValues(t, -3, w.CurrentStock)
		return err
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "p", warnings[0].ProductID)
	assert.EqualValues(t, -3, stock(t, s, "p").CurrentStock)
}

func TestAdjustBoundary(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, err := sess.Receive(ctx, biz, "p", 2)
		return err
	})
	require.NoError(t, err)

	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, err := sess.Adjust(ctx, biz, "p", -3, "shrinkage", "alice")
		return err
	})
	require.ErrorIs(t, err, store.ErrNegativeStock)
	assert.EqualValues(t, 2, stock(t, s, "p").CurrentStock)

	var adj domain.StockAdjustment
	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		adj, err = sess.Adjust(ctx, biz, "p", -2, "shrinkage", "alice")
		return err
	})
	require.NoError(t, err)
	rec := stock(t, s, "p")
	assert.EqualValues(t, 0, rec.CurrentStock)
	assert.EqualValues(t, -2, rec.AdjustmentTotal)
	assert.Equal(t, rec.ID, adj.InventoryID)

	logged, err := s.GetAdjustment(context.Background(), tenant.ForBusiness(biz), adj.ID)
	require.NoError(t, err)
	assert.EqualValues(t, -2, logged.Quantity)
	assert.Equal(t, "alice", logged.AdjustedBy)
}

func TestAdjustIsBlockingInPermissiveMode(t *testing.T) {
	s := newStore(t, "p")
	_, err := run(t, s, New(Permissive), func(ctx context.Context, sess *Session) error {
		_, err := sess.Adjust(ctx, biz, "p", -1, "", "alice")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNegativeStock)
}

func TestZeroQuantitiesAreInvalid(t *testing.T) {
	s := newStore(t, "p")
	_, err := run(t, s, New(Blocking), func(ctx context.Context, sess *Session) error {
		_, err := sess.Receive(ctx, biz, "p", 0)
		assert.ErrorIs(t, err, store.ErrInvalidTransaction)
		_, _, err = sess.Issue(ctx, biz, "p", -1, Blocking)
		assert.ErrorIs(t, err, store.ErrInvalidTransaction)
		_, err = sess.Adjust(ctx, biz, "p", 0, "", "alice")
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReverseUsesRecordedEffect(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	var first Effect
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		first, err = sess.Receive(ctx, biz, "p", 10)
		return err
	})
	require.NoError(t, err)

	// two consecutive edits: 10 -> 7 -> 4
	current := first
	for _, qty := range []int64{7, 4} {
		_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
			if err := sess.Reverse(ctx, current); err != nil {
				return err
			}
			next, err := sess.Receive(ctx, biz, "p", qty)
			current = next
			return err
		})
		require.NoError(t, err)
	}

	rec := stock(t, s, "p")
	assert.EqualValues(t, 4, rec.QuantityIn)
	assert.EqualValues(t, 4, rec.CurrentStock)
}

func TestSettleRejectsReversalBelowZeroWhenBlocking(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	var receipt Effect
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		receipt, err = sess.Receive(ctx, biz, "p", 5)
		if err != nil {
			return err
		}
		_, _, err = sess.Issue(ctx, biz, "p", 3, Blocking)
		return err
	})
	require.NoError(t, err)

	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		return sess.Reverse(ctx, receipt)
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.EqualValues(t, 2, stock(t, s, "p").CurrentStock)

	warnings, err := run(t, s, New(Permissive), func(ctx context.Context, sess *Session) error {
		return sess.Reverse(ctx, receipt)
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.EqualValues(t, -3, stock(t, s, "p").CurrentStock)
}

func TestSettleAllowsTemporaryNegativeWithinOperation(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	var receipt Effect
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		receipt, err = sess.Receive(ctx, biz, "p", 10)
		if err != nil {
			return err
		}
		_, _, err = sess.Issue(ctx, biz, "p", 3, Blocking)
		return err
	})
	require.NoError(t, err)

	// reversing 10 drops to -3 before the new receipt of 5 lands
	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		if err := sess.Reverse(ctx, receipt); err != nil {
			return err
		}
		_, err := sess.Receive(ctx, biz, "p", 5)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stock(t, s, "p").CurrentStock)
}

func TestReverseAdjustmentAppendsCompensatingRow(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	var adj domain.StockAdjustment
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		adj, err = sess.Adjust(ctx, biz, "p", 4, "count", "alice")
		return err
	})
	require.NoError(t, err)

	var reversal domain.StockAdjustment
	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		reversal, err = sess.ReverseAdjustment(ctx, adj, "bob")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, adj.ID, reversal.ReversalOf)
	assert.EqualValues(t, -4, reversal.Quantity)
	assert.EqualValues(t, 0, stock(t, s, "p").CurrentStock)

	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, err := sess.ReverseAdjustment(ctx, reversal, "bob")
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	all, err := s.ListAdjustments(context.Background(), tenant.ForBusiness(biz), domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReverseAdjustmentIsBlocking(t *testing.T) {
	s := newStore(t, "p")
	l := New(Blocking)

	var adj domain.StockAdjustment
	_, err := run(t, s, l, func(ctx context.Context, sess *Session) error {
		var err error
		adj, err = sess.Adjust(ctx, biz, "p", 4, "count", "alice")
		if err != nil {
			return err
		}
		_, _, err = sess.Issue(ctx, biz, "p", 3, Blocking)
		return err
	})
	require.NoError(t, err)

	_, err = run(t, s, l, func(ctx context.Context, sess *Session) error {
		_, err := sess.ReverseAdjustment(ctx, adj, "bob")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNegativeStock)
	assert.EqualValues(t, 1, stock(t, s, "p").CurrentStock)
}

func TestLockOrdersProducts(t *testing.T) {
	rec := &recordingStore{}
	sess := New(Blocking).Begin(rec)

	require.NoError(t, sess.Lock(context.Background(), biz, "c", "a", "b", "a"))
	require.NoError(t, sess.Lock(context.Background(), biz, "b", "d"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, rec.locked)
}

func TestLockRequiresBusiness(t *testing.T) {
	sess := New(Blocking).Begin(&recordingStore{})
	err := sess.Lock(context.Background(), "", "a")
	assert.ErrorIs(t, err, store.ErrScopeNotSet)
}

type recordingStore struct {
	locked []string
}

func (r *recordingStore) LockInventory(_ context.Context, scope tenant.Scope, productID string) (*domain.InventoryRecord, error) {
	r.locked = append(r.locked, productID)
	return &domain.InventoryRecord{ID: "inv-" + productID, BusinessID: scope.BusinessID(), ProductID: productID}, nil
}

func (r *recordingStore) SaveInventory(context.Context, tenant.Scope, domain.InventoryRecord) error {
	return nil
}

func (r *recordingStore) InsertAdjustment(context.Context, tenant.Scope, domain.StockAdjustment) error {
	return nil
}
