package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stockbook/backend/internal/cache"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/ledger"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/metrics"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

type Options struct {
	// MaxConflictRetries bounds how often a coordinated mutation is re-run
	// after store.ErrConcurrentModification.
	MaxConflictRetries int
	StockCacheTTL      time.Duration
}

type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	stockCache cache.StockCache
	opts       Options
	fills      singleflight.Group
	now        func() time.Time

	// stockMu guards stockGen and orders cache invalidation against fills.
	stockMu  sync.Mutex
	stockGen map[string]uint64
}

func New(repo store.Repository, stockLedger *ledger.Ledger, stockCache cache.StockCache, opts Options) *Service {
	if stockLedger == nil {
		stockLedger = ledger.New(ledger.Blocking)
	}
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.StockCacheTTL <= 0 {
		opts.StockCacheTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		ledger:     stockLedger,
		stockCache: stockCache,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		stockGen:   make(map[string]uint64),
	}
}

func (s *Service) IssueMode() ledger.Mode {
	return s.ledger.Mode()
}

// mutate runs fn as one store transaction. A concurrent-modification failure
// re-runs the whole of fn with exponential backoff; every other error is
// final. fn must not keep state between attempts.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	started := time.Now()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.ConflictRetries.WithLabelValues(op).Inc()
			logger.From(ctx).Debug("retrying after conflict", zap.String("operation", op), zap.Int("attempt", attempt))
		}
		err := s.repo.InTx(ctx, fn)
		if err == nil || errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.MaxConflictRetries)), ctx))

	metrics.ObserveOperation(op, started, err)
	return err
}

// committed drops cached stock for the business and writes the audit line.
func (s *Service) committed(ctx context.Context, action string, businessID string, actor domain.Actor, fields ...zap.Field) {
	s.invalidateStock(ctx, businessID)
	fields = append([]zap.Field{
		zap.String("action", action),
		logger.BusinessID(businessID),
		logger.Actor(actor.Username),
	}, fields...)
	logger.From(ctx).Info("mutation committed", fields...)
}

// target resolves the business a create lands in.
func target(scope tenant.Scope, requested string) (string, tenant.Scope, error) {
	businessID, err := scope.Target(requested)
	if err != nil {
		return "", tenant.Scope{}, store.ScopeError(err)
	}
	return businessID, tenant.ForBusiness(businessID), nil
}

// narrow binds scope to the business of a row that was already read through
// it.
func narrow(scope tenant.Scope, businessID string) (tenant.Scope, error) {
	bound, err := scope.Narrow(businessID)
	if err != nil {
		return tenant.Scope{}, store.ScopeError(err)
	}
	return bound, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

func warningsOf(ws []ledger.Warning) []domain.StockWarning {
	if len(ws) == 0 {
		return nil
	}
	out := make([]domain.StockWarning, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Domain())
	}
	return out
}

func invoiceNo(prefix string, at time.Time, id string) string {
	suffix := id
	if i := strings.LastIndexByte(id, '-'); i >= 0 && len(id)-i > 6 {
		suffix = id[len(id)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(suffix))
}

// ledgerLine is what the stock ledger recorded for one purchase or sale line.
type ledgerLine struct {
	productID string
	quantity  int64
}

// rebook applies one coordinated edit: every reversal first, then every
// forward effect.
func (s *Service) rebook(ctx context.Context, sess *ledger.Session, businessID string, kind ledger.Kind, reversals, forwards []ledgerLine) error {
	for _, l := range reversals {
		effect := ledger.Effect{BusinessID: businessID, ProductID: l.productID, Kind: kind, Quantity: l.quantity}
		if err := sess.Reverse(ctx, effect); err != nil {
			return fmt.Errorf("reverse %s of %s: %w", kind, l.productID, err)
		}
	}
	for _, l := range forwards {
		var err error
		switch kind {
		case ledger.KindReceive:
			_, err = sess.Receive(ctx, businessID, l.productID, l.quantity)
		case ledger.KindIssue:
			_, _, err = sess.Issue(ctx, businessID, l.productID, l.quantity, s.ledger.Mode())
		default:
			err = invalid("unsupported line effect %q", kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func lockProducts(lines ...[]ledgerLine) []string {
	var ids []string
	for _, group := range lines {
		for _, l := range group {
			ids = append(ids, l.productID)
		}
	}
	return ids
}

func normalizeFilter(filter domain.ListFilter) domain.ListFilter {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return filter
}
