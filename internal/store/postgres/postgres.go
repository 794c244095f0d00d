package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)

// querier is the part of *sql.DB and *sql.Tx the readers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{reader: reader{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx runs fn at READ COMMITTED. Inventory rows and edited headers are taken
// with SELECT ... FOR UPDATE, so competing writers queue on the row lock
// instead of failing; deadlocks and serialization failures surface as
// store.ErrConcurrentModification.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{reader: reader{q: sqlTx, lock: true}, tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

type pgTx struct {
	reader
	tx *sql.Tx
}

// mapError turns Postgres error codes into store sentinels. Anything else is
// returned unchanged.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConcurrentModification, pgErr.Message)
	case "23505", "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, pgErr.Message)
	case "23503":
		return store.ErrNotFound
	}
	return err
}

// scopeArgs returns the arguments for the "($n::boolean OR business_id = $m)"
// filter every scoped query carries.
func scopeArgs(scope tenant.Scope) (bool, string, error) {
	businessID, all, err := scope.Filter()
	return all, businessID, err
}

// visible fails closed on an unset scope and hides other businesses behind
// store.ErrNotFound.
func visible(scope tenant.Scope, businessID string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	if !scope.Allows(businessID) {
		return store.ErrNotFound
	}
	return nil
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func affectedOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

// nullLimit maps a non-positive limit onto LIMIT NULL, which Postgres reads
// as no limit.
func nullLimit(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}
