package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// Store runs reconciliation transactions against MySQL.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to the given database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// WithTx runs fn in a READ COMMITTED transaction.  Payment, booking and
// seat reads lock their rows (SELECT ... FOR UPDATE) and every other read
// sees the latest committed data, so a step re-reading the ledger after
// taking the payment lock observes what a racing step committed.
func (s *Store) WithTx(ctx context.Context, fn func(tx reconcile.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&sqlTx{tx: tx, lock: " FOR UPDATE"}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	committed = true
	return nil
}

// WithReadTx runs fn in a read-only REPEATABLE READ transaction, giving
// it one consistent snapshot without taking locks.
func (s *Store) WithReadTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx})
}

// sqlTx implements reconcile.Tx on top of *sql.Tx.  lock is appended to
// row lookups of payments, bookings and seats.
type sqlTx struct {
	tx   *sql.Tx
	lock string
}

var _ reconcile.Tx = (*sqlTx)(nil)

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullUint(u *uint64) sql.NullInt64 {
	if u == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*u), Valid: true}
}
