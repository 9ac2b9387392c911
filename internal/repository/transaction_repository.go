package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/model"
)

const transactionColumns = `id, payment_id, provider, type, amount, status, external_id, idempotency_key,
       reason, note, retry_count, max_retries, created_at`

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		e          model.Transaction
		externalID sql.NullString
		key        sql.NullString
		reason     sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.PaymentID, &e.Provider, &e.Type, &e.Amount, &e.Status, &externalID, &key,
		&reason, &e.Note, &e.RetryCount, &e.MaxRetries, &e.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	e.ExternalID = stringPtr(externalID)
	e.IdempotencyKey = stringPtr(key)
	e.Reason = intPtr(reason)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (t *sqlTx) queryTransactions(ctx context.Context, q string, args ...any) ([]model.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// AppendTransaction inserts a ledger entry.  A repeated idempotency key
// fails with reconcile.ErrDuplicateKey.
func (t *sqlTx) AppendTransaction(ctx context.Context, e *model.Transaction) error {
	const q = `INSERT INTO payment_transactions
                   (payment_id, provider, type, amount, status, external_id, idempotency_key,
                    reason, note, retry_count, max_retries, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, e.PaymentID, e.Provider, e.Type, e.Amount, e.Status,
		nullString(e.ExternalID), nullString(e.IdempotencyKey), nullInt(e.Reason), e.Note,
		e.RetryCount, e.MaxRetries, e.CreatedAt)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// TransactionByID loads one ledger entry.
func (t *sqlTx) TransactionByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = ?` + t.lock
	return scanTransaction(t.tx.QueryRowContext(ctx, q, id))
}

// TransactionByKey loads the entry carrying an idempotency key.
func (t *sqlTx) TransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE idempotency_key = ?`
	return scanTransaction(t.tx.QueryRowContext(ctx, q, key))
}

// TransactionsByExternalID lists the entries of one provider transaction
// in insertion order.
func (t *sqlTx) TransactionsByExternalID(ctx context.Context, provider model.Provider, externalID string) ([]model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions
           WHERE provider = ? AND external_id = ? ORDER BY id`
	return t.queryTransactions(ctx, q, provider, externalID)
}

// TransactionsByPayment lists the full ledger of a payment in insertion
// order.
func (t *sqlTx) TransactionsByPayment(ctx context.Context, paymentID uint64) ([]model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE payment_id = ? ORDER BY id`
	return t.queryTransactions(ctx, q, paymentID)
}

// OpenedBetween lists successful OPEN entries of provider created in
// [from, to], oldest first.
func (t *sqlTx) OpenedBetween(ctx context.Context, provider model.Provider, from, to time.Time) ([]model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions
           WHERE provider = ? AND type = 'OPEN' AND status = 'SUCCESS' AND created_at BETWEEN ? AND ?
           ORDER BY created_at, id`
	return t.queryTransactions(ctx, q, provider, from, to)
}

// IncrementRetry bumps the retry counter, the only column of an entry
// that ever changes.
func (t *sqlTx) IncrementRetry(ctx context.Context, id uint64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE payment_transactions SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}
