package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

const paymentColumns = `id, booking_id, owner_id, amount, provider, status, external_id, paid_at,
       refunded_amount, refunded_at, refund_reason, cancel_state, cancel_reason, cancelled_at,
       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

func uintPtr(i sql.NullInt64) *uint64 {
	if !i.Valid {
		return nil
	}
	v := uint64(i.Int64)
	return &v
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p            model.Payment
		ownerID      sql.NullInt64
		externalID   sql.NullString
		paidAt       sql.NullTime
		refundedAt   sql.NullTime
		refundReason sql.NullString
		cancelState  string
		cancelReason sql.NullInt64
		cancelledAt  sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.BookingID, &ownerID, &p.Amount, &p.Provider, &p.Status, &externalID, &paidAt,
		&p.RefundedAmount, &refundedAt, &refundReason, &cancelState, &cancelReason, &cancelledAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	p.OwnerID = uintPtr(ownerID)
	p.ExternalID = stringPtr(externalID)
	p.PaidAt = timePtr(paidAt)
	p.RefundedAt = timePtr(refundedAt)
	p.RefundReason = stringPtr(refundReason)
	p.CancelState = model.CancelState(cancelState)
	p.CancelReason = intPtr(cancelReason)
	p.CancelledAt = timePtr(cancelledAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (t *sqlTx) queryPayments(ctx context.Context, q string, args ...any) ([]model.Payment, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreatePayment inserts p and populates its generated ID.
func (t *sqlTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (booking_id, owner_id, amount, provider, status, external_id,
                                     cancel_state, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, p.BookingID, nullUint(p.OwnerID), p.Amount, p.Provider, p.Status,
		nullString(p.ExternalID), p.CancelState, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// PaymentByID loads a payment, locking it inside write transactions.
func (t *sqlTx) PaymentByID(ctx context.Context, id uint64) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?` + t.lock
	return scanPayment(t.tx.QueryRowContext(ctx, q, id))
}

// PaymentsByBooking lists every payment of a booking, oldest first.
func (t *sqlTx) PaymentsByBooking(ctx context.Context, bookingID uint64) ([]model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ? ORDER BY id` + t.lock
	return t.queryPayments(ctx, q, bookingID)
}

// PendingPaymentsBefore lists PENDING payments created before the cutoff
// with an id above afterID, in id order.  Rows are not locked; callers
// re-read each one.
func (t *sqlTx) PendingPaymentsBefore(ctx context.Context, before time.Time, afterID uint64, limit int) ([]model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
           WHERE status = 'PENDING' AND created_at < ? AND id > ?
           ORDER BY id LIMIT ?`
	return t.queryPayments(ctx, q, before, afterID, limit)
}

// UpdatePayment writes every mutable column of p.
func (t *sqlTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	const q = `UPDATE payments SET status = ?, external_id = ?, paid_at = ?, refunded_amount = ?,
                      refunded_at = ?, refund_reason = ?, cancel_state = ?, cancel_reason = ?,
                      cancelled_at = ?, updated_at = ?
               WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, q, p.Status, nullString(p.ExternalID), nullTime(p.PaidAt), p.RefundedAmount,
		nullTime(p.RefundedAt), nullString(p.RefundReason), p.CancelState, nullInt(p.CancelReason),
		nullTime(p.CancelledAt), p.UpdatedAt, p.ID)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}

// expectRow reports ErrRecordNotFound when an update matched no row.
// The DSN sets clientFoundRows so matched rows count even when unchanged.
func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reconcile.ErrRecordNotFound
	}
	return nil
}
