package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// BookingByID loads a booking, locking it inside write transactions.
func (t *sqlTx) BookingByID(ctx context.Context, id uint64) (*model.Booking, error) {
	q := `SELECT id, session_id, seat_id, user_id, status, expires_at, total_price, created_at, updated_at
            FROM bookings WHERE id = ?` + t.lock
	var b model.Booking
	var userID sql.NullInt64
	err := t.tx.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.SessionID, &b.SeatID, &userID, &b.Status, &b.ExpiresAt, &b.TotalPrice, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	b.UserID = uintPtr(userID)
	b.ExpiresAt = b.ExpiresAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// UpdateBookingStatus moves a booking to status.
func (t *sqlTx) UpdateBookingStatus(ctx context.Context, id uint64, status model.BookingStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}

// SeatByID loads a session seat, locking it inside write transactions.
func (t *sqlTx) SeatByID(ctx context.Context, id uint64) (*model.Seat, error) {
	q := `SELECT id, session_id, status, updated_at FROM session_seats WHERE id = ?` + t.lock
	var s model.Seat
	if err := t.tx.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.SessionID, &s.Status, &s.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// UpdateSeatStatus moves a session seat to status.
func (t *sqlTx) UpdateSeatStatus(ctx context.Context, id uint64, status model.SeatStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE session_seats SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return translate(err)
	}
	return expectRow(res)
}
