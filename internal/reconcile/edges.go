package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// Edge is one atomic move of the (Payment, Booking, Seat) triple.  Each
// pair holds the required source status and the target status.
type Edge struct {
	Name    string
	Payment [2]model.PaymentStatus
	Booking [2]model.BookingStatus
	Seat    [2]model.SeatStatus
}

var (
	EdgeConfirm = Edge{
		Name:    "provider confirms",
		Payment: [2]model.PaymentStatus{model.PaymentPending, model.PaymentCompleted},
		Booking: [2]model.BookingStatus{model.BookingPending, model.BookingConfirmed},
		Seat:    [2]model.SeatStatus{model.SeatReserved, model.SeatOccupied},
	}
	EdgeVoidBeforeConfirm = Edge{
		Name:    "provider voids before confirm",
		Payment: [2]model.PaymentStatus{model.PaymentPending, model.PaymentCancelled},
		Booking: [2]model.BookingStatus{model.BookingPending, model.BookingCancelled},
		Seat:    [2]model.SeatStatus{model.SeatReserved, model.SeatAvailable},
	}
	EdgeVoidAfterConfirm = Edge{
		Name:    "provider voids after confirm",
		Payment: [2]model.PaymentStatus{model.PaymentCompleted, model.PaymentCancelled},
		Booking: [2]model.BookingStatus{model.BookingConfirmed, model.BookingCancelled},
		Seat:    [2]model.SeatStatus{model.SeatOccupied, model.SeatAvailable},
	}
	EdgeTimeout = Edge{
		Name:    "timeout before confirm",
		Payment: [2]model.PaymentStatus{model.PaymentPending, model.PaymentCancelled},
		Booking: [2]model.BookingStatus{model.BookingPending, model.BookingCancelled},
		Seat:    [2]model.SeatStatus{model.SeatReserved, model.SeatAvailable},
	}
	// EdgeOrphaned closes a payment whose booking was settled by another
	// payment.  Booking and seat stay as they are, so it is applied by the
	// sweep directly and never through transition.
	EdgeOrphaned = Edge{
		Name:    "payment orphaned by settled booking",
		Payment: [2]model.PaymentStatus{model.PaymentPending, model.PaymentCancelled},
	}
)

// transition applies e to p and its booking and seat through tx.  Fields
// of p other than Status must already carry their new values; p is
// written as a whole.  Any source status mismatch aborts the edge
// before a single row is written.
func transition(ctx context.Context, tx Tx, p *model.Payment, e Edge, now time.Time) error {
	if p.Status != e.Payment[0] {
		return fmt.Errorf("%w: %s needs payment %s, have %s", ErrInvalidState, e.Name, e.Payment[0], p.Status)
	}
	b, err := tx.BookingByID(ctx, p.BookingID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("%w: booking %d", ErrBookingNotFound, p.BookingID)
		}
		return fmt.Errorf("load booking %d: %w", p.BookingID, err)
	}
	if b.Status != e.Booking[0] {
		return fmt.Errorf("%w: %s needs booking %s, have %s", ErrBookingState, e.Name, e.Booking[0], b.Status)
	}
	s, err := tx.SeatByID(ctx, b.SeatID)
	if err != nil {
		return fmt.Errorf("load seat %d: %w", b.SeatID, err)
	}
	if s.Status != e.Seat[0] {
		return fmt.Errorf("%w: %s needs seat %s, have %s", ErrInvalidState, e.Name, e.Seat[0], s.Status)
	}

	p.Status = e.Payment[1]
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("update payment %d: %w", p.ID, err)
	}
	if err := tx.UpdateBookingStatus(ctx, b.ID, e.Booking[1], now); err != nil {
		return fmt.Errorf("update booking %d: %w", b.ID, err)
	}
	if err := tx.UpdateSeatStatus(ctx, s.ID, e.Seat[1], now); err != nil {
		return fmt.Errorf("update seat %d: %w", s.ID, err)
	}
	return nil
}
